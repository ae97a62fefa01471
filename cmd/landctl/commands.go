package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/robfig/cron/v3"

	"landgrid/internal/config"
	"landgrid/internal/domain/model"
	"landgrid/internal/domain/service"
	"landgrid/internal/infrastructure/events"
	"landgrid/internal/infrastructure/metrics"
	"landgrid/internal/usecase"
)

func (s *session) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "register":
		return s.registerCmd(ctx)
	case "profile":
		return s.profileCmd(ctx)
	case "features":
		return s.featuresCmd(ctx, args)
	case "select":
		return s.selectCmd(ctx, args)
	case "clear":
		return s.clearCmd(ctx)
	case "buy":
		return s.buyCmd(ctx, args)
	case "watch":
		return s.watchCmd(ctx, args)
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

func (s *session) registerCmd(ctx context.Context) error {
	profile, err := s.store.RegisterUser(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("user %s: %d tokens\n", profile.ID, profile.Tokens)
	return nil
}

func (s *session) profileCmd(ctx context.Context) error {
	profile, err := s.store.GetProfile(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("user %s: %d tokens\n", profile.ID, profile.Tokens)
	return nil
}

func (s *session) featuresCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("features", flag.ExitOnError)
	withSelection := fs.Bool("selection", false, "include the current selection layer")
	_ = fs.Parse(args)

	s.loadState(ctx)
	features := s.reconciler.Features()
	if *withSelection {
		features = append(features, s.selection.Features()...)
	}
	return writeJSON(model.FeatureCollection(features))
}

// selectCmd 最初の座標でクリック、途中の座標でドラッグ、最後の座標で再クリックする
// 座標が1つだけならそのセルで選択を開始してすぐに終了する。選択済みのセルを外すことはない
func (s *session) selectCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("select", flag.ExitOnError)
	zoom := fs.Float64("zoom", model.MinGridZoom, "map zoom level")
	_ = fs.Parse(args)

	points := fs.Args()
	if len(points) == 0 {
		return errors.New("座標を lng,lat で1つ以上指定してください")
	}

	s.loadState(ctx)
	before := s.selection.Len()
	for i, p := range points {
		lng, lat, err := parsePoint(p)
		if err != nil {
			return err
		}
		switch {
		case i == 0:
			s.selection.PointerDown(lng, lat, *zoom)
		case i == len(points)-1:
			s.selection.PointerMove(lng, lat, *zoom)
			s.selection.PointerDown(lng, lat, *zoom)
		default:
			s.selection.PointerMove(lng, lat, *zoom)
		}
	}
	if len(points) == 1 && s.selection.State() == service.SelectionSelecting {
		lng, lat, _ := parsePoint(points[0])
		s.selection.PointerDown(lng, lat, *zoom)
	}
	s.selection.PointerUp()

	if err := s.saveSelection(ctx); err != nil {
		return err
	}
	fmt.Printf("selection: %d cells (was %d)\n", s.selection.Len(), before)
	for _, c := range s.selection.Cells() {
		fmt.Println(" ", c)
	}
	return nil
}

func (s *session) clearCmd(ctx context.Context) error {
	s.selection.Clear()
	if err := s.saveSelection(ctx); err != nil {
		return err
	}
	fmt.Println("selection cleared")
	return nil
}

func (s *session) buyCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("buy", flag.ExitOnError)
	yes := fs.Bool("yes", false, "confirm without prompting")
	_ = fs.Parse(args)

	s.loadState(ctx)
	wf := s.workflow(usecase.NotifierFunc(printNotification))

	quote, err := wf.Begin(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d cells at %s\n", len(quote.Cells), quote.Address)
	fmt.Printf("price: %d tokens/cell, total %d tokens\n", quote.BasePrice, quote.Total)

	if !*yes && !confirm("buy? [y/N] ") {
		wf.Cancel()
		fmt.Println("cancelled")
		return nil
	}

	resp, err := wf.Confirm(ctx, quote.ID)
	// 成功時は選択が空になる。失敗時は選択を残す
	if saveErr := s.saveSelection(ctx); saveErr != nil {
		s.log.Warn("⚠️ 選択の保存に失敗", "error", saveErr)
	}
	if err != nil {
		return err
	}
	fmt.Printf("property %s purchased\n", resp.Property.ID)
	return nil
}

func (s *session) watchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	schedule := fs.String("schedule", s.cfg.Client.RefreshSchedule, "cron schedule for periodic refresh")
	metricsAddr := fs.String("metrics", s.cfg.Client.MetricsAddr, "address to expose /metrics (optional)")
	noEvents := fs.Bool("no-events", false, "disable the websocket change feed")
	_ = fs.Parse(args)

	s.reconciler.OnChange(func(idx *service.OwnershipIndex) {
		own := 0
		for _, f := range service.ToRenderFeatures(idx, s.cfg.Client.UserID) {
			if f.IsOwnProperty {
				own++
			}
		}
		fmt.Printf("%s properties=%d cells=%d own=%d\n",
			time.Now().Format(time.RFC3339), len(idx.Properties()), idx.CellCount(), own)
	})
	s.loadState(ctx)

	c := cron.New()
	if _, err := c.AddFunc(*schedule, func() {
		if err := s.reconciler.RefreshCoalesced(ctx); err != nil {
			s.log.Warn("⚠️ 定期更新に失敗", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("スケジュールが不正です: %w", err)
	}
	c.Start()
	defer c.Stop()

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Warn("⚠️ メトリクスサーバーエラー", "error", err)
			}
		}()
		defer srv.Close()
	}

	if *noEvents {
		<-ctx.Done()
		return nil
	}
	sub, err := events.NewSubscriber(s.cfg.Client.ServerURL, s.cfg.Client.UserID, s.log)
	if err != nil {
		return err
	}
	err = sub.Run(ctx, func(e model.PropertiesChangedEvent) {
		s.log.Debug("変更通知", "seq", e.Seq, "property_id", e.PropertyID, "reason", e.Reason)
		if err := s.reconciler.RefreshCoalesced(ctx); err != nil {
			s.log.Warn("⚠️ 変更通知後の更新に失敗", "error", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func gridCmd(args []string, cfg *config.Config) error {
	fs := flag.NewFlagSet("grid", flag.ExitOnError)
	bbox := fs.String("bbox", "", "min_lng,min_lat,max_lng,max_lat")
	zoom := fs.Float64("zoom", model.MinGridZoom, "map zoom level")
	_ = fs.Parse(args)

	parts := strings.Split(*bbox, ",")
	if len(parts) != 4 {
		return errors.New("-bbox は min_lng,min_lat,max_lng,max_lat で指定してください")
	}
	minLng, minLat, err := parsePoint(parts[0] + "," + parts[1])
	if err != nil {
		return err
	}
	maxLng, maxLat, err := parsePoint(parts[2] + "," + parts[3])
	if err != nil {
		return err
	}
	bound := orb.Bound{Min: orb.Point{minLng, minLat}, Max: orb.Point{maxLng, maxLat}}
	return writeJSON(service.GridLines(bound, *zoom, cfg.Client.GridColor))
}

func printNotification(n usecase.Notification) {
	prefix := map[usecase.NotificationKind]string{
		usecase.NotifySuccess:  "✅",
		usecase.NotifyError:    "❌",
		usecase.NotifyWarning:  "⚠️",
		usecase.NotifyTreasure: "🎉",
	}[n.Kind]
	fmt.Fprintln(os.Stderr, prefix, n.Message)
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
