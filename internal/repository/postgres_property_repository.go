package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"landgrid/internal/domain/model"
	"landgrid/internal/infrastructure/database"
	"landgrid/internal/infrastructure/logger"
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// PostgresPropertyRepository PostgreSQLを使用したプロパティ・ユーザーストア
type PostgresPropertyRepository struct {
	client *database.PostgreSQLClient
	log    *slog.Logger
}

// NewPostgresPropertyRepository 新しいPostgresPropertyRepositoryインスタンスを作成
func NewPostgresPropertyRepository(client *database.PostgreSQLClient, log *slog.Logger) *PostgresPropertyRepository {
	return &PostgresPropertyRepository{
		client: client,
		log:    logger.OrDefault(log),
	}
}

const propertyColumns = `p.id, p.owner, p.price, p.name, p.description, p.address, p.for_sale, p.sale_price,
	p.created_at, p.updated_at,
	COALESCE((SELECT array_agg(c.cell ORDER BY c.cell) FROM property_cells c WHERE c.property_id = p.id), '{}')`

const bidColumns = `b.id, b.property_id, b.bidder, b.amount, b.message, b.status, b.created_at, b.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanProperty 1行をプロパティに変換する。不正なセルIDはログに残して読み飛ばす
func (r *PostgresPropertyRepository) scanProperty(row rowScanner) (*model.Property, error) {
	var (
		p                       model.Property
		name, description, addr sql.NullString
		salePrice               sql.NullInt64
		cells                   []string
	)
	if err := row.Scan(&p.ID, &p.Owner, &p.Price, &name, &description, &addr, &p.ForSale, &salePrice,
		&p.CreatedAt, &p.UpdatedAt, pq.Array(&cells)); err != nil {
		return nil, err
	}
	if name.Valid {
		p.Name = &name.String
	}
	if description.Valid {
		p.Description = &description.String
	}
	if addr.Valid {
		p.Address = &addr.String
	}
	if salePrice.Valid {
		p.SalePrice = &salePrice.Int64
	}
	p.Cells = parseCellsLenient(r.log, p.ID, cells)
	model.SortCells(p.Cells)
	return &p, nil
}

func parseCellsLenient(log *slog.Logger, propertyID string, values []string) []model.CellID {
	cells := make([]model.CellID, 0, len(values))
	for _, v := range values {
		c, err := model.ParseCellID(v)
		if err != nil {
			log.Warn("⚠️ 不正なセルIDを読み飛ばします", "property_id", propertyID, "error", err)
			continue
		}
		cells = append(cells, c)
	}
	return cells
}

func scanBid(row rowScanner) (*model.Bid, error) {
	var b model.Bid
	var status string
	if err := row.Scan(&b.ID, &b.PropertyID, &b.Bidder, &b.Amount, &b.Message, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = model.BidStatus(status)
	return &b, nil
}

func (r *PostgresPropertyRepository) ListProperties(ctx context.Context, bbox *model.BoundingBox) ([]model.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties p`
	var args []interface{}
	if bbox != nil {
		b := BoundingBoxToBound(bbox)
		query += ` WHERE p.max_lng >= $1 AND p.min_lng <= $3 AND p.max_lat >= $2 AND p.min_lat <= $4`
		args = append(args, b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat())
	}
	query += ` ORDER BY p.created_at, p.id`

	rows, err := r.client.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("プロパティ一覧の取得失敗: %w", err)
	}
	defer rows.Close()

	properties := []model.Property{}
	ids := []string{}
	for rows.Next() {
		p, err := r.scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("プロパティ行の読み込み失敗: %w", err)
		}
		properties = append(properties, *p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プロパティ一覧の取得失敗: %w", err)
	}
	if len(ids) == 0 {
		return properties, nil
	}

	bids, err := r.queryBids(ctx, `WHERE b.status = 'active' AND b.property_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	byProperty := make(map[string][]model.Bid)
	for _, b := range bids {
		byProperty[b.PropertyID] = append(byProperty[b.PropertyID], b)
	}
	for i := range properties {
		properties[i].Bids = byProperty[properties[i].ID]
	}
	return properties, nil
}

func (r *PostgresPropertyRepository) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	row := r.client.DB.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties p WHERE p.id = $1`, id)
	p, err := r.scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPropertyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("プロパティの取得失敗: %w", err)
	}
	bids, err := r.queryBids(ctx, `WHERE b.status = 'active' AND b.property_id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(bids) > 0 {
		p.Bids = bids
	}
	return p, nil
}

func (r *PostgresPropertyRepository) FindOwnedCells(ctx context.Context, cells []model.CellID) ([]model.CellID, error) {
	return findOwnedCells(ctx, r.client.DB, cells)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func findOwnedCells(ctx context.Context, q queryer, cells []model.CellID) ([]model.CellID, error) {
	if len(cells) == 0 {
		return []model.CellID{}, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT cell FROM property_cells WHERE cell = ANY($1) ORDER BY cell`,
		pq.Array(model.CellStrings(cells)))
	if err != nil {
		return nil, fmt.Errorf("所有セルの検索失敗: %w", err)
	}
	defer rows.Close()

	owned := []model.CellID{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("所有セルの読み込み失敗: %w", err)
		}
		c, err := model.ParseCellID(s)
		if err != nil {
			continue
		}
		owned = append(owned, c)
	}
	model.SortCells(owned)
	return owned, rows.Err()
}

func (r *PostgresPropertyRepository) PurchaseCells(ctx context.Context, req *model.PurchaseRequest) (*model.Property, error) {
	cells := model.NewCellSet(req.Cells...).Sorted()
	bound, ok := model.CellsBound(cells)
	if !ok {
		return nil, model.ErrEmptySelection
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var tokens int64
		err := tx.QueryRowContext(ctx, `SELECT tokens FROM users WHERE id = $1 FOR UPDATE`, req.Owner).Scan(&tokens)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("残高の取得失敗: %w", err)
		}

		owned, err := findOwnedCells(ctx, tx, cells)
		if err != nil {
			return err
		}
		if len(owned) > 0 {
			return &model.OwnershipConflictError{Cells: owned}
		}
		if tokens < req.Price {
			return &model.InsufficientBalanceError{Required: req.Price, Available: tokens}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users SET tokens = tokens - $2 WHERE id = $1`, req.Owner, req.Price); err != nil {
			return fmt.Errorf("残高の更新失敗: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO properties(id, owner, price, address, min_lng, min_lat, max_lng, max_lat, bounds_wkt)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			req.ID, req.Owner, req.Price, nullString(req.Address),
			bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat(), CellsBoundsWKT(cells),
		); err != nil {
			return fmt.Errorf("プロパティの作成失敗: %w", err)
		}

		lngs := make([]int64, len(cells))
		lats := make([]int64, len(cells))
		for i, c := range cells {
			lngs[i], lats[i] = c.LngIndex, c.LatIndex
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO property_cells(cell, property_id, lng_index, lat_index)
			 SELECT unnest($1::text[]), $2, unnest($3::bigint[]), unnest($4::bigint[])`,
			pq.Array(model.CellStrings(cells)), req.ID, pq.Array(lngs), pq.Array(lats),
		); err != nil {
			return err
		}
		return nil
	})
	if isPQError(err, pqUniqueViolation) {
		// 同時購入で他のトランザクションが先にセルを確保した
		owned, findErr := r.FindOwnedCells(ctx, cells)
		if findErr != nil || len(owned) == 0 {
			return nil, fmt.Errorf("セルの登録が競合しました: %w", err)
		}
		return nil, &model.OwnershipConflictError{Cells: owned}
	}
	if err != nil {
		return nil, err
	}
	return r.GetProperty(ctx, req.ID)
}

func (r *PostgresPropertyRepository) UpdateProperty(ctx context.Context, id, actor string, req *model.UpdatePropertyRequest) (*model.Property, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		p, err := r.scanProperty(tx.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties p WHERE p.id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrPropertyNotFound
		}
		if err != nil {
			return fmt.Errorf("プロパティの取得失敗: %w", err)
		}
		if p.Owner != actor {
			return model.ErrForbidden
		}
		req.Apply(p)
		if p.ForSale && p.SalePrice == nil {
			price := p.Price
			p.SalePrice = &price
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE properties SET name = $2, description = $3, for_sale = $4, sale_price = $5, updated_at = now() WHERE id = $1`,
			id, nullString(p.Name), nullString(p.Description), p.ForSale, nullInt64(p.SalePrice))
		if err != nil {
			return fmt.Errorf("プロパティの更新失敗: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetProperty(ctx, id)
}

func (r *PostgresPropertyRepository) BuyListedProperty(ctx context.Context, id, buyer string) (*model.Property, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var forSale bool
		var salePrice sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT for_sale, sale_price FROM properties WHERE id = $1 FOR UPDATE`, id).Scan(&forSale, &salePrice)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrPropertyNotFound
		}
		if err != nil {
			return fmt.Errorf("プロパティの取得失敗: %w", err)
		}
		if !forSale || !salePrice.Valid {
			return model.ErrNotForSale
		}
		return transferTx(ctx, tx, id, buyer, salePrice.Int64, "")
	})
	if err != nil {
		return nil, err
	}
	return r.GetProperty(ctx, id)
}

// transferTx 買い手から所有者へ代金を払い、所有者を入れ替えて残りの入札を辞退扱いにする
func transferTx(ctx context.Context, tx *sql.Tx, propertyID, buyer string, amount int64, keepBidID string) error {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT owner FROM properties WHERE id = $1 FOR UPDATE`, propertyID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrPropertyNotFound
	}
	if err != nil {
		return fmt.Errorf("所有者の取得失敗: %w", err)
	}
	if owner == buyer {
		return model.ErrForbidden
	}

	// デッドロックを避けるためID順にロックする
	balances := make(map[string]int64, 2)
	rows, err := tx.QueryContext(ctx, `SELECT id, tokens FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array([]string{owner, buyer}))
	if err != nil {
		return fmt.Errorf("残高の取得失敗: %w", err)
	}
	for rows.Next() {
		var userID string
		var tokens int64
		if err := rows.Scan(&userID, &tokens); err != nil {
			rows.Close()
			return fmt.Errorf("残高の読み込み失敗: %w", err)
		}
		balances[userID] = tokens
	}
	rows.Close()

	available, ok := balances[buyer]
	if !ok {
		return model.ErrUserNotFound
	}
	if available < amount {
		return &model.InsufficientBalanceError{Required: amount, Available: available}
	}

	stmts := []struct {
		query string
		args  []interface{}
	}{
		{`UPDATE users SET tokens = tokens - $2 WHERE id = $1`, []interface{}{buyer, amount}},
		{`UPDATE users SET tokens = tokens + $2 WHERE id = $1`, []interface{}{owner, amount}},
		{`UPDATE properties SET owner = $2, price = $3, for_sale = FALSE, sale_price = NULL, updated_at = now() WHERE id = $1`,
			[]interface{}{propertyID, buyer, amount}},
		{`UPDATE bids SET status = 'declined', updated_at = now() WHERE property_id = $1 AND status = 'active' AND id <> $2`,
			[]interface{}{propertyID, keepBidID}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("所有権の移転に失敗: %w", err)
		}
	}
	return nil
}

func (r *PostgresPropertyRepository) CreateBid(ctx context.Context, bid *model.Bid) (*model.Bid, error) {
	row := r.client.DB.QueryRowContext(ctx,
		`INSERT INTO bids AS b (id, property_id, bidder, amount, message, status)
		 VALUES ($1, $2, $3, $4, $5, 'active')
		 RETURNING `+bidColumns,
		bid.ID, bid.PropertyID, bid.Bidder, bid.Amount, bid.Message)
	created, err := scanBid(row)
	if isPQError(err, pqForeignKeyViolation) {
		if strings.Contains(err.Error(), "bidder") {
			return nil, model.ErrUserNotFound
		}
		return nil, model.ErrPropertyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("入札の作成失敗: %w", err)
	}
	return created, nil
}

func (r *PostgresPropertyRepository) UpdateBidStatus(ctx context.Context, bidID, actor string, status model.BidStatus) (*model.Bid, error) {
	var updated *model.Bid
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		bid, err := scanBid(tx.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids b WHERE b.id = $1 FOR UPDATE`, bidID))
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrBidNotFound
		}
		if err != nil {
			return fmt.Errorf("入札の取得失敗: %w", err)
		}
		if bid.Status != model.BidActive {
			return fmt.Errorf("%w: 入札は既に %s です", model.ErrInvalidBid, bid.Status)
		}

		var owner string
		if err := tx.QueryRowContext(ctx, `SELECT owner FROM properties WHERE id = $1`, bid.PropertyID).Scan(&owner); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrPropertyNotFound
			}
			return fmt.Errorf("所有者の取得失敗: %w", err)
		}

		switch status {
		case model.BidCancelled:
			if bid.Bidder != actor {
				return model.ErrForbidden
			}
		case model.BidDeclined:
			if owner != actor {
				return model.ErrForbidden
			}
		case model.BidAccepted:
			if owner != actor {
				return model.ErrForbidden
			}
			if err := transferTx(ctx, tx, bid.PropertyID, bid.Bidder, bid.Amount, bid.ID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: 状態 %q には変更できません", model.ErrInvalidBid, status)
		}

		updated, err = scanBid(tx.QueryRowContext(ctx,
			`UPDATE bids AS b SET status = $2, updated_at = now() WHERE b.id = $1 RETURNING `+bidColumns,
			bidID, string(status)))
		if err != nil {
			return fmt.Errorf("入札の更新失敗: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresPropertyRepository) ListBidsMade(ctx context.Context, bidder string) ([]model.Bid, error) {
	return r.queryBids(ctx, `WHERE b.bidder = $1`, bidder)
}

func (r *PostgresPropertyRepository) ListBidsReceived(ctx context.Context, owner string) ([]model.Bid, error) {
	return r.queryBids(ctx, `JOIN properties p ON p.id = b.property_id WHERE p.owner = $1`, owner)
}

func (r *PostgresPropertyRepository) queryBids(ctx context.Context, where string, args ...interface{}) ([]model.Bid, error) {
	rows, err := r.client.DB.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids b `+where+` ORDER BY b.created_at, b.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("入札一覧の取得失敗: %w", err)
	}
	defer rows.Close()

	bids := []model.Bid{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("入札行の読み込み失敗: %w", err)
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

func (r *PostgresPropertyRepository) GetUser(ctx context.Context, id string) (*model.UserProfile, error) {
	var u model.UserProfile
	err := r.client.DB.QueryRowContext(ctx, `SELECT id, tokens, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Tokens, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得失敗: %w", err)
	}
	return &u, nil
}

func (r *PostgresPropertyRepository) EnsureUser(ctx context.Context, id string, initialTokens int64) (*model.UserProfile, error) {
	if _, err := r.client.DB.ExecContext(ctx,
		`INSERT INTO users(id, tokens) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, initialTokens); err != nil {
		return nil, fmt.Errorf("ユーザーの作成失敗: %w", err)
	}
	return r.GetUser(ctx, id)
}

func (r *PostgresPropertyRepository) CreditTokens(ctx context.Context, id string, amount int64) (*model.UserProfile, error) {
	var u model.UserProfile
	err := r.client.DB.QueryRowContext(ctx,
		`UPDATE users SET tokens = tokens + $2 WHERE id = $1 RETURNING id, tokens, created_at`, id, amount).
		Scan(&u.ID, &u.Tokens, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("トークンの付与失敗: %w", err)
	}
	return &u, nil
}

func (r *PostgresPropertyRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.client.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始失敗: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミット失敗: %w", err)
	}
	return nil
}

func isPQError(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
