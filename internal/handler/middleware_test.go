package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newIPRateLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }

	first := l.get("10.0.0.1")
	l.get("10.0.0.2")
	assert.Equal(t, 2, l.size())
	assert.Same(t, first, l.get("10.0.0.1"), "アクティブなIPは同じリミッターを使う")

	now = now.Add(30 * time.Second)
	l.get("10.0.0.1")
	assert.Equal(t, 2, l.size(), "掃除間隔内は破棄しない")

	now = now.Add(45 * time.Second)
	l.get("10.0.0.3")
	assert.Equal(t, 2, l.size(), "1分以上アクセスのない10.0.0.2だけが破棄される")

	now = now.Add(2 * time.Minute)
	l.get("10.0.0.4")
	assert.Equal(t, 1, l.size())
	assert.NotSame(t, first, l.get("10.0.0.1"), "破棄後は新しいリミッターになる")
}
