package bridge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Vortex-9191/slack-question-bot/internal/session"
)

// Dedup drops repeated deliveries of the same inbound Slack event, such as
// Socket Mode redeliveries or a double-clicked submit button. Keys expire
// after the TTL so memory stays bounded.
type Dedup struct {
	mu     sync.Mutex
	seen   *session.Store[struct{}]
	logger *slog.Logger
}

// NewDedup creates a deduplicator remembering up to maxEntries keys for ttl.
func NewDedup(ttl time.Duration, maxEntries int, logger *slog.Logger) *Dedup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dedup{
		seen:   session.New[struct{}](session.Config{TTL: ttl, MaxEntries: maxEntries}),
		logger: logger,
	}
}

// Seen returns true if the key has already been processed. If not, marks it
// as seen. Keys should be prefixed by event type, e.g. "view:V123". Empty
// keys are never considered duplicates.
func (d *Dedup) Seen(key string) bool {
	if d == nil || key == "" || key[len(key)-1] == ':' {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen.Get(key); ok {
		d.logger.Debug("dropping duplicate event", "key", key)
		return true
	}
	d.seen.Put(key, struct{}{})
	return false
}
