// Package directory enumerates the channels visible to the bot identity.
//
// A listing follows the conversations.list cursor chain until Slack reports
// no further pages, merging public and private channels into a single
// sequence. Listings are never cached: membership and visibility change
// between requests, so every resolution starts from a fresh enumeration.
//
// Failures are never masked. A fetch error, an exhausted rate-limit retry
// budget, or a cursor chain that does not end within MaxPages is returned
// to the caller instead of a truncated list.
package directory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

// ErrPageLimit is returned when the cursor chain is still open after
// MaxPages pages have been fetched.
var ErrPageLimit = errors.New("channel listing exceeded page limit")

// Channel is an immutable snapshot of one conversation.
type Channel struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	IsPrivate  bool   `json:"is_private" yaml:"is_private"`
	IsMember   bool   `json:"is_member" yaml:"is_member"`
	IsArchived bool   `json:"is_archived" yaml:"is_archived"`
}

// Options selects which channels a listing includes.
type Options struct {
	Public          bool
	Private         bool
	IncludeArchived bool
}

// AllChannels lists every non-archived public and private channel.
var AllChannels = Options{Public: true, Private: true}

func (o Options) types() []string {
	var types []string
	if o.Public {
		types = append(types, "public_channel")
	}
	if o.Private {
		types = append(types, "private_channel")
	}
	return types
}

// ConversationLister is the subset of *slack.Client the directory needs.
type ConversationLister interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
}

// Config configures a Directory.
type Config struct {
	API ConversationLister

	// PageSize is the conversations.list limit per page. Default: 1000.
	PageSize int
	// MaxPages caps the cursor chain. Default: 50.
	MaxPages int
	// CallTimeout bounds each page fetch. Default: 5s.
	CallTimeout time.Duration
	// PagesPerSecond paces page fetches across all listings. <= 0 disables pacing.
	PagesPerSecond float64
	// RetryBudget bounds the total time spent retrying rate-limited pages
	// of a single fetch. Default: 20s.
	RetryBudget time.Duration
	// NewBackOff overrides the retry schedule. Nil uses an exponential
	// schedule limited by RetryBudget.
	NewBackOff func() backoff.BackOff

	Logger *slog.Logger
}

// Directory lists channels through the Slack Web API.
type Directory struct {
	api         ConversationLister
	pageSize    int
	maxPages    int
	callTimeout time.Duration
	limiter     *rate.Limiter
	newBackOff  func() backoff.BackOff
	logger      *slog.Logger
}

// New creates a Directory.
func New(cfg Config) *Directory {
	d := &Directory{
		api:         cfg.API,
		pageSize:    cfg.PageSize,
		maxPages:    cfg.MaxPages,
		callTimeout: cfg.CallTimeout,
		newBackOff:  cfg.NewBackOff,
		logger:      cfg.Logger,
	}
	if d.pageSize <= 0 {
		d.pageSize = 1000
	}
	if d.maxPages <= 0 {
		d.maxPages = 50
	}
	if d.callTimeout <= 0 {
		d.callTimeout = 5 * time.Second
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.PagesPerSecond > 0 {
		limit = rate.Limit(cfg.PagesPerSecond)
	}
	d.limiter = rate.NewLimiter(limit, 1)
	if d.newBackOff == nil {
		budget := cfg.RetryBudget
		if budget <= 0 {
			budget = 20 * time.Second
		}
		d.newBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = budget
			return bo
		}
	}
	return d
}

// Channels returns a lazy, restartable sequence over the channels matching
// opts. Each iteration re-enumerates from the first page. On failure the
// sequence yields a single non-nil error and stops.
func (d *Directory) Channels(ctx context.Context, opts Options) iter.Seq2[Channel, error] {
	return func(yield func(Channel, error) bool) {
		types := opts.types()
		if len(types) == 0 {
			return
		}
		cursor := ""
		for page := 0; ; page++ {
			if page >= d.maxPages {
				yield(Channel{}, fmt.Errorf("%w (%d pages)", ErrPageLimit, d.maxPages))
				return
			}

			params := &slack.GetConversationsParameters{
				Types:           types,
				Limit:           d.pageSize,
				Cursor:          cursor,
				ExcludeArchived: !opts.IncludeArchived,
			}
			channels, next, err := d.fetchPage(ctx, params)
			if err != nil {
				yield(Channel{}, fmt.Errorf("list channels page %d: %w", page+1, err))
				return
			}

			for _, ch := range channels {
				rec := fromSlack(ch)
				if rec.IsArchived && !opts.IncludeArchived {
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}

			if next == "" {
				return
			}
			cursor = next
		}
	}
}

// List materializes a complete snapshot. It returns either every channel or
// an error, never a partial result.
func (d *Directory) List(ctx context.Context, opts Options) ([]Channel, error) {
	var out []Channel
	for ch, err := range d.Channels(ctx, opts) {
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// fetchPage performs one conversations.list call, retrying rate-limited
// responses within the backoff budget and honoring Retry-After.
func (d *Directory) fetchPage(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	bo := backoff.WithContext(d.newBackOff(), ctx)
	bo.Reset()
	for {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}

		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		channels, next, err := d.api.GetConversationsContext(callCtx, params)
		cancel()
		if err == nil {
			return channels, next, nil
		}

		var limited *slack.RateLimitedError
		if !errors.As(err, &limited) {
			return nil, "", err
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil, "", fmt.Errorf("rate limit retry budget exhausted: %w", err)
		}
		if limited.RetryAfter > wait {
			wait = limited.RetryAfter
		}
		d.logger.Warn("conversations.list rate limited, retrying",
			"retry_after", limited.RetryAfter, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, "", ctx.Err()
		case <-timer.C:
		}
	}
}

func fromSlack(ch slack.Channel) Channel {
	return Channel{
		ID:         ch.ID,
		Name:       ch.Name,
		IsPrivate:  ch.IsPrivate,
		IsMember:   ch.IsMember,
		IsArchived: ch.IsArchived,
	}
}
