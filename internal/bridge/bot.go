// Package bridge connects Slack to the question workflow.
//
// Bot implements one request lifecycle shared by the HTTP webhook endpoints
// and Socket Mode:
//
//	Received → Verified (or Rejected with 401) → Acknowledged → Processing → Completed
//
// Handlers acknowledge before doing any slow I/O. Resolution, delivery and
// notifications run afterwards on a goroutine bounded by the processing
// budget, and their outcome is reported to users by message, never through
// the inbound HTTP response.
//
// The implementation is split across several files:
//   - bot.go: core struct, configuration, processing scheduler
//   - http.go: webhook handlers and signature gating
//   - socket.go: Socket Mode event loop
//   - commands.go: slash command handlers (/question, /question-stats)
//   - modals.go: modal views and form parsing
//   - submission.go: question submission routing
//   - actions.go: approve / reject / answer / modify actions
//   - messages.go: Block Kit message rendering
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/Vortex-9191/slack-question-bot/internal/delivery"
	"github.com/Vortex-9191/slack-question-bot/internal/directory"
	"github.com/Vortex-9191/slack-question-bot/internal/resolver"
	"github.com/Vortex-9191/slack-question-bot/internal/session"
	"github.com/Vortex-9191/slack-question-bot/internal/signature"
	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

// SlackAPI abstracts the subset of slack.Client methods used by the bot.
// Tests substitute a mock implementation.
type SlackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)

	// Messaging
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error

	// Modals
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)

	// Conversations
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

// QuestionStore is the persistence the bot needs.
type QuestionStore interface {
	Create(ctx context.Context, q *store.Question) error
	Get(ctx context.Context, id string) (*store.Question, error)
	Approve(ctx context.Context, id, approverID, comment string) error
	Reject(ctx context.Context, id, approverID, reason string) error
	Answer(ctx context.Context, id, answeredBy, text string) error
	UpdateContent(ctx context.Context, id, content, editedBy string) error
	SetDelivery(ctx context.Context, id, channelID, messageTS, routing string) error
	Stats(ctx context.Context) (*store.Stats, error)
}

// ChannelLister produces a fresh channel snapshot.
type ChannelLister interface {
	List(ctx context.Context, opts directory.Options) ([]directory.Channel, error)
}

// ChannelResolver picks the doctor channel from a snapshot.
type ChannelResolver interface {
	Resolve(doctorID string, channels []directory.Channel) resolver.Result
}

// Deliverer sends notifications with fallback.
type Deliverer interface {
	Deliver(ctx context.Context, target resolver.Result, msg delivery.Message) delivery.Outcome
	DirectMessage(ctx context.Context, userID, text string, extra ...slack.MsgOption) error
}

// Bot handles inbound Slack commands and interactions.
type Bot struct {
	api       SlackAPI
	store     QuestionStore
	directory ChannelLister
	resolver  ChannelResolver
	delivery  Deliverer
	drafts    *session.Store[Draft]
	dedup     *Dedup
	verifier  *signature.Verifier
	socket    *socketmode.Client
	logger    *slog.Logger

	adminChannel     string
	processingBudget time.Duration
	callTimeout      time.Duration

	botUserID string
	connected atomic.Bool
	inflight  sync.WaitGroup
}

// BotConfig holds the collaborators and lifecycle policy for a Bot.
type BotConfig struct {
	API       SlackAPI
	Store     QuestionStore
	Directory ChannelLister
	Resolver  ChannelResolver
	Delivery  Deliverer
	Drafts    *session.Store[Draft]
	Dedup     *Dedup
	Verifier  *signature.Verifier
	Socket    *socketmode.Client // optional; nil = webhooks only
	Logger    *slog.Logger

	// AdminChannel receives a copy of every submission. Empty disables it.
	AdminChannel string
	// ProcessingBudget bounds the work done after acknowledgement. Default: 45s.
	ProcessingBudget time.Duration
	// CallTimeout bounds individual Slack calls made directly by the bot. Default: 5s.
	CallTimeout time.Duration
}

// NewBot creates a Bot.
func NewBot(cfg BotConfig) *Bot {
	b := &Bot{
		api:              cfg.API,
		store:            cfg.Store,
		directory:        cfg.Directory,
		resolver:         cfg.Resolver,
		delivery:         cfg.Delivery,
		drafts:           cfg.Drafts,
		dedup:            cfg.Dedup,
		verifier:         cfg.Verifier,
		socket:           cfg.Socket,
		logger:           cfg.Logger,
		adminChannel:     cfg.AdminChannel,
		processingBudget: cfg.ProcessingBudget,
		callTimeout:      cfg.CallTimeout,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.processingBudget <= 0 {
		b.processingBudget = 45 * time.Second
	}
	if b.callTimeout <= 0 {
		b.callTimeout = 5 * time.Second
	}
	if b.drafts == nil {
		b.drafts = session.New[Draft](session.Config{})
	}
	if b.dedup == nil {
		b.dedup = NewDedup(10*time.Minute, 10000, b.logger)
	}
	if b.verifier == nil {
		b.verifier = signature.NewVerifier(signature.Config{Disabled: true, Logger: b.logger})
	}
	if b.resolver == nil {
		b.resolver = resolver.New(nil, b.logger)
	}
	return b
}

// Authenticate runs auth.test and remembers the bot's user ID.
func (b *Bot) Authenticate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	auth, err := b.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("Slack auth test: %w", err)
	}
	b.botUserID = auth.UserID
	b.logger.Info("Slack bot authenticated", "user_id", auth.UserID, "team", auth.Team)
	return nil
}

// Wait blocks until in-flight processing finishes or ctx is done.
func (b *Bot) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs fn after acknowledgement. It is detached from the inbound
// request, bounded by the processing budget, and never lets a panic or
// error go unreported: the user is told something went wrong.
func (b *Bot) process(kind, userID string, fn func(ctx context.Context) error) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.processingBudget)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("panic during processing",
					"kind", kind, "user", userID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
				b.notifyFailure(userID)
			}
		}()

		start := time.Now()
		if err := fn(ctx); err != nil {
			b.logger.Error("processing failed",
				"kind", kind, "user", userID, "duration", time.Since(start), "error", err)
			b.notifyFailure(userID)
			return
		}
		b.logger.Debug("processing completed", "kind", kind, "user", userID, "duration", time.Since(start))
	}()
}

// notifyFailure sends the generic failure notice on a fresh context, since
// the processing context may already be expired.
func (b *Bot) notifyFailure(userID string) {
	if userID == "" || b.delivery == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*b.callTimeout)
	defer cancel()
	if err := b.delivery.DirectMessage(ctx, userID, failureNotice); err != nil {
		b.logger.Error("failed to send failure notice", "user", userID, "error", err)
	}
}

const failureNotice = ":x: リクエストの処理中に予期しないエラーが発生しました。" +
	"お手数ですが、時間をおいて再度お試しいただくか管理者に連絡してください。"

// ephemeral posts a user-only reply in channelID, logging failures.
func (b *Bot) ephemeral(ctx context.Context, channelID, userID, text string, blocks ...slack.Block) {
	if channelID == "" || userID == "" {
		return
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	if _, err := b.api.PostEphemeralContext(ctx, channelID, userID, opts...); err != nil {
		b.logger.Warn("failed to post ephemeral", "channel", channelID, "user", userID, "error", err)
	}
}
