// Package delivery posts a question notification to a resolved doctor
// channel and walks a fixed remediation ladder when Slack refuses it.
//
// State machine per attempt:
//
//	Start ─ no target ──────────────────────────────▶ Unroutable
//	Start ─ send ok ────────────────────────────────▶ Delivered
//	      ─ not_in_channel, public ─ join ─ resend ok ▶ Delivered
//	                                 └─ join/resend fails ▶ Failed
//	      ─ not_in_channel, private ────────────────▶ Failed (manual invite)
//	      ─ channel_not_found / is_archived / other ▶ Failed
//
// Every Unroutable or Failed outcome sends the submitter a direct message
// describing what happened, so a submission is never dropped silently.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/Vortex-9191/slack-question-bot/internal/resolver"
)

// State is a terminal delivery state.
type State int

const (
	Delivered State = iota
	Unroutable
	Failed
)

func (s State) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Unroutable:
		return "unroutable"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason classifies why a delivery did not succeed.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonNoMatch             Reason = "no_match"
	ReasonNotInChannelPrivate Reason = "not_in_channel_private"
	ReasonNotInChannelPublic  Reason = "not_in_channel_public"
	ReasonChannelNotFound     Reason = "channel_not_found"
	ReasonArchived            Reason = "archived"
	ReasonUnknown             Reason = "unknown"
)

// API is the subset of *slack.Client used for delivery.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

// Message is the notification payload.
type Message struct {
	Text      string // notification fallback text
	Blocks    []slack.Block
	Subject   string // short human label used in fallback notices
	Submitter string // user ID that receives fallback DMs
}

// Outcome is the terminal result of Deliver.
type Outcome struct {
	State       State
	Reason      Reason
	ChannelID   string
	ChannelName string
	Timestamp   string // ts of the delivered message
	Joined      bool   // bot joined the channel during remediation
	Err         error  // last delivery error, nil when delivered

	FallbackSent bool
	FallbackErr  error
}

// Degraded reports whether the notification did not reach the doctor channel.
func (o Outcome) Degraded() bool {
	return o.State != Delivered
}

// Config configures a Policy.
type Config struct {
	API API
	// CallTimeout bounds each outbound Slack call. Default: 5s.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Policy delivers notifications with fallback.
type Policy struct {
	api         API
	callTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Policy.
func New(cfg Config) *Policy {
	p := &Policy{api: cfg.API, callTimeout: cfg.CallTimeout, logger: cfg.Logger}
	if p.callTimeout <= 0 {
		p.callTimeout = 5 * time.Second
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Deliver runs the remediation ladder for target and always returns a
// terminal Outcome.
func (p *Policy) Deliver(ctx context.Context, target resolver.Result, msg Message) Outcome {
	if !target.Matched {
		out := Outcome{State: Unroutable, Reason: ReasonNoMatch}
		p.fallback(ctx, &out, msg)
		return out
	}

	ch := target.Channel
	out := Outcome{ChannelID: ch.ID, ChannelName: ch.Name}

	ts, err := p.post(ctx, ch.ID, msg)
	if err == nil {
		out.State = Delivered
		out.Timestamp = ts
		return out
	}

	out.Reason = Classify(err, ch.IsPrivate, ch.IsMember)
	out.Err = err

	if out.Reason == ReasonNotInChannelPublic {
		if jerr := p.join(ctx, ch.ID); jerr != nil {
			p.logger.Warn("failed to join doctor channel",
				"channel", ch.ID, "name", ch.Name, "error", jerr)
			out.Err = fmt.Errorf("join %s: %w", ch.ID, jerr)
		} else {
			out.Joined = true
			p.logger.Info("joined doctor channel", "channel", ch.ID, "name", ch.Name)
			ts, err = p.post(ctx, ch.ID, msg)
			if err == nil {
				out.State = Delivered
				out.Reason = ReasonNone
				out.Err = nil
				out.Timestamp = ts
				return out
			}
			out.Err = fmt.Errorf("retry after join: %w", err)
		}
	}

	out.State = Failed
	p.logger.Warn("doctor channel delivery failed",
		"channel", ch.ID, "name", ch.Name, "reason", string(out.Reason), "error", out.Err)
	p.fallback(ctx, &out, msg)
	return out
}

// Classify maps a Slack error to a Reason. Slack reports a private channel
// the bot was never invited to as channel_not_found, so that case is folded
// into NotInChannelPrivate when the listing says the bot is not a member.
func Classify(err error, private, member bool) Reason {
	if err == nil {
		return ReasonNone
	}
	switch errorCode(err) {
	case "not_in_channel":
		if private {
			return ReasonNotInChannelPrivate
		}
		return ReasonNotInChannelPublic
	case "channel_not_found":
		if private && !member {
			return ReasonNotInChannelPrivate
		}
		return ReasonChannelNotFound
	case "is_archived":
		return ReasonArchived
	default:
		return ReasonUnknown
	}
}

func errorCode(err error) string {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		return resp.Err
	}
	return err.Error()
}

func (p *Policy) post(ctx context.Context, channelID string, msg Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(msg.Blocks...))
	}
	_, ts, err := p.api.PostMessageContext(ctx, channelID, opts...)
	return ts, err
}

func (p *Policy) join(ctx context.Context, channelID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	_, _, _, err := p.api.JoinConversationContext(ctx, channelID)
	return err
}

// fallback DMs the submitter the notice for out. The DM is detached from
// ctx cancellation so an exhausted processing budget cannot suppress it;
// each Slack call is still bounded by the call timeout.
func (p *Policy) fallback(ctx context.Context, out *Outcome, msg Message) {
	if msg.Submitter == "" {
		out.FallbackErr = errors.New("no submitter to notify")
		p.logger.Error("delivery degraded and no submitter to notify",
			"state", out.State.String(), "reason", string(out.Reason))
		return
	}
	if err := p.DirectMessage(context.WithoutCancel(ctx), msg.Submitter, Notice(*out, msg.Subject)); err != nil {
		out.FallbackErr = err
		p.logger.Error("failed to send fallback DM",
			"user", msg.Submitter, "reason", string(out.Reason), "error", err)
		return
	}
	out.FallbackSent = true
}

// DirectMessage opens (or reuses) the IM with userID and posts text to it.
func (p *Policy) DirectMessage(ctx context.Context, userID, text string, extra ...slack.MsgOption) error {
	openCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	im, _, _, err := p.api.OpenConversationContext(openCtx, &slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("open DM with %s: %w", userID, err)
	}

	postCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	opts := append([]slack.MsgOption{slack.MsgOptionText(text, false)}, extra...)
	if _, _, err := p.api.PostMessageContext(postCtx, im.ID, opts...); err != nil {
		return fmt.Errorf("post DM to %s: %w", userID, err)
	}
	return nil
}

// Notice renders the user-facing explanation for a degraded outcome.
func Notice(out Outcome, subject string) string {
	if subject == "" {
		subject = "質問"
	}
	channel := "担当チャンネル"
	if out.ChannelName != "" {
		channel = "#" + out.ChannelName
	}

	switch {
	case out.State == Delivered:
		return fmt.Sprintf(":white_check_mark: %sを %s に送信しました。", subject, channel)
	case out.State == Unroutable:
		return fmt.Sprintf(":warning: %sの送信先となる医師チャンネルが見つかりませんでした。"+
			"質問は記録済みで、管理者が確認します。医師IDに誤りがないかご確認ください。", subject)
	case out.Reason == ReasonNotInChannelPrivate:
		return fmt.Sprintf(":lock: %sを %s に送信できませんでした。"+
			"プライベートチャンネルのためボットが自動で参加できません。"+
			"チャンネルで `/invite @質問ボット` を実行してボットを招待してから、再度送信してください。", subject, channel)
	case out.Reason == ReasonNotInChannelPublic:
		return fmt.Sprintf(":x: %sを %s に送信できませんでした。ボットがチャンネルに参加できませんでした。"+
			"管理者に連絡してください。", subject, channel)
	case out.Reason == ReasonChannelNotFound:
		return fmt.Sprintf(":x: %sの送信先 %s が見つかりませんでした。管理者に連絡してください。", subject, channel)
	case out.Reason == ReasonArchived:
		return fmt.Sprintf(":x: %sの送信先 %s はアーカイブされています。管理者に連絡してください。", subject, channel)
	default:
		return fmt.Sprintf(":x: %sを %s に送信中にエラーが発生しました。質問は記録済みです。"+
			"管理者に連絡してください。", subject, channel)
	}
}
