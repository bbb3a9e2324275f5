package bridge

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/Vortex-9191/slack-question-bot/internal/delivery"
	"github.com/Vortex-9191/slack-question-bot/internal/directory"
	"github.com/Vortex-9191/slack-question-bot/internal/resolver"
	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

// Routing labels recorded on the question.
const (
	routingDirectoryError = "directory_error"
)

// submission is a validated question form plus who sent it.
type submission struct {
	UserID        string
	OriginChannel string
	Draft         Draft
}

// handleQuestionSubmission persists the question, routes it to the doctor
// channel, copies the admin channel, and confirms to the submitter. Every
// path ends with a message to the submitter; when that message cannot be
// sent the error is returned so the caller falls back to its failure notice.
func (b *Bot) handleQuestionSubmission(ctx context.Context, sub submission) error {
	q := &store.Question{
		SubmitterID:     sub.UserID,
		OriginChannelID: sub.OriginChannel,
		PatientID:       sub.Draft.PatientID,
		Category:        sub.Draft.Category,
		Urgency:         sub.Draft.Urgency,
		DoctorID:        sub.Draft.DoctorID,
		DoctorName:      sub.Draft.DoctorName,
		Content:         sub.Draft.Content,
	}
	if err := b.store.Create(ctx, q); err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	log := b.logger.With("question", q.ID, "doctor_id", q.DoctorID, "user", sub.UserID)
	log.Info("question saved")

	out, target, err := b.route(ctx, q)
	if err != nil {
		// Directory failure: the question is saved but routing never ran.
		log.Error("channel directory unavailable", "error", err)
		out = delivery.Outcome{State: delivery.Failed, Reason: delivery.ReasonUnknown, Err: err}
		b.recordDelivery(ctx, q, out, routingDirectoryError)
		b.postAdminCopy(ctx, q, out)
		if dmErr := b.delivery.DirectMessage(context.WithoutCancel(ctx), sub.UserID, directoryFailureNotice(questionSubject(q))); dmErr != nil {
			return fmt.Errorf("notify submitter after directory failure: %w", dmErr)
		}
		return nil
	}

	b.recordDelivery(ctx, q, out, routingLabel(target, out))
	b.postAdminCopy(ctx, q, out)

	log = log.With("state", out.State.String(), "reason", string(out.Reason),
		"channel", out.ChannelID, "matched_by", target.MatchedBy)
	if out.Degraded() {
		// The policy already tried the fallback notice.
		if !out.FallbackSent {
			return fmt.Errorf("question %s not delivered and submitter not notified: %w", q.ID, out.FallbackErr)
		}
		log.Warn("question not delivered to doctor channel", "error", out.Err)
		return nil
	}

	// The doctor already has the question; confirm even if the budget ran out.
	dmCtx := context.WithoutCancel(ctx)
	if err := b.delivery.DirectMessage(dmCtx, sub.UserID, delivery.Notice(out, questionSubject(q))); err != nil {
		return fmt.Errorf("confirm question %s to submitter: %w", q.ID, err)
	}
	log.Info("question delivered")
	return nil
}

// route resolves and delivers q against a fresh channel snapshot.
func (b *Bot) route(ctx context.Context, q *store.Question) (delivery.Outcome, resolver.Result, error) {
	channels, err := b.directory.List(ctx, directory.AllChannels)
	if err != nil {
		return delivery.Outcome{}, resolver.NoMatch, err
	}
	target := b.resolver.Resolve(q.DoctorID, channels)
	out := b.delivery.Deliver(ctx, target, delivery.Message{
		Text:      questionText(q),
		Blocks:    questionBlocks(q),
		Subject:   questionSubject(q),
		Submitter: q.SubmitterID,
	})
	return out, target, nil
}

func routingLabel(target resolver.Result, out delivery.Outcome) string {
	switch {
	case out.State == delivery.Delivered:
		return target.MatchedBy
	case out.State == delivery.Unroutable:
		return string(delivery.ReasonNoMatch)
	default:
		return string(out.Reason)
	}
}

func (b *Bot) recordDelivery(ctx context.Context, q *store.Question, out delivery.Outcome, routing string) {
	q.DoctorChannelID, q.MessageTS, q.Routing = out.ChannelID, out.Timestamp, routing
	if err := b.store.SetDelivery(ctx, q.ID, out.ChannelID, out.Timestamp, routing); err != nil {
		b.logger.Error("failed to record delivery", "question", q.ID, "error", err)
	}
}

// postAdminCopy mirrors the submission to the admin channel. Failures are
// logged only; the submitter has already been told the outcome.
func (b *Bot) postAdminCopy(ctx context.Context, q *store.Question, out delivery.Outcome) {
	if b.adminChannel == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	_, _, err := b.api.PostMessageContext(ctx, b.adminChannel,
		slack.MsgOptionText("[管理] "+questionText(q), false),
		slack.MsgOptionBlocks(adminBlocks(q, out)...))
	if err != nil {
		b.logger.Warn("failed to post admin copy", "channel", b.adminChannel, "question", q.ID, "error", err)
	}
}

func directoryFailureNotice(subject string) string {
	return fmt.Sprintf(":x: %sは記録しましたが、チャンネル一覧を取得できなかったため医師チャンネルへ送信できませんでした。"+
		"管理者に連絡してください。", subject)
}
