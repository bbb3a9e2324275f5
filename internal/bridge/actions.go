package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

// handleBlockActions dispatches button clicks on a question message.
func (b *Bot) handleBlockActions(ctx context.Context, callback slack.InteractionCallback) error {
	channelID := callback.Channel.ID
	if channelID == "" {
		channelID = callback.Container.ChannelID
	}
	messageTS := callback.Message.Timestamp
	if messageTS == "" {
		messageTS = callback.Container.MessageTs
	}

	for _, action := range callback.ActionCallback.BlockActions {
		meta := actionMetadata{QuestionID: action.Value, ChannelID: channelID, MessageTS: messageTS}
		switch action.ActionID {
		case actionApprove:
			return b.approveQuestion(ctx, meta, callback.User.ID)
		case actionReject:
			return b.openFollowUpModal(ctx, callback, meta, callbackReject)
		case actionAnswerQ:
			return b.openFollowUpModal(ctx, callback, meta, callbackAnswer)
		case actionModifyQ:
			return b.openFollowUpModal(ctx, callback, meta, callbackModify)
		default:
			b.logger.Debug("unhandled block action", "action_id", action.ActionID)
		}
	}
	return nil
}

func (b *Bot) approveQuestion(ctx context.Context, meta actionMetadata, userID string) error {
	err := b.store.Approve(ctx, meta.QuestionID, userID, "")
	if b.rejectStale(ctx, meta, userID, err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("approve %s: %w", meta.QuestionID, err)
	}
	b.logger.Info("question approved", "question", meta.QuestionID, "user", userID)
	b.afterChange(ctx, meta, "white_check_mark", func(q *store.Question) string {
		return fmt.Sprintf(":white_check_mark: あなたの%sが <@%s> により承認されました。", questionSubject(q), userID)
	})
	return nil
}

// rejectStale tells the clicking user when a question no longer accepts the
// action. It reports whether err was handled.
func (b *Bot) rejectStale(ctx context.Context, meta actionMetadata, userID string, err error) bool {
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		b.ephemeral(ctx, meta.ChannelID, userID, ":information_source: この質問はすでに処理済みです。")
		return true
	case errors.Is(err, store.ErrNotFound):
		b.ephemeral(ctx, meta.ChannelID, userID, fmt.Sprintf(":x: 質問 `%s` が見つかりません。", meta.QuestionID))
		return true
	}
	return false
}

// openFollowUpModal opens the reject, answer or modify modal. The trigger ID
// expires in 3s, so only a local store read happens first.
func (b *Bot) openFollowUpModal(ctx context.Context, callback slack.InteractionCallback, meta actionMetadata, callbackID string) error {
	userID := callback.User.ID
	q, err := b.store.Get(ctx, meta.QuestionID)
	if b.rejectStale(ctx, meta, userID, err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", meta.QuestionID, err)
	}

	open := q.Status == store.StatusPending || q.Status == store.StatusApproved
	if callbackID == callbackModify {
		open = q.Status == store.StatusPending
	}
	if !open {
		b.rejectStale(ctx, meta, userID, store.ErrInvalidTransition)
		return nil
	}

	summary := fmt.Sprintf("*患者ID:* %s\n%s", q.PatientID, quote(truncate(q.Content, 500)))
	var modal slack.ModalViewRequest
	switch callbackID {
	case callbackReject:
		modal = textInputModal(callbackReject, "質問を却下", "却下", summary, blockReason, actionReason, "却下理由", "", meta)
	case callbackAnswer:
		modal = textInputModal(callbackAnswer, "質問に回答", "回答", summary, blockAnswer, actionAnswer, "回答内容", "", meta)
	case callbackModify:
		modal = textInputModal(callbackModify, "質問を修正", "保存", fmt.Sprintf("*患者ID:* %s", q.PatientID),
			blockModify, actionModify, "質問内容", q.Content, meta)
	}

	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	if _, err := b.api.OpenViewContext(ctx, callback.TriggerID, modal); err != nil {
		return fmt.Errorf("open %s modal: %w", callbackID, err)
	}
	return nil
}

// followUpInputs maps each follow-up modal to its input field.
var followUpInputs = map[string][2]string{
	callbackReject: {blockReason, actionReason},
	callbackAnswer: {blockAnswer, actionAnswer},
	callbackModify: {blockModify, actionModify},
}

// handleFollowUpSubmission applies a reject, answer or modify modal.
func (b *Bot) handleFollowUpSubmission(ctx context.Context, callbackID, userID string, meta actionMetadata, text string) error {
	var err error
	switch callbackID {
	case callbackReject:
		err = b.store.Reject(ctx, meta.QuestionID, userID, text)
	case callbackAnswer:
		err = b.store.Answer(ctx, meta.QuestionID, userID, text)
	case callbackModify:
		err = b.store.UpdateContent(ctx, meta.QuestionID, text, userID)
	}
	if b.rejectStale(ctx, meta, userID, err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", callbackID, meta.QuestionID, err)
	}
	b.logger.Info("question updated", "action", callbackID, "question", meta.QuestionID, "user", userID)

	switch callbackID {
	case callbackReject:
		b.afterChange(ctx, meta, "no_entry_sign", func(q *store.Question) string {
			return fmt.Sprintf(":no_entry_sign: あなたの%sが <@%s> により却下されました。\n*理由:*\n%s",
				questionSubject(q), userID, quote(text))
		})
	case callbackAnswer:
		b.afterChange(ctx, meta, "speech_balloon", func(q *store.Question) string {
			return fmt.Sprintf(":speech_balloon: あなたの%sに <@%s> から回答がありました。\n*回答:*\n%s",
				questionSubject(q), userID, quote(text))
		})
	case callbackModify:
		b.afterChange(ctx, meta, "pencil2", func(q *store.Question) string {
			return fmt.Sprintf(":pencil2: あなたの%sが <@%s> により修正されました。\n*修正後:*\n%s",
				questionSubject(q), userID, quote(text))
		})
	}
	return nil
}

// afterChange refreshes the doctor-channel message, reacts to it, and tells
// the submitter. Each step is best effort.
func (b *Bot) afterChange(ctx context.Context, meta actionMetadata, reaction string, notice func(*store.Question) string) {
	q, err := b.store.Get(ctx, meta.QuestionID)
	if err != nil {
		b.logger.Error("failed to reload question", "question", meta.QuestionID, "error", err)
		return
	}
	channelID, ts := q.DoctorChannelID, q.MessageTS
	if channelID == "" || ts == "" {
		channelID, ts = meta.ChannelID, meta.MessageTS
	}

	if channelID != "" && ts != "" {
		callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
		_, _, _, err := b.api.UpdateMessageContext(callCtx, channelID, ts,
			slack.MsgOptionText(questionText(q), false),
			slack.MsgOptionBlocks(questionBlocks(q)...))
		cancel()
		if err != nil {
			b.logger.Warn("failed to update question message", "question", q.ID, "channel", channelID, "error", err)
		}

		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		err = b.api.AddReactionContext(callCtx, reaction, slack.NewRefToMessage(channelID, ts))
		cancel()
		if err != nil {
			b.logger.Debug("failed to add reaction", "question", q.ID, "reaction", reaction, "error", err)
		}
	}

	if q.SubmitterID == "" {
		return
	}
	if err := b.delivery.DirectMessage(ctx, q.SubmitterID, notice(q)); err != nil {
		b.logger.Warn("failed to notify submitter", "question", q.ID, "user", q.SubmitterID, "error", err)
	}
}
