package bridge

import (
	"context"

	"github.com/slack-go/slack"
)

// acceptCommand schedules a slash command. It never blocks on Slack I/O.
func (b *Bot) acceptCommand(cmd slack.SlashCommand) {
	if b.dedup.Seen("command:" + cmd.TriggerID) {
		return
	}
	b.process("command "+cmd.Command, cmd.UserID, func(ctx context.Context) error {
		return b.handleSlashCommand(ctx, cmd)
	})
}

// acceptInteraction schedules an interaction and returns the acknowledgement
// payload. A nil payload means an empty 200.
func (b *Bot) acceptInteraction(callback slack.InteractionCallback) any {
	switch callback.Type {
	case slack.InteractionTypeBlockActions:
		key := "action:" + callback.User.ID + ":" + callback.ActionTs
		if len(callback.ActionCallback.BlockActions) > 0 {
			key = "action:" + callback.User.ID + ":" + callback.ActionCallback.BlockActions[0].ActionTs
		}
		if b.dedup.Seen(key) {
			return nil
		}
		b.process("block_actions", callback.User.ID, func(ctx context.Context) error {
			return b.handleBlockActions(ctx, callback)
		})
		return nil

	case slack.InteractionTypeViewSubmission:
		return b.acceptViewSubmission(callback)

	case slack.InteractionTypeViewClosed:
		if callback.View.CallbackID == callbackQuestion {
			if d := parseDraft(callback.View); !d.Empty() {
				b.drafts.Put(callback.User.ID, d)
				b.logger.Debug("saved question draft", "user", callback.User.ID)
			}
		}
		return nil

	default:
		b.logger.Debug("unhandled interaction type", "type", string(callback.Type))
		return nil
	}
}

// acceptViewSubmission validates a modal synchronously and schedules the
// rest. Validation errors are returned to Slack so the modal stays open.
func (b *Bot) acceptViewSubmission(callback slack.InteractionCallback) any {
	view := callback.View
	userID := callback.User.ID

	switch view.CallbackID {
	case callbackQuestion:
		d := parseDraft(view)
		if d.Urgency == "" {
			d.Urgency = "normal"
		}
		if errs := validateDraft(d); errs != nil {
			return slack.NewErrorsViewSubmissionResponse(errs)
		}
		if b.dedup.Seen("view:" + view.ID) {
			return slack.NewClearViewSubmissionResponse()
		}
		b.drafts.Delete(userID)
		sub := submission{UserID: userID, OriginChannel: view.PrivateMetadata, Draft: d}
		b.process("question submission", userID, func(ctx context.Context) error {
			return b.handleQuestionSubmission(ctx, sub)
		})
		return slack.NewClearViewSubmissionResponse()

	case callbackReject, callbackAnswer, callbackModify:
		meta, ok := parseActionMetadata(view.PrivateMetadata)
		if !ok {
			b.logger.Error("invalid modal metadata", "callback_id", view.CallbackID, "metadata", view.PrivateMetadata)
			return slack.NewClearViewSubmissionResponse()
		}
		in := followUpInputs[view.CallbackID]
		text := inputValue(view, in[0], in[1])
		if text == "" {
			return slack.NewErrorsViewSubmissionResponse(map[string]string{in[0]: "入力してください"})
		}
		if b.dedup.Seen("view:" + view.ID) {
			return slack.NewClearViewSubmissionResponse()
		}
		callbackID := view.CallbackID
		b.process(callbackID, userID, func(ctx context.Context) error {
			return b.handleFollowUpSubmission(ctx, callbackID, userID, meta, text)
		})
		return slack.NewClearViewSubmissionResponse()

	default:
		b.logger.Debug("unhandled view submission", "callback_id", view.CallbackID)
		return nil
	}
}
