package bridge

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// handleSlashCommand dispatches slash commands after acknowledgement.
func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) error {
	switch cmd.Command {
	case "/question":
		return b.handleQuestionCommand(ctx, cmd)
	case "/question-stats":
		return b.handleStatsCommand(ctx, cmd)
	default:
		b.logger.Debug("unhandled slash command", "command", cmd.Command)
		b.ephemeral(ctx, cmd.ChannelID, cmd.UserID,
			fmt.Sprintf("不明なコマンドです: `%s`。`/question` で質問を送信できます。", cmd.Command))
		return nil
	}
}

// handleQuestionCommand opens the question modal, restoring any draft the
// user left when they last closed it.
func (b *Bot) handleQuestionCommand(ctx context.Context, cmd slack.SlashCommand) error {
	draft, ok := b.drafts.Get(cmd.UserID)
	if ok {
		b.logger.Debug("restoring question draft", "user", cmd.UserID)
	}

	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	if _, err := b.api.OpenViewContext(ctx, cmd.TriggerID, questionModal(draft, cmd.ChannelID)); err != nil {
		return fmt.Errorf("open question modal: %w", err)
	}
	return nil
}

func (b *Bot) handleStatsCommand(ctx context.Context, cmd slack.SlashCommand) error {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	b.ephemeral(ctx, cmd.ChannelID, cmd.UserID, statsText(stats))
	return nil
}
