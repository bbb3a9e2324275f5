package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Run connects over Socket Mode and processes events until ctx is done.
// Socket Mode envelopes arrive over an authenticated websocket, so they skip
// signature verification but otherwise follow the same lifecycle as webhooks.
func (b *Bot) Run(ctx context.Context) error {
	if b.socket == nil {
		return errors.New("socket mode not configured")
	}
	go b.handleEvents(ctx)

	err := b.socket.RunContext(ctx)
	b.connected.Store(false)
	return err
}

// IsConnected reports whether the Socket Mode connection is up.
func (b *Bot) IsConnected() bool {
	return b.connected.Load()
}

// handleEvents processes Socket Mode events.
func (b *Bot) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socket.Events:
			if !ok {
				return
			}
			b.handleEvent(evt)
		}
	}
}

func (b *Bot) handleEvent(evt socketmode.Event) {
	b.logger.Debug("socket mode event received", "type", string(evt.Type))

	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("Slack Socket Mode connecting")

	case socketmode.EventTypeConnected:
		b.connected.Store(true)
		b.logger.Info("Slack Socket Mode connected")

	case socketmode.EventTypeConnectionError:
		b.connected.Store(false)
		b.logger.Error("Slack Socket Mode connection error")

	case socketmode.EventTypeEventsAPI:
		event, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.socket.Ack(*evt.Request)
		b.handleEventsAPI(event)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		if ack := b.acceptInteraction(callback); ack != nil {
			b.socket.Ack(*evt.Request, ack)
		} else {
			b.socket.Ack(*evt.Request)
		}

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		b.socket.Ack(*evt.Request)
		b.acceptCommand(cmd)
	}
}

// handleEventsAPI answers mentions with usage help.
func (b *Bot) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.AppMentionEvent)
	if !ok || ev.User == b.botUserID {
		return
	}
	b.process("app_mention", "", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
		thread := ev.ThreadTimeStamp
		if thread == "" {
			thread = ev.TimeStamp
		}
		_, _, err := b.api.PostMessageContext(ctx, ev.Channel,
			slack.MsgOptionText(mentionHelp, false),
			slack.MsgOptionTS(thread))
		if err != nil {
			return fmt.Errorf("reply to mention: %w", err)
		}
		return nil
	})
}

const mentionHelp = "質問ボットです。\n" +
	"• `/question` 医師への質問フォームを開きます\n" +
	"• `/question-stats` 質問の統計を表示します"
