// Package channels implements chat platform transports for the relay.
package channels

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/BrickRelay/BrickRelay/internal/bus"
	"github.com/BrickRelay/BrickRelay/internal/config"
)

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// SlackChannel listens for user messages over socket mode and posts relay
// replies back into the originating thread.
type SlackChannel struct {
	BaseChannel
	cfg    config.SlackConfig
	api    *slack.Client
	socket *socketmode.Client
}

// NewSlackChannel creates the Slack transport.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	api := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
	)
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
		api:         api,
		socket:      socketmode.New(api),
	}
}

func (c *SlackChannel) Name() string { return "slack" }

// Start subscribes for outbound replies and runs the socket-mode listener
// until ctx is cancelled.
func (c *SlackChannel) Start(ctx context.Context) error {
	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		// Post failures are logged and swallowed: the event is already
		// committed as handled and a lost reply is not retried.
		if err := c.Send(ctx, msg); err != nil {
			slog.Error("Slack reply post failed", "chat_id", msg.ChatID, "thread_id", msg.ThreadID, "error", err)
		}
	})

	go c.runEventLoop(ctx)
	go func() {
		if err := c.socket.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Slack socket mode stopped", "error", err)
		}
	}()
	return nil
}

// Stop is a no-op; the socket-mode client stops with the Start context.
func (c *SlackChannel) Stop() error { return nil }

// Send posts a threaded reply, retrying once on Slack rate limiting.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if ts := strings.TrimSpace(msg.ThreadID); ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	_, _, err := c.api.PostMessageContext(ctx, msg.ChatID, opts...)
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		select {
		case <-ctx.Done():
			return err
		case <-time.After(rle.RetryAfter):
		}
		_, _, err = c.api.PostMessageContext(ctx, msg.ChatID, opts...)
	}
	return err
}

func (c *SlackChannel) runEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				slog.Info("Slack socket mode connected")
			case socketmode.EventTypeConnectionError:
				slog.Warn("Slack socket mode connection error")
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					c.socket.Ack(*evt.Request)
				}
				ev, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok || ev.Type != slackevents.CallbackEvent {
					continue
				}
				if in := c.normalizeInner(ev.InnerEvent); in != nil {
					c.Bus.PublishInbound(in)
				}
			}
		}
	}
}

func (c *SlackChannel) normalizeInner(inner slackevents.EventsAPIInnerEvent) *bus.InboundMessage {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev == nil {
			return nil
		}
		return c.normalize(ev.User, ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.TimeStamp, ev.Text)
	case *slackevents.MessageEvent:
		if ev == nil || ev.BotID != "" || ev.SubType == "bot_message" {
			return nil
		}
		msg, eventTS := ev, ev.TimeStamp
		if ev.SubType == "message_changed" {
			// An edit nests the corrected message under the outer event.
			// The outer ts identifies the edit itself, so a corrected
			// question gets a fresh answer instead of deduping against the
			// original delivery.
			if ev.Message == nil || ev.Message.BotID != "" {
				return nil
			}
			msg = ev.Message
		} else if ev.SubType != "" {
			return nil
		}
		channel := firstNonEmpty(ev.Channel, msg.Channel)
		threadTS := firstNonEmpty(msg.ThreadTimeStamp, ev.ThreadTimeStamp)
		// Only direct messages and threaded replies reach the relay here;
		// channel traffic must mention the bot.
		if ev.ChannelType != "im" && threadTS == "" {
			return nil
		}
		return c.normalize(msg.User, channel, threadTS, msg.TimeStamp, eventTS, msg.Text)
	default:
		return nil
	}
}

// normalize converts a Slack event into a canonical inbound message, or nil
// when the event is not a user question (bot echoes, empty senders).
// threadTS/msgTS address the reply; eventTS identifies this delivery and is
// stable across Events API redelivery.
func (c *SlackChannel) normalize(user, channel, threadTS, msgTS, eventTS, text string) *bus.InboundMessage {
	user = strings.TrimSpace(user)
	channel = strings.TrimSpace(channel)
	if user == "" || channel == "" {
		return nil
	}
	if c.cfg.BotUserID != "" && user == c.cfg.BotUserID {
		return nil
	}

	// Replies stay in the triggering message's thread.
	threadID := strings.TrimSpace(threadTS)
	if threadID == "" {
		threadID = strings.TrimSpace(msgTS)
	}
	eventID := ""
	if ts := strings.TrimSpace(eventTS); ts != "" {
		eventID = "slack:" + channel + ":" + ts
	}

	return &bus.InboundMessage{
		Channel:   c.Name(),
		SenderID:  user,
		ChatID:    channel,
		ThreadID:  threadID,
		EventID:   eventID,
		Text:      StripMentions(text),
		Timestamp: time.Now(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// StripMentions removes <@UXXXX> bot mentions and collapses whitespace.
func StripMentions(text string) string {
	cleaned := mentionPattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}
