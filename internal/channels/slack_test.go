package channels

import (
	"testing"

	"github.com/slack-go/slack/slackevents"

	"github.com/BrickRelay/BrickRelay/internal/bus"
	"github.com/BrickRelay/BrickRelay/internal/config"
)

func newTestSlackChannel() *SlackChannel {
	return NewSlackChannel(config.SlackConfig{
		BotToken:  "xoxb-test",
		AppToken:  "xapp-test",
		BotUserID: "UBOT",
	}, bus.NewMessageBus())
}

func TestStripMentions(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"<@U123ABC> how many users?", "how many users?"},
		{"how many <@U123ABC> users?", "how many users?"},
		{"no mention here", "no mention here"},
		{"<@U123ABC>", ""},
		{"  spaced   out  ", "spaced out"},
	}
	for _, tc := range cases {
		if got := StripMentions(tc.in); got != tc.want {
			t.Errorf("StripMentions(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeMention(t *testing.T) {
	c := newTestSlackChannel()

	msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.AppMentionEvent{
		User:            "U1",
		Channel:         "C1",
		TimeStamp:       "1724.0001",
		ThreadTimeStamp: "",
		Text:            "<@UBOT> how many users?",
	}})
	if msg == nil {
		t.Fatal("mention should normalize to an inbound message")
	}
	if msg.Channel != "slack" || msg.SenderID != "U1" || msg.ChatID != "C1" {
		t.Errorf("message misaddressed: %+v", msg)
	}
	if msg.ThreadID != "1724.0001" {
		t.Errorf("unthreaded mention should open a thread on its own ts, got %q", msg.ThreadID)
	}
	if msg.EventID != "slack:C1:1724.0001" {
		t.Errorf("unexpected event id %q", msg.EventID)
	}
	if msg.Text != "how many users?" {
		t.Errorf("mention should be stripped, got %q", msg.Text)
	}
}

func TestNormalizeMentionInThread(t *testing.T) {
	c := newTestSlackChannel()

	msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.AppMentionEvent{
		User:            "U1",
		Channel:         "C1",
		TimeStamp:       "1724.0002",
		ThreadTimeStamp: "1724.0001",
		Text:            "<@UBOT> and last week?",
	}})
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.ThreadID != "1724.0001" {
		t.Errorf("threaded mention should keep the parent thread, got %q", msg.ThreadID)
	}
	if msg.EventID != "slack:C1:1724.0002" {
		t.Errorf("event id should use the message ts, got %q", msg.EventID)
	}
}

func TestNormalizeDirectMessage(t *testing.T) {
	c := newTestSlackChannel()

	msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
		User:        "U1",
		Channel:     "D1",
		ChannelType: "im",
		TimeStamp:   "1724.0003",
		Text:        "how many users?",
	}})
	if msg == nil {
		t.Fatal("DM should normalize to an inbound message")
	}
	if msg.ChatID != "D1" || msg.ThreadID != "1724.0003" {
		t.Errorf("message misaddressed: %+v", msg)
	}
}

func TestNormalizeDropsBotTraffic(t *testing.T) {
	c := newTestSlackChannel()

	// Other bots.
	if msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
		User:        "U2",
		Channel:     "D1",
		ChannelType: "im",
		TimeStamp:   "1724.0004",
		BotID:       "B99",
		Text:        "automated noise",
	}}); msg != nil {
		t.Errorf("bot message should be dropped, got %+v", msg)
	}

	// Our own replies echoed back.
	if msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
		User:        "UBOT",
		Channel:     "D1",
		ChannelType: "im",
		TimeStamp:   "1724.0005",
		Text:        "There are 42 users.",
	}}); msg != nil {
		t.Errorf("own echo should be dropped, got %+v", msg)
	}

	// Joins, deletions and other subtyped noise.
	if msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
		User:        "U1",
		Channel:     "D1",
		ChannelType: "im",
		TimeStamp:   "1724.0006",
		SubType:     "message_deleted",
	}}); msg != nil {
		t.Errorf("subtyped noise should be dropped, got %+v", msg)
	}
}

func TestNormalizeEditedMessage(t *testing.T) {
	c := newTestSlackChannel()

	msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
		Channel:     "D1",
		ChannelType: "im",
		TimeStamp:   "1724.0020",
		SubType:     "message_changed",
		Message: &slackevents.MessageEvent{
			User:      "U1",
			TimeStamp: "1724.0010",
			Text:      "how many users last month?",
		},
	}})
	if msg == nil {
		t.Fatal("edited message should be relayed")
	}
	if msg.Text != "how many users last month?" {
		t.Errorf("expected the corrected text, got %q", msg.Text)
	}
	if msg.SenderID != "U1" || msg.ChatID != "D1" {
		t.Errorf("message misaddressed: %+v", msg)
	}
	if msg.ThreadID != "1724.0010" {
		t.Errorf("reply should land on the original message's thread, got %q", msg.ThreadID)
	}
	if msg.EventID != "slack:D1:1724.0020" {
		t.Errorf("event id should identify the edit, not the original, got %q", msg.EventID)
	}
}

func TestNormalizeEditedMessageInThread(t *testing.T) {
	c := newTestSlackChannel()

	msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
		Channel:   "C1",
		TimeStamp: "1724.0021",
		SubType:   "message_changed",
		Message: &slackevents.MessageEvent{
			User:            "U1",
			TimeStamp:       "1724.0011",
			ThreadTimeStamp: "1724.0001",
			Text:            "and by region?",
		},
	}})
	if msg == nil {
		t.Fatal("edited threaded reply should be relayed")
	}
	if msg.ThreadID != "1724.0001" {
		t.Errorf("edit should keep the parent thread, got %q", msg.ThreadID)
	}
}

func TestNormalizeEditedBotMessageDropped(t *testing.T) {
	c := newTestSlackChannel()

	if msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
		Channel:     "D1",
		ChannelType: "im",
		TimeStamp:   "1724.0022",
		SubType:     "message_changed",
		Message: &slackevents.MessageEvent{
			BotID:     "B99",
			TimeStamp: "1724.0012",
			Text:      "edited bot text",
		},
	}}); msg != nil {
		t.Errorf("edited bot message should be dropped, got %+v", msg)
	}
}

func TestNormalizeDropsUnthreadedChannelChatter(t *testing.T) {
	c := newTestSlackChannel()

	if msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
		User:      "U1",
		Channel:   "C1",
		TimeStamp: "1724.0007",
		Text:      "unrelated channel talk",
	}}); msg != nil {
		t.Errorf("channel message without mention or thread should be dropped, got %+v", msg)
	}
}

func TestNormalizeDropsEmptySender(t *testing.T) {
	c := newTestSlackChannel()

	if msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.AppMentionEvent{
		Channel:   "C1",
		TimeStamp: "1724.0008",
		Text:      "<@UBOT> hello",
	}}); msg != nil {
		t.Errorf("event without a sender should be dropped, got %+v", msg)
	}
}

func TestNormalizeUnknownEvent(t *testing.T) {
	c := newTestSlackChannel()

	if msg := c.normalizeInner(slackevents.EventsAPIInnerEvent{Data: &slackevents.ReactionAddedEvent{}}); msg != nil {
		t.Errorf("unhandled event types should be ignored, got %+v", msg)
	}
}
