package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"granolabot/internal/bus"
	"granolabot/internal/domain"
	"granolabot/internal/format"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// slackSkipSubtypes are message subtypes that never carry a new note link.
var slackSkipSubtypes = map[string]bool{
	"message_changed": true,
	"message_deleted": true,
	"channel_join":    true,
	"channel_leave":   true,
}

// Slack implements domain.Channel for Slack using Socket Mode.
// Messages from other bots are published too: the Granola Slack app posts
// note links as attachment cards, and those should be summarized as well.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	bus      domain.MessageBus
	events   *bus.EventBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID
	botID    string // the bot's own bot ID (set on messages we post)
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Events   *bus.EventBus // optional
	Logger   *slog.Logger
}

// NewSlack creates a new Slack channel adapter.
func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and begins listening for events.
func (s *Slack) Start(ctx context.Context, msgBus domain.MessageBus) error {
	s.bus = msgBus

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.botID = authResp.BotID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	msgBus.OnOutbound("slack", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		s.postReply(msg)
	})

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error {
	// The socket client stops when Start's context is cancelled.
	return nil
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}

	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if slackSkipSubtypes[ev.SubType] {
		return
	}

	content := gatherText(ev.Text, ev.Attachments, ev.Blocks)
	if content == "" {
		return
	}

	fromSelf := (ev.User != "" && ev.User == s.botUID) ||
		(ev.BotID != "" && ev.BotID == s.botID)

	s.logger.Debug("slack message received",
		"user", ev.User,
		"bot_id", ev.BotID,
		"channel", ev.Channel,
		"content_len", len(content),
	)

	s.bus.Publish(domain.InboundMessage{
		Channel:   "slack",
		ChatID:    ev.Channel,
		MessageID: ev.TimeStamp,
		SenderID:  ev.User,
		FromSelf:  fromSelf,
		Content:   content,
		ThreadID:  ev.ThreadTimeStamp,
		Timestamp: slackTimestamp(ev.TimeStamp),
	})
}

// gatherText collects candidate text from the message body, attachment
// cards, and rich blocks. The Granola Slack app posts links inside
// attachments or block elements rather than the message text.
func gatherText(text string, attachments []slack.Attachment, blocks slack.Blocks) string {
	parts := make([]string, 0, 1+len(attachments))
	if text != "" {
		parts = append(parts, text)
	}
	for _, att := range attachments {
		for _, field := range []string{att.TitleLink, att.FromURL, att.OriginalURL, att.Text, att.Fallback} {
			if field != "" {
				parts = append(parts, field)
			}
		}
	}
	parts = append(parts, gatherBlocks(blocks)...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// gatherBlocks pulls section text and rich-text link URLs out of Block Kit
// blocks.
func gatherBlocks(blocks slack.Blocks) []string {
	var parts []string
	for _, block := range blocks.BlockSet {
		switch b := block.(type) {
		case *slack.SectionBlock:
			if b.Text != nil && b.Text.Text != "" {
				parts = append(parts, b.Text.Text)
			}
		case *slack.RichTextBlock:
			for _, el := range b.Elements {
				section, ok := el.(*slack.RichTextSection)
				if !ok {
					continue
				}
				for _, sub := range section.Elements {
					if link, ok := sub.(*slack.RichTextSectionLinkElement); ok && link.URL != "" {
						parts = append(parts, link.URL)
					}
				}
			}
		}
	}
	return parts
}

// slackTimestamp parses a Slack ts ("1700000000.000100") into a time.Time.
// The fractional part is a uniqueness counter, but treating it as sub-second
// time keeps ordering and is how the startup cutoff compares events.
func slackTimestamp(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Now()
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func (s *Slack) postReply(msg domain.OutboundMessage) {
	chunks := format.Split(msg.Content, slackMaxMsgLen)
	for _, chunk := range chunks {
		opts := []slack.MsgOption{
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionDisableLinkUnfurl(),
			slack.MsgOptionDisableMediaUnfurl(),
		}
		if msg.ThreadID != "" {
			opts = append(opts, slack.MsgOptionTS(msg.ThreadID))
		}
		_, _, err := s.client.PostMessage(msg.ChatID, opts...)
		if err != nil {
			s.logger.Error("slack post failed", "channel", msg.ChatID, "err", err)
			if s.events != nil {
				s.events.Emit(bus.Event{
					Type:   bus.EventReplyFailed,
					Source: "slack",
					Payload: map[string]any{
						"channel": msg.ChatID,
						"thread":  msg.ThreadID,
						"error":   err.Error(),
					},
				})
			}
			return
		}
	}
}
