package channel

import (
	"context"
	"fmt"
	"log/slog"

	"granolabot/internal/domain"
	"granolabot/internal/format"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel. Threading maps to a message reference:
// the summary is posted as a reply to the source message.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord channel adapter.
func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord and begins listening for messages.
func (d *Discord) Start(ctx context.Context, msgBus domain.MessageBus) error {
	d.bus = msgBus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	d.session = session

	msgBus.OnOutbound("discord", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		d.sendReply(msg)
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		if m.Content == "" {
			return
		}

		threadID := ""
		if m.MessageReference != nil {
			threadID = m.MessageReference.MessageID
		}

		d.bus.Publish(domain.InboundMessage{
			Channel:   "discord",
			ChatID:    m.ChannelID,
			MessageID: m.ID,
			SenderID:  m.Author.ID,
			FromSelf:  m.Author.ID == s.State.User.ID,
			Content:   m.Content,
			ThreadID:  threadID,
			Timestamp: m.Timestamp,
		})
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord channel stopping")
	return session.Close()
}

func (d *Discord) Stop() error {
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func (d *Discord) sendReply(msg domain.OutboundMessage) {
	ref := &discordgo.MessageReference{
		MessageID: msg.ThreadID,
		ChannelID: msg.ChatID,
	}
	for _, chunk := range format.Split(msg.Content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSendReply(msg.ChatID, chunk, ref); err != nil {
			d.logger.Error("discord send failed", "channel", msg.ChatID, "err", err)
			return
		}
	}
}
