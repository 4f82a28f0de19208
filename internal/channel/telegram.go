package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"granolabot/internal/domain"
	"granolabot/internal/format"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramMaxMsgLen = 4000

// Telegram implements domain.Channel using long polling. Threading maps to
// reply_to_message_id: the summary is posted as a reply to the source message.
type Telegram struct {
	token  string
	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token  string
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	return &Telegram{
		token:  cfg.Token,
		logger: cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, msgBus domain.MessageBus) error {
	t.bus = msgBus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	msgBus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		t.sendReply(msg)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

func (t *Telegram) Stop() error {
	// No-op: the bot stops when Start's context is cancelled.
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID),
		SenderID:  strconv.FormatInt(msg.From.ID, 10),
		FromSelf:  msg.From.ID == t.bot.Self.ID,
		Content:   content,
		Timestamp: msg.Time(),
	})
}

func (t *Telegram) sendReply(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
		return
	}

	replyTo := 0
	if msg.ThreadID != "" {
		if id, err := strconv.Atoi(msg.ThreadID); err == nil {
			replyTo = id
		}
	}

	for _, chunk := range format.Split(msg.Content, telegramMaxMsgLen) {
		out := tgbotapi.NewMessage(chatID, chunk)
		out.ReplyToMessageID = replyTo
		out.DisableWebPagePreview = true
		if _, err := t.bot.Send(out); err != nil {
			t.logger.Error("telegram send failed", "chat", chatID, "err", err)
			return
		}
	}
}
