package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"alert-service/internal/logging"
	"alert-service/internal/messages"
	"alert-service/internal/metrics"
	"alert-service/internal/utils"
)

// CardResponse is a reply to a posted card, from any card channel.
type CardResponse struct {
	MessageID string
	Text      string
}

// Telegram is a card channel backed by a Telegram bot. A card is a message
// with an inline keyboard; its message identifier is "<chat>:<message>".
type Telegram struct {
	bot     *bot.Bot
	limiter *rate.Limiter
	logger  *logging.Logger
	onReply func(ctx context.Context, resp CardResponse)
}

func NewTelegram(token string, ratePerSecond int, logger *logging.Logger) (*Telegram, error) {
	t := &Telegram{
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
		logger:  logger,
	}
	b, err := bot.New(token, bot.WithDefaultHandler(t.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	t.bot = b
	return t, nil
}

// Listen long-polls Telegram and hands every card reply to fn until ctx ends.
func (t *Telegram) Listen(ctx context.Context, fn func(ctx context.Context, resp CardResponse)) {
	t.onReply = fn
	t.bot.Start(ctx)
}

func (t *Telegram) PostCard(ctx context.Context, target CardTarget, card messages.Card) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("telegram rate limit exceeded: %w", err)
	}
	chatID := chatIDParam(target.ChannelID)

	var id string
	err := utils.Retry(t.logger, 3, time.Second, func() error {
		msg, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      chatID,
			Text:        card.Text(),
			ReplyMarkup: keyboard(card),
		})
		if err != nil {
			return fmt.Errorf("failed to send Telegram card to chat %s: %w", target.ChannelID, err)
		}
		id = fmt.Sprintf("%d:%d", msg.Chat.ID, msg.ID)
		return nil
	})
	if err != nil {
		metrics.MessagesSent.WithLabelValues("card", "failed").Inc()
		return "", err
	}
	metrics.MessagesSent.WithLabelValues("card", "delivered").Inc()
	return id, nil
}

func (t *Telegram) UpdateCard(ctx context.Context, target CardTarget, messageID string, card messages.Card) (string, error) {
	chat, msg, err := splitMessageID(messageID)
	if err != nil {
		return "", err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("telegram rate limit exceeded: %w", err)
	}
	err = utils.Retry(t.logger, 3, time.Second, func() error {
		_, err := t.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:      chat,
			MessageID:   msg,
			Text:        card.Text(),
			ReplyMarkup: keyboard(card),
		})
		if err != nil {
			return fmt.Errorf("failed to update Telegram card %s: %w", messageID, err)
		}
		return nil
	})
	if err != nil {
		metrics.MessagesSent.WithLabelValues("card", "failed").Inc()
		return "", err
	}
	metrics.MessagesSent.WithLabelValues("card", "delivered").Inc()
	return messageID, nil
}

// handleUpdate turns button presses and text replies to a card into
// CardResponses.
func (t *Telegram) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if t.onReply == nil {
		return
	}
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID}); err != nil {
			t.logger.Warnf("Failed to answer Telegram callback %s: %v", cq.ID, err)
		}
		if cq.Message.Message == nil {
			return
		}
		m := cq.Message.Message
		t.onReply(ctx, CardResponse{MessageID: fmt.Sprintf("%d:%d", m.Chat.ID, m.ID), Text: cq.Data})
	case update.Message != nil && update.Message.ReplyToMessage != nil:
		m := update.Message.ReplyToMessage
		t.onReply(ctx, CardResponse{MessageID: fmt.Sprintf("%d:%d", m.Chat.ID, m.ID), Text: update.Message.Text})
	}
}

func keyboard(card messages.Card) tgmodels.ReplyMarkup {
	if len(card.Options) == 0 {
		return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: [][]tgmodels.InlineKeyboardButton{}}
	}
	rows := make([][]tgmodels.InlineKeyboardButton, 0, len(card.Options))
	for _, option := range card.Options {
		rows = append(rows, []tgmodels.InlineKeyboardButton{{Text: option, CallbackData: option}})
	}
	return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func chatIDParam(channelID string) any {
	if id, err := strconv.ParseInt(channelID, 10, 64); err == nil {
		return id
	}
	return channelID
}

func splitMessageID(messageID string) (int64, int, error) {
	chatPart, msgPart, ok := strings.Cut(messageID, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid Telegram message id %q", messageID)
	}
	chat, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat in Telegram message id %q: %w", messageID, err)
	}
	msg, err := strconv.Atoi(msgPart)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message in Telegram message id %q: %w", messageID, err)
	}
	return chat, msg, nil
}
