// Package notify implements outbound Telegram notifications for trade
// lifecycle events. There is no inbound command listener here - message
// ingestion from the chat platform is out of scope (§1) - this sends only.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/tradecore/internal/database"
)

// Notifier sends fire-and-forget Telegram messages on state transitions.
// A nil *Notifier (no token configured) is valid and every method is a
// no-op against it.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New connects the Telegram client. If token is empty, notifications are
// disabled and New returns (nil, nil).
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" {
		log.Warn().Msg("no telegram token configured, notifications disabled")
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("telegram notifier connected")
	return &Notifier{api: api, chatID: chatID}, nil
}

func (n *Notifier) send(text string) {
	if n == nil || n.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("telegram send failed")
	}
}

// TradeOpened notifies on a successful entry.
func (n *Notifier) TradeOpened(t *database.Trade) {
	n.send(fmt.Sprintf("opened %s %s %s @ %s (trade #%d)", t.Exchange, t.Side, t.Coin, t.EntryPrice.String(), t.ID))
}

// TradeFailed notifies on a FAILED trade.
func (n *Notifier) TradeFailed(t *database.Trade, reason string) {
	n.send(fmt.Sprintf("entry failed for %s %s: %s (trade #%d)", t.Exchange, t.Coin, reason, t.ID))
}

// TradeClosed notifies on a close, successful or reconciled.
func (n *Notifier) TradeClosed(t *database.Trade, reason string) {
	n.send(fmt.Sprintf("closed %s %s (%s) (trade #%d)", t.Exchange, t.Coin, reason, t.ID))
}

// AuditAlert notifies on a high-risk or missing-bracket audit finding.
func (n *Notifier) AuditAlert(tradeID uint, state string) {
	n.send(fmt.Sprintf("audit: trade #%d is %s", tradeID, state))
}
