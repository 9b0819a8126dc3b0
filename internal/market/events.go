package market

import (
	"time"

	"github.com/AfshinJalili/keymarket/libs/kafka"
)

// EventTypeKeyTraded is published after every settled trade.
const EventTypeKeyTraded = "keys.traded"

const keyTradedEventVersion = 1

// KeyTradedEvent is the keys.traded message body.
type KeyTradedEvent struct {
	TradeID     string    `json:"trade_id"`
	Creator     string    `json:"creator"`
	Trader      string    `json:"trader"`
	Side        string    `json:"side"`
	Amount      uint64    `json:"amount"`
	RawPrice    uint64    `json:"raw_price"`
	ProtocolFee uint64    `json:"protocol_fee"`
	CreatorFee  uint64    `json:"creator_fee"`
	Total       uint64    `json:"total"`
	NewSupply   uint64    `json:"new_supply"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// KeyTradedMessage is the full wire message: envelope plus body.
type KeyTradedMessage struct {
	kafka.Envelope
	Payload KeyTradedEvent `json:"payload"`
}

// NewKeyTradedMessage wraps a receipt in an event envelope. The event
// ID is derived from the trade ID so retried publishes stay idempotent.
func NewKeyTradedMessage(receipt *TradeReceipt) (KeyTradedMessage, error) {
	eventID := kafka.DeterministicEventID(EventTypeKeyTraded, receipt.TradeID)
	envelope, err := kafka.NewEnvelopeWithID(eventID, EventTypeKeyTraded, keyTradedEventVersion, receipt.TradeID)
	if err != nil {
		return KeyTradedMessage{}, err
	}
	return KeyTradedMessage{
		Envelope: envelope,
		Payload: KeyTradedEvent{
			TradeID:     receipt.TradeID,
			Creator:     string(receipt.Creator),
			Trader:      string(receipt.Trader),
			Side:        string(receipt.Side),
			Amount:      receipt.Amount,
			RawPrice:    receipt.RawPrice,
			ProtocolFee: receipt.ProtocolFee,
			CreatorFee:  receipt.CreatorFee,
			Total:       receipt.Total,
			NewSupply:   receipt.NewSupply,
			ExecutedAt:  receipt.ExecutedAt,
		},
	}, nil
}
