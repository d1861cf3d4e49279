// Package events publishes committed ledger entries to kafka.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"wallet_ledger/internal/wallet"
)

// LedgerEntry is the message written for every committed transaction row.
type LedgerEntry struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	UserID        string          `json:"user_id"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	OriginType    string          `json:"origin_type"`
	OriginID      string          `json:"origin_id"`
	CreatedAt     time.Time       `json:"created_at"`
	TsUnixMs      int64           `json:"ts_unix_ms"`
}

func NewLedgerEntry(t *wallet.Transaction) LedgerEntry {
	return LedgerEntry{
		TransactionID: t.TransactionID,
		AccountID:     t.AccountID,
		UserID:        t.UserID,
		Kind:          string(t.Kind),
		Amount:        t.Amount,
		BalanceAfter:  t.BalanceAfter,
		OriginType:    string(t.OriginType),
		OriginID:      t.OriginID,
		CreatedAt:     t.CreatedAt,
	}
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter builds a writer for a comma separated broker list.
func NewWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

type KafkaPublisher struct {
	Writer  MessageWriter
	Timeout time.Duration
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{Writer: w, Timeout: 5 * time.Second}
}

// PublishEntry writes t keyed by account id, so one account's entries stay
// ordered within a partition.
func (p *KafkaPublisher) PublishEntry(ctx context.Context, t *wallet.Transaction) error {
	e := NewLedgerEntry(t)
	e.TsUnixMs = time.Now().UnixMilli()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.AccountID),
		Value: b,
		Time:  time.Now(),
	})
}
