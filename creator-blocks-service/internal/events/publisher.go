package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config represents NATS event publishing configuration
type Config struct {
	Address  string         `yaml:"address"`
	Subjects SubjectsConfig `yaml:"subjects"`
}

// SubjectsConfig represents the subjects platform events are published on
type SubjectsConfig struct {
	LedgerCredited    string `yaml:"ledger_credited"`
	PurchaseConfirmed string `yaml:"purchase_confirmed"`
	UploadCompleted   string `yaml:"upload_completed"`
	UploadFailed      string `yaml:"upload_failed"`
}

// Connect establishes a connection to the NATS server with retry and
// reconnect handlers.
func Connect(natsAddress string, logger *zap.Logger) (*nats.Conn, error) {
	logger.Info("Attempting to connect to NATS server", zap.String("address", natsAddress))

	nc, err := nats.Connect(
		natsAddress,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second*2),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsAddress, err)
	}

	logger.Info("Successfully connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// Publisher emits block-quota platform events. A nil connection degrades
// to logging only, so the service runs without a broker in development.
type Publisher struct {
	nc       *nats.Conn
	subjects SubjectsConfig
	logger   *zap.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(nc *nats.Conn, subjects SubjectsConfig, logger *zap.Logger) *Publisher {
	return &Publisher{
		nc:       nc,
		subjects: subjects,
		logger:   logger,
	}
}

// LedgerCreditedEvent is published when a ledger gains capacity.
type LedgerCreditedEvent struct {
	CreatorID   string    `json:"creator_id"`
	Blocks      int64     `json:"blocks"`
	Source      string    `json:"source"`
	TotalBlocks int64     `json:"total_blocks"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PurchaseConfirmedEvent is published when a purchase reaches Paid.
type PurchaseConfirmedEvent struct {
	PurchaseID string    `json:"purchase_id"`
	CreatorID  string    `json:"creator_id"`
	Blocks     int64     `json:"blocks"`
	TotalPrice string    `json:"total_price"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UploadEvent is published when an upload intent reaches a terminal state.
type UploadEvent struct {
	IntentID   string    `json:"intent_id"`
	CreatorID  string    `json:"creator_id"`
	VideoID    string    `json:"video_id"`
	State      string    `json:"state"`
	Blocks     int64     `json:"blocks"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// LedgerCredited publishes a ledger credit event.
func (p *Publisher) LedgerCredited(event *LedgerCreditedEvent) {
	p.publish(p.subjects.LedgerCredited, event)
}

// PurchaseConfirmed publishes a purchase confirmation event.
func (p *Publisher) PurchaseConfirmed(event *PurchaseConfirmedEvent) {
	p.publish(p.subjects.PurchaseConfirmed, event)
}

// UploadCompleted publishes an upload completion event.
func (p *Publisher) UploadCompleted(event *UploadEvent) {
	p.publish(p.subjects.UploadCompleted, event)
}

// UploadFailed publishes an upload failure event.
func (p *Publisher) UploadFailed(event *UploadEvent) {
	p.publish(p.subjects.UploadFailed, event)
}

func (p *Publisher) publish(subject string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}

	if p.nc == nil {
		p.logger.Debug("NATS not configured, event logged only",
			zap.String("subject", subject),
			zap.ByteString("event", data),
		)
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
