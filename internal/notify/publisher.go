// Package notify publishes securing lifecycle events on the platform bus.
// Consumers such as audit dashboards subscribe to the securing.> subjects;
// publishing is fire-and-forget and never gates a run.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// Subjects carrying securing lifecycle messages.
const (
	SubjectOperationStarted  = "securing.operations.started"
	SubjectOperationTerminal = "securing.operations.terminal"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "arkheion-securing",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Publisher sends securing lifecycle messages over NATS.
type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewPublisher connects to NATS and returns a publisher.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{conn: conn, logger: logger}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// startedMessage announces the creation of a securing operation.
type startedMessage struct {
	OperationID string                  `json:"operationId"`
	Tenant      int                     `json:"tenant"`
	Type        models.TraceabilityType `json:"type"`
	StartedAt   time.Time               `json:"startedAt"`
}

// terminalMessage announces the terminal outcome of a securing operation.
// Event is present only for successful runs.
type terminalMessage struct {
	OperationID string                    `json:"operationId"`
	Tenant      int                       `json:"tenant"`
	Type        models.TraceabilityType   `json:"type"`
	Outcome     models.Outcome            `json:"outcome"`
	EndedAt     time.Time                 `json:"endedAt"`
	Event       *models.TraceabilityEvent `json:"event,omitempty"`
}

// OperationStarted publishes the creation of a securing operation.
func (p *Publisher) OperationStarted(_ context.Context, op *models.Operation) {
	msg := startedMessage{
		OperationID: op.ID,
		Tenant:      op.Tenant,
		Type:        op.Type,
		StartedAt:   time.Now().UTC(),
	}
	p.publish(SubjectOperationStarted, msg)
}

// OperationTerminal publishes the terminal outcome of a securing operation.
func (p *Publisher) OperationTerminal(_ context.Context, op *models.Operation, outcome models.Outcome, ev *models.TraceabilityEvent) {
	msg := terminalMessage{
		OperationID: op.ID,
		Tenant:      op.Tenant,
		Type:        op.Type,
		Outcome:     outcome,
		EndedAt:     time.Now().UTC(),
		Event:       ev,
	}
	p.publish(SubjectOperationTerminal, msg)
}

func (p *Publisher) publish(subject string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn("failed to marshal bus message",
			"subject", subject, "error", err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish bus message",
			"subject", subject, "error", err)
	}
}
