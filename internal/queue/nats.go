package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/processor"
	"github.com/nathanyu/transfer-actuator/internal/telemetry"
)

// NATSClient wraps the NATS connection used to submit transactions
type NATSClient struct {
	conn *nats.Conn
}

// NewNATSClient connects to url with reconnect logging
func NewNATSClient(url string) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name("transfer-actuator"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSClient{conn: conn}, nil
}

// NewNATSClientFromConn wraps an existing connection
func NewNATSClientFromConn(conn *nats.Conn) *NATSClient {
	return &NATSClient{conn: conn}
}

// Conn returns the underlying NATS connection
func (c *NATSClient) Conn() *nats.Conn {
	return c.conn
}

// Submit sends a transaction and waits for the processor's reply
func (c *NATSClient) Submit(tx domain.Transaction, timeout time.Duration) (*processor.CommandResponse, error) {
	data, err := json.Marshal(domain.NewTransactionCommand(tx))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	msg, err := c.conn.Request(processor.TransactionSubject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to submit transaction: %w", err)
	}
	telemetry.NATSMessagesPublished.WithLabelValues(processor.TransactionSubject).Inc()

	var resp processor.CommandResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// SubmitAsync sends a transaction without waiting for the outcome
func (c *NATSClient) SubmitAsync(tx domain.Transaction) error {
	data, err := json.Marshal(domain.NewTransactionCommand(tx))
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	if err := c.conn.Publish(processor.TransactionSubject, data); err != nil {
		return fmt.Errorf("failed to submit transaction: %w", err)
	}
	telemetry.NATSMessagesPublished.WithLabelValues(processor.TransactionSubject).Inc()
	return nil
}

// Close drains and closes the connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Drain()
		c.conn.Close()
	}
}
