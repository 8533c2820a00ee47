package handler

import (
	"context"
	"time"

	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/processor"
	"github.com/nathanyu/transfer-actuator/internal/queue"
)

// Submitter hands a transaction to the processor and returns its outcome
type Submitter interface {
	Submit(ctx context.Context, tx domain.Transaction) (*processor.Outcome, error)
}

// DirectSubmitter calls an in-process processor
type DirectSubmitter struct {
	Processor *processor.Processor
}

func (s DirectSubmitter) Submit(ctx context.Context, tx domain.Transaction) (*processor.Outcome, error) {
	return s.Processor.Process(ctx, tx)
}

// NATSSubmitter sends transactions over the command bus
type NATSSubmitter struct {
	Client  *queue.NATSClient
	Timeout time.Duration
}

func (s NATSSubmitter) Submit(ctx context.Context, tx domain.Transaction) (*processor.Outcome, error) {
	timeout := s.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout || timeout == 0 {
			timeout = left
		}
	}

	resp, err := s.Client.Submit(tx, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Result()
}
