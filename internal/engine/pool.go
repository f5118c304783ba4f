package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/sqllink/sqllink/internal/query"
)

const DefaultWorkers = 5

type PoolConfig struct {
	Workers int
	Encoder query.Encoder
	Now     func() time.Time
}

// Pool runs tasks on a fixed set of workers. Requests beyond the worker count
// queue without bound; time spent queued counts against the request timeout.
type Pool struct {
	workers *ants.Pool
	encoder query.Encoder
	logger  *slog.Logger
	now     func() time.Time
}

type taskOutcome struct {
	response query.Response
	err      error
}

func NewPool(cfg PoolConfig, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	size := cfg.Workers
	if size <= 0 {
		size = DefaultWorkers
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	workers, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		logger.Error("query worker panic escaped task", slog.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Pool{workers: workers, encoder: cfg.Encoder, logger: logger, now: now}, nil
}

func (p *Pool) Size() int {
	return p.workers.Cap()
}

// Submit blocks until the request completes or its timeout expires. The
// timeout runs from request.SubmittedAt, or from this call when it is unset.
// It always returns a response for request.ID.
func (p *Pool) Submit(ctx context.Context, conn query.Conn, request query.Request) query.Response {
	if ctx == nil {
		ctx = context.Background()
	}
	submittedAt := request.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	timeout := request.EffectiveTimeout()
	taskCtx, cancel := context.WithDeadline(ctx, submittedAt.Add(timeout))
	defer cancel()

	task := NewTask(conn, request, TaskOptions{Encoder: p.encoder, Now: p.now})
	outcome := make(chan taskOutcome, 1)
	run := func() {
		queueWaitSeconds.Observe(time.Since(submittedAt).Seconds())
		queriesInFlight.Inc()
		defer queriesInFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				outcome <- taskOutcome{err: fmt.Errorf("query worker panic: %v", r)}
			}
		}()
		response, err := task.Run(taskCtx)
		outcome <- taskOutcome{response: response, err: err}
	}
	// ants blocks the submitter while every worker is busy, so dispatch off
	// the waiting goroutine to keep the deadline authoritative.
	go func() {
		if err := p.workers.Submit(run); err != nil {
			outcome <- taskOutcome{err: fmt.Errorf("dispatch query: %w", err)}
		}
	}()

	select {
	case result := <-outcome:
		// A task that finished as its deadline passed still loses to the timeout.
		if result.err == nil && taskCtx.Err() == nil {
			if result.response.Error != "" {
				p.logger.Info("query failed",
					slog.String("msg_id", string(request.ID)),
					slog.String("error", result.response.Error),
				)
				observeOutcome(outcomeError, time.Since(submittedAt))
			} else {
				observeOutcome(outcomeSuccess, time.Since(submittedAt))
			}
			return result.response
		}
		task.Cancel()
		cancel()
		if result.err != nil {
			p.logger.Error("query execution fault",
				slog.String("msg_id", string(request.ID)),
				slog.Any("error", result.err),
			)
		} else {
			p.logger.Warn("query finished past its deadline",
				slog.String("msg_id", string(request.ID)),
				slog.Duration("timeout", timeout),
			)
		}
	case <-taskCtx.Done():
		task.Cancel()
		cancel()
		reason := "query timed out"
		if !errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			reason = "query interrupted"
		}
		p.logger.Warn(reason,
			slog.String("msg_id", string(request.ID)),
			slog.Duration("timeout", timeout),
		)
	}
	observeOutcome(outcomeTimeout, time.Since(submittedAt))
	return query.TimeoutResponse(request.ID)
}

func (p *Pool) Close(timeout time.Duration) error {
	if err := p.workers.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("release worker pool: %w", err)
	}
	return nil
}
