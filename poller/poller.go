package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"email-signer/shared"
)

const (
	DefaultInterval   = 2 * time.Second
	DefaultMaxRetries = 100
)

// State of the poller
type State int

const (
	StateIdle State = iota
	StatePolling
	StateSucceeded
	StateFailed
	StateTimedOut
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further status calls will be made
func (s State) Terminal() bool {
	return s != StateIdle && s != StatePolling
}

// StatusSource is the part of the relayer client the poller needs
type StatusSource interface {
	GetProofStatus(ctx context.Context, handle string) (shared.ProofStatus, error)
}

// Config controls the polling cadence and retry budget
type Config struct {
	Interval   time.Duration
	MaxRetries int
	Steps      *shared.StepLog // optional user-visible log
}

// Result is the terminal outcome of one Poll call
type Result struct {
	State    State
	Material *shared.ProofMaterial // set only when State == StateSucceeded
	Retries  int
	Err      error // nil only when State == StateSucceeded
}

// Poller drives GetProofStatus to a terminal state under a bounded retry budget.
// At most one poll loop is active per Poller; starting a new one stops the previous.
type Poller struct {
	source     StatusSource
	interval   time.Duration
	maxRetries int
	logger     *shared.Logger
	steps      *shared.StepLog

	startMu sync.Mutex // serializes Poll start-up

	mu      sync.Mutex
	state   State
	retries int
	handle  string
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an idle poller
func New(source StatusSource, config Config, logger *shared.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = shared.NopLogger()
	}
	return &Poller{
		source:     source,
		interval:   config.Interval,
		maxRetries: config.MaxRetries,
		logger:     logger,
		steps:      config.Steps,
		state:      StateIdle,
	}
}

// Poll blocks until the proof for handle is ready, the retry budget is spent,
// the relayer rejects the request, or the poll is cancelled.
func (p *Poller) Poll(ctx context.Context, handle string) Result {
	p.startMu.Lock()
	p.stopActive()

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.state = StatePolling
	p.retries = 0
	p.handle = handle
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()
	p.startMu.Unlock()

	defer close(done)
	defer cancel()

	p.step("Waiting for email proof...")
	result := p.run(pollCtx, handle)

	p.mu.Lock()
	if p.done == done {
		p.state = result.State
		p.cancel = nil
		p.done = nil
	}
	p.mu.Unlock()

	return result
}

// Cancel stops the active poll, if any, and waits for its loop to exit.
// Status responses arriving after cancellation are discarded.
func (p *Poller) Cancel() {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	p.stopActive()
}

// State returns the current state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Retries returns the retry budget consumed by the current or last poll
func (p *Poller) Retries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retries
}

// Handle returns the proof request handle of the current or last poll
func (p *Poller) Handle() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

func (p *Poller) stopActive() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context, handle string) Result {
	logger := p.logger.With(zap.String("proof_id", handle))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Proof polling cancelled", zap.Int("retries", retries))
			return Result{State: StateCancelled, Retries: retries, Err: shared.ErrPollCancelled}
		case <-ticker.C:
		}

		status, err := p.source.GetProofStatus(ctx, handle)
		if ctx.Err() != nil {
			return Result{State: StateCancelled, Retries: retries, Err: shared.ErrPollCancelled}
		}

		if err != nil {
			var relayerErr *shared.RelayerError
			if errors.As(err, &relayerErr) && !relayerErr.Transient() {
				p.step(fmt.Sprintf("Error checking proof status: %s", relayerErr.Body))
				logger.Warn("Relayer rejected proof request", zap.Int("status", relayerErr.StatusCode))
				return Result{
					State:   StateFailed,
					Retries: retries,
					Err:     fmt.Errorf("%w: %v", shared.ErrProofRejected, err),
				}
			}
			p.step(fmt.Sprintf("Error polling for proof: %v", err))
			logger.Debug("Proof status call failed", zap.Error(err))
			retries = p.consume(retries)
		} else {
			switch status.Kind {
			case shared.ProofReady:
				if status.Material == nil {
					p.step("Error getting proof: empty proof material")
					retries = p.consume(retries)
					break
				}
				p.step("Email proof received!")
				logger.Info("Email proof received", zap.Int("retries", retries))
				return Result{State: StateSucceeded, Material: status.Material, Retries: retries}
			case shared.ProofError:
				p.step(fmt.Sprintf("Error getting proof: %s", status.Message))
				logger.Debug("Relayer reported proof error", zap.String("message", status.Message))
				retries = p.consume(retries)
			case shared.ProofPending:
				retries = p.consume(retries)
			default:
				retries = p.consume(retries)
			}
		}

		if retries >= p.maxRetries {
			p.step("Timed out waiting for email proof")
			logger.Warn("Timed out waiting for email proof", zap.Int("retries", retries))
			return Result{State: StateTimedOut, Retries: retries, Err: shared.ErrPollTimedOut}
		}
	}
}

func (p *Poller) consume(retries int) int {
	retries++
	p.mu.Lock()
	p.retries = retries
	p.mu.Unlock()
	return retries
}

func (p *Poller) step(msg string) {
	if p.steps != nil {
		p.steps.Add(msg)
	}
}
