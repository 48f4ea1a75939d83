package poller

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"email-signer/shared"
)

const testInterval = 5 * time.Millisecond

type step struct {
	status shared.ProofStatus
	err    error
}

// scriptedSource replays steps in order, repeating the last one forever
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int32
}

func (s *scriptedSource) GetProofStatus(ctx context.Context, handle string) (shared.ProofStatus, error) {
	n := atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := int(n) - 1
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	return s.steps[idx].status, s.steps[idx].err
}

func (s *scriptedSource) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

func pending(n int) []step {
	out := make([]step, n)
	for i := range out {
		out[i] = step{status: shared.PendingStatus()}
	}
	return out
}

func testMaterial() *shared.ProofMaterial {
	return &shared.ProofMaterial{
		TemplateID:           big.NewInt(7),
		CommandParams:        [][]byte{{0x01}},
		SkippedCommandPrefix: big.NewInt(0),
		Proof:                shared.EmailProof{DomainName: "example.com", Timestamp: big.NewInt(1)},
	}
}

func newTestPoller(t *testing.T, source StatusSource, maxRetries int) *Poller {
	return New(source, Config{Interval: testInterval, MaxRetries: maxRetries, Steps: shared.NewStepLog()},
		shared.WrapLogger(zaptest.NewLogger(t), "poller-test"))
}

func TestPollSucceedsAfterPending(t *testing.T) {
	material := testMaterial()
	source := &scriptedSource{steps: append(pending(3), step{status: shared.ReadyStatus(material)})}
	p := newTestPoller(t, source, 10)

	result := p.Poll(context.Background(), "req-1")

	require.Equal(t, StateSucceeded, result.State)
	require.NoError(t, result.Err)
	require.Same(t, material, result.Material)
	require.Equal(t, 3, result.Retries)
	require.Equal(t, 4, source.Calls())
	require.Equal(t, StateSucceeded, p.State())

	// no status calls after the terminal transition
	time.Sleep(5 * testInterval)
	require.Equal(t, 4, source.Calls())
}

func TestPollTimesOut(t *testing.T) {
	const maxRetries = 5
	source := &scriptedSource{steps: pending(1)}
	p := newTestPoller(t, source, maxRetries)

	result := p.Poll(context.Background(), "req-1")

	require.Equal(t, StateTimedOut, result.State)
	require.ErrorIs(t, result.Err, shared.ErrPollTimedOut)
	require.Nil(t, result.Material)
	require.Equal(t, maxRetries, source.Calls())

	time.Sleep(5 * testInterval)
	require.Equal(t, maxRetries, source.Calls())
	require.Equal(t, maxRetries, p.Retries())
}

func TestPollErrorsConsumeBudget(t *testing.T) {
	transportErr := shared.NewRelayerError("status", 0, "", errors.New("connection refused"))
	unavailable := shared.NewRelayerError("status", http.StatusServiceUnavailable, "busy", nil)
	source := &scriptedSource{steps: []step{
		{err: transportErr},
		{status: shared.ErrorStatus("prover busy")},
		{err: unavailable},
		{err: errors.New("unexpected EOF")},
		{status: shared.ReadyStatus(testMaterial())},
	}}
	p := newTestPoller(t, source, 10)

	result := p.Poll(context.Background(), "req-1")

	require.Equal(t, StateSucceeded, result.State)
	require.Equal(t, 4, result.Retries)
	require.Equal(t, 5, source.Calls())
}

func TestPollErrorsCanTimeOut(t *testing.T) {
	source := &scriptedSource{steps: []step{{status: shared.ErrorStatus("still failing")}}}
	p := newTestPoller(t, source, 3)

	result := p.Poll(context.Background(), "req-1")

	require.Equal(t, StateTimedOut, result.State)
	require.Equal(t, 3, source.Calls())
}

func TestPollPermanentRejectionFails(t *testing.T) {
	source := &scriptedSource{steps: []step{
		{status: shared.PendingStatus()},
		{err: shared.NewRelayerError("status", http.StatusNotFound, "unknown id", nil)},
	}}
	p := newTestPoller(t, source, 10)

	result := p.Poll(context.Background(), "req-1")

	require.Equal(t, StateFailed, result.State)
	require.ErrorIs(t, result.Err, shared.ErrProofRejected)
	require.Equal(t, 2, source.Calls())
}

func TestPollReadyWithoutMaterialIsRetried(t *testing.T) {
	source := &scriptedSource{steps: []step{
		{status: shared.ProofStatus{Kind: shared.ProofReady}},
		{status: shared.ReadyStatus(testMaterial())},
	}}
	p := newTestPoller(t, source, 10)

	result := p.Poll(context.Background(), "req-1")
	require.Equal(t, StateSucceeded, result.State)
	require.Equal(t, 1, result.Retries)
}

func TestCancelStopsPolling(t *testing.T) {
	source := &scriptedSource{steps: pending(1)}
	p := newTestPoller(t, source, 1000)

	results := make(chan Result, 1)
	go func() {
		results <- p.Poll(context.Background(), "req-1")
	}()

	require.Eventually(t, func() bool { return source.Calls() >= 3 }, time.Second, time.Millisecond)
	p.Cancel()

	result := <-results
	require.Equal(t, StateCancelled, result.State)
	require.ErrorIs(t, result.Err, shared.ErrPollCancelled)
	require.Equal(t, StateCancelled, p.State())

	callsAfterCancel := source.Calls()
	time.Sleep(10 * testInterval)
	require.Equal(t, callsAfterCancel, source.Calls())
}

func TestContextCancellationStopsPolling(t *testing.T) {
	source := &scriptedSource{steps: pending(1)}
	p := newTestPoller(t, source, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 8*testInterval)
	defer cancel()

	result := p.Poll(ctx, "req-1")
	require.Equal(t, StateCancelled, result.State)

	calls := source.Calls()
	time.Sleep(10 * testInterval)
	require.Equal(t, calls, source.Calls())
}

func TestNewPollStopsPrevious(t *testing.T) {
	first := &switchingSource{}
	p := newTestPoller(t, first, 1000)

	firstResult := make(chan Result, 1)
	go func() {
		firstResult <- p.Poll(context.Background(), "req-1")
	}()
	require.Eventually(t, func() bool { return first.CallsFor("req-1") >= 2 }, time.Second, time.Millisecond)

	first.ReadyFor("req-2")
	second := p.Poll(context.Background(), "req-2")

	require.Equal(t, StateCancelled, (<-firstResult).State)
	require.Equal(t, StateSucceeded, second.State)
	require.Equal(t, "req-2", p.Handle())

	callsForFirst := first.CallsFor("req-1")
	time.Sleep(10 * testInterval)
	require.Equal(t, callsForFirst, first.CallsFor("req-1"))
}

func TestCancelWhenIdle(t *testing.T) {
	p := newTestPoller(t, &scriptedSource{steps: pending(1)}, 3)
	p.Cancel()
	require.Equal(t, StateIdle, p.State())
}

func TestStepLogEntries(t *testing.T) {
	steps := shared.NewStepLog()
	source := &scriptedSource{steps: []step{
		{status: shared.ErrorStatus("prover busy")},
		{status: shared.ReadyStatus(testMaterial())},
	}}
	p := New(source, Config{Interval: testInterval, MaxRetries: 5, Steps: steps}, nil)

	p.Poll(context.Background(), "req-1")

	entries := steps.Entries()
	require.Len(t, entries, 3)
	require.Contains(t, entries[0], "Waiting for email proof...")
	require.Contains(t, entries[1], "Error getting proof: prover busy")
	require.Contains(t, entries[2], "Email proof received!")
}

// switchingSource keeps handles pending until marked ready
type switchingSource struct {
	mu    sync.Mutex
	calls map[string]int
	ready map[string]bool
}

func (s *switchingSource) GetProofStatus(ctx context.Context, handle string) (shared.ProofStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[handle]++
	if s.ready[handle] {
		return shared.ReadyStatus(testMaterial()), nil
	}
	return shared.PendingStatus(), nil
}

func (s *switchingSource) ReadyFor(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready == nil {
		s.ready = make(map[string]bool)
	}
	s.ready[handle] = true
}

func (s *switchingSource) CallsFor(handle string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[handle]
}
