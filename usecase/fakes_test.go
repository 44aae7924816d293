package usecase

import (
	"context"
	"sync"

	"github.com/pipelinecore/pipelinecore/domain"
	"github.com/pipelinecore/pipelinecore/ports"
)

// fakeBillingClient is an in-memory ports.BillingClient with a mutable
// balance and idempotency-key deduplication, so tests can assert a
// repeated charge for the same key is not applied twice.
type fakeBillingClient struct {
	mu       sync.Mutex
	initial  int64
	balances map[string]int64
	charged  map[string]bool // idempotency key -> seen
	charges  []ports.ConsumeCreditsRequest
	getErr   error
}

func newFakeBillingClient(initialBalance int64) *fakeBillingClient {
	return &fakeBillingClient{
		initial:  initialBalance,
		balances: map[string]int64{},
		charged:  map[string]bool{},
	}
}

func (f *fakeBillingClient) GetBalance(ctx context.Context, tenantID string) (ports.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return ports.Balance{}, f.getErr
	}
	amount, ok := f.balances[tenantID]
	if !ok {
		amount = f.initial
	}
	return ports.Balance{TenantID: tenantID, Amount: amount}, nil
}

func (f *fakeBillingClient) ConsumeCredits(ctx context.Context, req ports.ConsumeCreditsRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.charged[req.IdempotencyKey] {
		// Already charged for this key: idempotent no-op success.
		return nil
	}

	balance, ok := f.balances[req.TenantID]
	if !ok {
		balance = f.initial
	}
	if balance < req.Amount {
		return ports.ErrInsufficientCredits
	}

	f.balances[req.TenantID] = balance - req.Amount
	f.charged[req.IdempotencyKey] = true
	f.charges = append(f.charges, req)
	return nil
}

func (f *fakeBillingClient) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

// fakeAgentExecutor is an in-memory ports.AgentExecutor returning a
// configurable result, or an error for the next N calls.
type fakeAgentExecutor struct {
	mu          sync.Mutex
	result      ports.AgentExecuteResult
	failNext    int
	failErr     error
	invocations int
}

func (f *fakeAgentExecutor) Execute(ctx context.Context, req ports.AgentExecuteRequest) (ports.AgentExecuteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invocations++
	if f.failNext > 0 {
		f.failNext--
		return ports.AgentExecuteResult{}, f.failErr
	}
	return f.result, nil
}

// fakeRetryScheduler records scheduled retries and invokes them
// immediately (synchronously) rather than after a real delay, so tests
// stay deterministic.
type fakeRetryScheduler struct {
	mu       sync.Mutex
	onRetry  func(ctx context.Context, stepRunID string, retryCount int)
	attempts []int
}

func (f *fakeRetryScheduler) ScheduleRetry(ctx context.Context, stepRunID string, retryCount int) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, retryCount)
	f.mu.Unlock()
	if f.onRetry != nil {
		f.onRetry(ctx, stepRunID, retryCount)
	}
	return nil
}

// fakeAuditSink records every audit event logged against it.
type fakeAuditSink struct {
	mu     sync.Mutex
	events []ports.AuditEvent
}

func (f *fakeAuditSink) LogEvent(ctx context.Context, event ports.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// cancelAfterNGetsRepo wraps a ports.PipelineRunRepository and flips
// the run to cancelled starting from the Nth GetByID call, simulating
// a concurrent cancellation arriving between the run-step orchestrator's
// cancellation checkpoints.
type cancelAfterNGetsRepo struct {
	ports.PipelineRunRepository
	mu         sync.Mutex
	getCalls   int
	cancelFrom int
}

func (r *cancelAfterNGetsRepo) GetByID(ctx context.Context, id string) (*domain.PipelineRun, error) {
	run, err := r.PipelineRunRepository.GetByID(ctx, id)
	if err != nil || run == nil {
		return run, err
	}
	r.mu.Lock()
	r.getCalls++
	calls := r.getCalls
	r.mu.Unlock()
	if calls >= r.cancelFrom {
		cp := *run
		cp.Status = domain.RunStatusCancelled
		return &cp, nil
	}
	return run, nil
}
