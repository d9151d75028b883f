package telephony

import (
	"context"
	"fmt"
	"sync"
)

// FakeProvider is a scriptable in-memory provider for tests and local
// development. By default every call is accepted with a generated handle.
type FakeProvider struct {
	mu sync.Mutex

	// RejectNext makes the next n initiations return Accepted=false.
	rejectNext int
	// Err, when set, is returned from every initiation.
	err error

	calls  []InitiateCallRequest
	nextID int
}

func NewFakeProvider() *FakeProvider { return &FakeProvider{} }

func (p *FakeProvider) Name() string { return "fake" }

func (p *FakeProvider) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// RejectNext scripts the next n calls to be rejected synchronously.
func (p *FakeProvider) RejectNext(n int) {
	p.mu.Lock()
	p.rejectNext = n
	p.mu.Unlock()
}

// FailWith scripts every call to fail with err (nil clears).
func (p *FakeProvider) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Calls returns a copy of every initiation seen so far.
func (p *FakeProvider) Calls() []InitiateCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]InitiateCallRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *FakeProvider) InitiateCall(ctx context.Context, req InitiateCallRequest) (InitiateCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return InitiateCallResult{}, p.err
	}
	p.calls = append(p.calls, req)
	if p.rejectNext > 0 {
		p.rejectNext--
		return InitiateCallResult{Accepted: false, Reason: "provider rejected"}, nil
	}
	p.nextID++
	return InitiateCallResult{
		Accepted:   true,
		ExternalID: fmt.Sprintf("fake-call-%d", p.nextID),
	}, nil
}
