package retry

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned by Record once the budget is used up.
var ErrExhausted = errors.New("retry budget exhausted")

// Policy configures a Budget.
type Policy struct {
	// Name identifies the budget in logs and status.
	Name string
	// MaxAttempts is the number of attempts allowed. Zero allows none.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Escalate is called once when the budget becomes exhausted.
	Escalate func(name string, attempts int)
}

// Budget tracks attempts against a Policy. It is safe for concurrent use.
type Budget struct {
	policy Policy

	mu        sync.Mutex
	attempts  int
	escalated bool
	backoff   *backoff.ExponentialBackOff
}

// NewBudget creates a Budget.
func NewBudget(p Policy) *Budget {
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	b := &Budget{policy: p}
	b.backoff = newBackOff(p)
	return b
}

func newBackOff(p Policy) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialBackoff
	bo.MaxInterval = p.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Name returns the policy name.
func (b *Budget) Name() string { return b.policy.Name }

// Max returns the number of attempts allowed.
func (b *Budget) Max() int { return b.policy.MaxAttempts }

// Allow reports whether another attempt may be made.
func (b *Budget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts < b.policy.MaxAttempts
}

// Record counts one failed attempt. It returns the delay to wait before the
// next attempt, or ErrExhausted when no attempts remain. The escalation
// callback runs, outside the lock, the first time ErrExhausted is returned.
func (b *Budget) Record() (time.Duration, error) {
	b.mu.Lock()
	b.attempts++
	if b.attempts < b.policy.MaxAttempts {
		d := b.backoff.NextBackOff()
		b.mu.Unlock()
		return d, nil
	}

	escalate := !b.escalated
	b.escalated = true
	attempts := b.attempts
	b.mu.Unlock()

	if escalate && b.policy.Escalate != nil {
		b.policy.Escalate(b.policy.Name, attempts)
	}
	return 0, ErrExhausted
}

// Reset clears the attempt count and the backoff.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
	b.escalated = false
	b.backoff.Reset()
}

// Attempts returns the number of recorded attempts.
func (b *Budget) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Exhausted reports whether no attempts remain.
func (b *Budget) Exhausted() bool {
	return !b.Allow()
}
