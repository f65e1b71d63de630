package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jonboulle/clockwork"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter int // seconds until the window resets; set only when rejected
	Policy     Policy
	Count      int64
	ResetAt    time.Time
	Degraded   bool // allowed because the store was unavailable
	Exempt     bool
}

// Remaining is how many more attempts the current window admits.
func (d Decision) Remaining() int {
	r := int64(d.Policy.Limit) - d.Count
	if r < 0 {
		return 0
	}
	return int(r)
}

// Outcome is a short label for logs and metrics.
func (d Decision) Outcome() string {
	switch {
	case d.Exempt:
		return "exempt"
	case d.Degraded:
		return "degraded"
	case d.Allowed:
		return "allowed"
	default:
		return "rejected"
	}
}

type Options struct {
	Table   *PolicyTable
	Store   QuotaStore
	Guard   *Guard
	Clock   clockwork.Clock
	Metrics *Metrics
}

// Limiter makes admission decisions. It holds no counts itself; every
// non-exempt check increments exactly one counter in the store, whether or
// not the attempt is admitted.
type Limiter struct {
	table   *PolicyTable
	store   QuotaStore
	guard   *Guard
	clock   clockwork.Clock
	metrics *Metrics
}

func New(opts Options) *Limiter {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Guard == nil {
		opts.Guard = NewGuard(GuardConfig{}, nil, opts.Metrics)
	}

	return &Limiter{
		table:   opts.Table,
		store:   opts.Store,
		guard:   opts.Guard,
		clock:   opts.Clock,
		metrics: opts.Metrics,
	}
}

func (l *Limiter) IsExempt(category Category) bool {
	return l.table.IsExempt(category)
}

func (l *Limiter) Table() *PolicyTable {
	return l.table
}

func (l *Limiter) Guard() *Guard {
	return l.guard
}

// Check charges one attempt to subject in category and decides whether it is
// admitted.
func (l *Limiter) Check(ctx context.Context, category Category, subject Subject) Decision {
	if l.table.IsExempt(category) {
		d := Decision{Allowed: true, Exempt: true}
		l.metrics.recordDecision(category, subject.Class, d)
		return d
	}

	policy, ok := l.table.Lookup(category, subject.Class)
	if !ok {
		// The table is validated as complete at startup, so this only happens
		// for a category that was never registered.
		d := Decision{Allowed: true, Degraded: true}
		l.metrics.recordDecision(category, subject.Class, d)
		return d
	}

	key := Key{Category: category, Subject: subject}
	d := l.guard.Do(ctx, key, func(ctx context.Context) (Decision, error) {
		w, err := l.store.IncrementAndCheck(ctx, key, policy.Window)
		if err != nil {
			return Decision{}, err
		}
		return decide(policy, w, l.clock.Now()), nil
	})
	d.Policy = policy

	l.metrics.recordDecision(category, subject.Class, d)
	return d
}

func decide(p Policy, w Window, now time.Time) Decision {
	d := Decision{
		Allowed: w.Count <= int64(p.Limit),
		Policy:  p,
		Count:   w.Count,
		ResetAt: w.End,
	}
	if !d.Allowed {
		d.RetryAfter = w.RetryAfter(now)
	}
	return d
}

// RedactSubject returns a log-safe form of the subject key. Network origins
// are replaced by a short hash; identity keys are logged as is.
func RedactSubject(s Subject) string {
	if !s.Anonymous() {
		return s.Key
	}
	sum := sha256.Sum256([]byte(s.Key))
	return "ip#" + hex.EncodeToString(sum[:])[:12]
}
