// Package pacer spaces outbound requests to stay under a provider quota.
package pacer

import (
	"context"
	"sync"
	"time"
)

// Pacer hands out request start times at least Interval apart.
// It is safe for concurrent use; callers share one Pacer per provider.
type Pacer struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
}

// New creates a Pacer. The first Wait returns immediately.
func New(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Interval returns the configured spacing.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks until the caller's slot arrives or ctx is done.
// A slot reserved by a cancelled caller is not handed out again.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	now := time.Now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.interval)
	p.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
