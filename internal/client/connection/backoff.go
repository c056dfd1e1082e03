package connection

import "time"

// Backoff is a bounded exponential reconnect policy.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// DefaultBackoff waits 1s, 2s, 4s ... up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Factor: 2, Max: 30 * time.Second}
}

// Delay returns the wait before reconnect attempt n (1-based). It is
// non-decreasing in n and never exceeds Max.
func (b Backoff) Delay(n int) time.Duration {
	if b.Base <= 0 {
		b = DefaultBackoff()
	}
	if b.Factor < 1 {
		b.Factor = 1
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	d := float64(b.Base)
	for i := 1; i < n; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}
