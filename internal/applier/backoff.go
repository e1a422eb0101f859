package applier

import (
	"context"
	"time"
)

// blobWaitPolicy bounds the exponential poll Apply runs when the
// Executor reports ApplicationNotAvailable: start at Base, double (or
// Factor-multiply) every attempt up to Max, give up once Budget has
// elapsed. Mirrors the original's ensure_application_available
// poll-with-backoff loop (50ms base, 2x factor, 500ms cap).
type blobWaitPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Budget time.Duration
}

// waitForBlob polls probe until it reports the blob available, the
// policy's overall budget elapses, or ctx is cancelled. It returns nil
// as soon as probe reports true; otherwise it returns ctx.Err() or a
// nil error paired with false once the budget is exhausted, leaving the
// caller's original ApplicationNotAvailable error to propagate and the
// delta to stay pending for the next receive.
func (p blobWaitPolicy) waitForBlob(ctx context.Context, probe func(context.Context) (bool, error)) (available bool, err error) {
	deadline := time.Now().Add(p.Budget)
	delay := p.Base
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	maxDelay := p.Max
	if maxDelay <= 0 {
		maxDelay = 500 * time.Millisecond
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 2
	}

	for {
		ok, probeErr := probe(ctx)
		if probeErr == nil && ok {
			return true, nil
		}
		if !time.Now().Add(delay).Before(deadline) {
			return false, nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * factor)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
