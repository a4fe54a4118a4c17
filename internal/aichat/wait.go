package aichat

import (
	"context"
	"errors"
	"time"
)

var errWaitTimeout = errors.New("condition not met before timeout")

// waitFor polls cond every interval until it holds, timeout elapses or ctx
// is done. A cond error aborts the wait.
func waitFor(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errWaitTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
