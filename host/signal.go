package host

import "context"

// statusSignal is a level-triggered flag: raising it while set is a no-op
// and a receive clears it.
type statusSignal chan struct{}

func newStatusSignal() statusSignal {
	return make(statusSignal, 1)
}

func (s statusSignal) raise() {
	select {
	case s <- struct{}{}:
	default:
	}
}

// wait blocks until the signal is raised and clears it.
func (s statusSignal) wait(ctx context.Context) error {
	select {
	case <-s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
