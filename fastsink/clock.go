package fastsink

import "time"

// ticker is the engine's read clock. Stop and Reset follow time.Ticker
// semantics (Go 1.23+): after Stop or Reset no tick from before the call is
// delivered, so a resumed engine never receives owed ticks.
type ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

type timeTicker struct {
	t *time.Ticker
}

// newTimeTicker returns a stopped ticker; the engine starts paused.
func newTimeTicker(d time.Duration) ticker {
	t := time.NewTicker(d)
	t.Stop()
	return &timeTicker{t: t}
}

func (t *timeTicker) C() <-chan time.Time { return t.t.C }

func (t *timeTicker) Stop() { t.t.Stop() }

func (t *timeTicker) Reset(d time.Duration) { t.t.Reset(d) }
