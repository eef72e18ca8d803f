package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	current time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	deadline time.Time
	interval time.Duration
	channel  chan time.Time
	stopped  bool
	// oneShot timers stop after their first firing.
	oneShot bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTicker registers a ticker that fires every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	ch, stop := c.register(d, false)
	return &Ticker{C: ch, stop: stop}
}

// NewTimer registers a timer that fires once after d of fake time. Until it
// fires or is stopped it counts as a pending ticker.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	ch, stop := c.register(d, true)
	return &Timer{C: ch, stop: stop}
}

func (c *FakeClock) register(d time.Duration, oneShot bool) (chan time.Time, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ft := &fakeTicker{
		deadline: c.current.Add(d),
		interval: d,
		channel:  make(chan time.Time, 1),
		oneShot:  oneShot,
	}
	c.tickers = append(c.tickers, ft)
	c.changed.Broadcast()

	stop := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.stopped {
			return
		}
		ft.stopped = true
		c.removeStoppedLocked()
		c.changed.Broadcast()
	}
	return ft.channel, stop
}

// Advance moves the clock forward by d and fires every ticker whose deadline
// falls within the new time, in deadline order. Sends never block.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current

	type firing struct {
		at      time.Time
		channel chan time.Time
	}
	var fired []firing
	for _, ft := range c.tickers {
		for !ft.stopped && !ft.deadline.After(target) {
			fired = append(fired, firing{at: ft.deadline, channel: ft.channel})
			if ft.oneShot {
				ft.stopped = true
				break
			}
			ft.deadline = ft.deadline.Add(ft.interval)
		}
	}
	c.removeStoppedLocked()
	c.changed.Broadcast()
	c.mu.Unlock()

	sort.SliceStable(fired, func(i, j int) bool { return fired[i].at.Before(fired[j].at) })
	for _, f := range fired {
		select {
		case f.channel <- target:
		default:
		}
	}
}

// WaitForTickers blocks until exactly n tickers and timers are registered.
func (c *FakeClock) WaitForTickers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.tickers) != n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of live tickers and timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *FakeClock) removeStoppedLocked() {
	live := c.tickers[:0]
	for _, ft := range c.tickers {
		if !ft.stopped {
			live = append(live, ft)
		}
	}
	c.tickers = live
}
