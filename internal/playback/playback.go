// Package playback animates a 0..100 progress value that decides how much of
// a recorded trajectory is shown.
package playback

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultInterval = 50 * time.Millisecond
	DefaultStep     = 0.5
)

type State int

const (
	Idle State = iota
	Playing
	Paused
	Completed
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	default:
		return "idle"
	}
}

// Controller advances progress by a fixed step on a fixed period while
// playing. A ticker goroutine exists only in the Playing state.
type Controller struct {
	mu       sync.Mutex
	progress float64
	state    State
	interval time.Duration
	step     float64
	stop     chan struct{}
	onChange func(progress float64, state State)

	// notifyMu orders deliveries. Each delivery reads the state afresh, so
	// the last one a host sees is the current state.
	notifyMu sync.Mutex
}

// New returns an idle controller. onChange may be nil; it is called without
// the controller lock held after every change, and must not start, pause,
// scrub or reset the controller itself.
func New(interval time.Duration, step float64, onChange func(float64, State)) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if step <= 0 {
		step = DefaultStep
	}
	return &Controller{interval: interval, step: step, onChange: onChange}
}

func (c *Controller) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Play starts ticking from Idle or Paused. Playing again after Completed
// needs a Reset first.
func (c *Controller) Play() {
	c.mu.Lock()
	if c.state != Idle && c.state != Paused {
		c.mu.Unlock()
		return
	}
	c.state = Playing
	stop := make(chan struct{})
	c.stop = stop
	ticker := time.NewTicker(c.interval)
	c.mu.Unlock()

	c.notify()
	go c.run(ticker, stop)
}

func (c *Controller) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick advances one step when playing. It is what the ticker calls; hosts
// that drive time themselves call it directly.
func (c *Controller) Tick() {
	c.mu.Lock()
	if c.state != Playing {
		c.mu.Unlock()
		return
	}
	c.progress = math.Min(100, c.progress+c.step)
	if c.progress >= 100 {
		c.state = Completed
		c.stopLocked()
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != Playing {
		c.mu.Unlock()
		return
	}
	c.state = Paused
	c.stopLocked()
	c.mu.Unlock()
	c.notify()
}

// Scrub jumps to p, clamped to [0, 100], and pauses.
func (c *Controller) Scrub(p float64) {
	c.mu.Lock()
	c.stopLocked()
	c.progress = clamp(p)
	c.state = Paused
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) Reset() {
	c.mu.Lock()
	c.stopLocked()
	c.progress = 0
	c.state = Idle
	c.mu.Unlock()
	c.notify()
}

// Close stops the ticker without changing progress.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	if c.state == Playing {
		c.state = Paused
	}
}

func (c *Controller) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Controller) notify() {
	if c.onChange == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	p, s := c.progress, c.state
	c.mu.Unlock()
	c.onChange(p, s)
}

// clamp limits progress to [0, 100]; NaN counts as 0.
func clamp(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}

// Prefix returns the first floor(len(path)*progress/100) points. Progress
// outside [0, 100] is clamped.
func Prefix[T any](path []T, progress float64) []T {
	progress = clamp(progress)
	n := int(math.Floor(float64(len(path)) * progress / 100))
	return path[:n]
}

// Index is the position of the replay marker: floor(progress/100*(n-1)).
// It returns -1 for an empty path.
func Index(n int, progress float64) int {
	if n == 0 {
		return -1
	}
	progress = clamp(progress)
	return int(math.Floor(progress / 100 * float64(n-1)))
}

// Clock maps progress onto the span between start and end.
func Clock(progress float64, start, end time.Time) time.Time {
	progress = clamp(progress)
	return start.Add(time.Duration(float64(end.Sub(start)) * progress / 100))
}

// WorkingDay is the span used when a trajectory has no timestamps: 07:00 to
// 19:00 on the given day.
func WorkingDay(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 7, 0, 0, 0, day.Location())
	return start, start.Add(720 * time.Minute)
}
