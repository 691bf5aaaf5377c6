package usecase

import (
	"sync"
	"time"
)

// elapsedTicker accumulates recorded time across pause/resume and reports it
// on every tick while running.
type elapsedTicker struct {
	interval time.Duration
	onTick   func(time.Duration)
	now      func() time.Time

	mu          sync.Mutex
	accumulated time.Duration
	startedAt   time.Time
	running     bool
	stop        chan struct{}
	done        chan struct{}
}

func newElapsedTicker(interval time.Duration, onTick func(time.Duration)) *elapsedTicker {
	if interval <= 0 {
		interval = time.Second
	}
	if onTick == nil {
		onTick = func(time.Duration) {}
	}
	return &elapsedTicker{interval: interval, onTick: onTick, now: time.Now}
}

func (t *elapsedTicker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.startedAt = t.now()
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(t.stop, t.done)
}

// Stop freezes the elapsed time. It returns once the tick goroutine has exited.
func (t *elapsedTicker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.accumulated += t.now().Sub(t.startedAt)
	stop, done := t.stop, t.done
	t.mu.Unlock()

	close(stop)
	<-done
}

func (t *elapsedTicker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return t.accumulated
	}
	return t.accumulated + t.now().Sub(t.startedAt)
}

func (t *elapsedTicker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.onTick(t.Elapsed())
		}
	}
}
