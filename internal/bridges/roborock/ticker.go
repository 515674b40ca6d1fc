package roborock

import (
	"sync"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// ticker runs fn every interval on its own goroutine until stopped.
type ticker struct {
	stop *closeOnce
	done chan struct{}
}

func startTicker(interval time.Duration, fn func()) *ticker {
	t := &ticker{stop: newCloseOnce(), done: make(chan struct{})}
	go func() {
		defer close(t.done)

		tk := time.NewTicker(interval)
		defer tk.Stop()

		for {
			select {
			case <-t.stop.Done():
				return
			case <-tk.C:
				fn()
			}
		}
	}()
	return t
}

// Stop halts the ticker and waits for a running fn to return.
// Safe on a nil ticker and safe to call more than once.
func (t *ticker) Stop() {
	if t == nil {
		return
	}
	t.stop.Close()
	<-t.done
}
