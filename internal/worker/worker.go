// Package worker provides a halt-channel based goroutine lifecycle,
// the pattern used throughout Accord's actors (connection reader/writer,
// arbiter, acceptor) to shut down cleanly without leaking goroutines.
package worker

import "sync"

// Worker is embedded by every long-running actor. It tracks goroutines
// spawned with Go and lets callers request a clean shutdown with Halt.
type Worker struct {
	initOnce sync.Once
	haltOnce sync.Once
	haltCh   chan struct{}
	wg       sync.WaitGroup
}

// Go spawns fn in a tracked goroutine. Halt will block until fn returns.
func (w *Worker) Go(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// HaltCh returns a channel that is closed when Halt is called. Tracked
// goroutines should select on it to notice shutdown requests.
func (w *Worker) HaltCh() <-chan struct{} {
	w.lazyInit()
	return w.haltCh
}

// Halt signals shutdown and blocks until every goroutine spawned with Go
// has returned. Safe to call more than once.
func (w *Worker) Halt() {
	w.lazyInit()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
	w.wg.Wait()
}

func (w *Worker) lazyInit() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}
