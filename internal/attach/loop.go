package attach

import "sync"

// Dispatcher schedules work onto the goroutine that owns a set of cells.
type Dispatcher interface {
	// Dispatch queues fn. It returns false if fn will never run.
	Dispatch(fn func()) bool
}

// loop runs queued functions one at a time on a dedicated goroutine.
type loop struct {
	queue     chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func newLoop() *loop {
	l := &loop{
		queue:   make(chan func(), 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.done:
			return
		case fn := <-l.queue:
			fn()
		}
	}
}

// Dispatch queues fn without waiting for it to run.
func (l *loop) Dispatch(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// do runs fn on the loop and waits for it to return. It must not be called
// from the loop goroutine.
func (l *loop) do(fn func()) error {
	ran := make(chan struct{})
	if !l.Dispatch(func() {
		defer close(ran)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-ran:
		return nil
	case <-l.stopped:
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	}
}

// close stops the loop and waits for the running function to return.
// Queued functions that have not started are dropped.
func (l *loop) close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	<-l.stopped
}
