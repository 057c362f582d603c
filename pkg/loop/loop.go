package loop

import (
	"log/slog"
	"sync"
)

// defaultQueueSize is the buffer of the work channel. Posting blocks only
// when the queue is full and the loop is still running.
const defaultQueueSize = 128

// Loop is a single-goroutine work queue. Functions posted with Post run
// in FIFO order on the goroutine that called Run.
type Loop struct {
	work chan func()
	quit chan struct{}

	stopOnce sync.Once
	logger   *slog.Logger
}

// New creates a Loop. If logger is nil, slog.Default is used.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		work:   make(chan func(), defaultQueueSize),
		quit:   make(chan struct{}),
		logger: logger.With("component", "loop"),
	}
}

// Run executes posted work until Stop is called. It blocks the calling
// goroutine; that goroutine becomes the loop goroutine for the lifetime
// of the Loop.
func (l *Loop) Run() {
	for {
		select {
		case <-l.quit:
			return
		case fn := <-l.work:
			fn()
		}
	}
}

// Stop makes Run return. It is idempotent and safe to call from any
// goroutine, including from work running on the loop itself. Work still
// queued when Stop is called is discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
}

// Post schedules fn to run on the loop goroutine. It is safe to call
// from any goroutine. After Stop, fn is silently dropped; callers that
// need an answer should select on their own reply channel together with
// Done.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.quit:
		return
	default:
	}
	select {
	case l.work <- fn:
	case <-l.quit:
	}
}

// Done is closed once Stop has been called.
func (l *Loop) Done() <-chan struct{} {
	return l.quit
}
