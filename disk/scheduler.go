package disk

import (
	"sync"

	"go.uber.org/zap"
)

// Promise is the one-shot completion handle of a scheduled request. The worker fulfills it exactly
// once; a nil value means the io succeeded.
type Promise chan error

// Request is a read or write of exactly one page. Ownership of Data stays with the requester; the
// scheduler touches it only until Callback is fulfilled.
type Request struct {
	// IsWrite indicates whether the request is a write or a read.
	IsWrite bool

	// Data is the buffer a page is read into or written out from.
	Data []byte

	// PageID is the id of the page being read from or written to disk.
	PageID uint64

	// Callback signals the request issuer that the request has completed.
	Callback Promise
}

// requestQueueSize bounds the request channel. Latency under load is linear in queue depth since
// there is a single worker.
const requestQueueSize = 64

// Scheduler serializes page granular io requests onto a single background worker. Requests are
// consumed strictly in enqueue order, hence requests targeting the same page complete in
// submission order.
type Scheduler struct {
	dm        IDiskManager
	queue     chan *Request
	done      chan struct{}
	closeOnce sync.Once
	l         *zap.Logger
}

// NewScheduler launches the worker goroutine. Caller must call Close to stop it.
func NewScheduler(dm IDiskManager, l *zap.Logger) *Scheduler {
	if l == nil {
		l = zap.NewNop()
	}

	s := &Scheduler{
		dm:    dm,
		queue: make(chan *Request, requestQueueSize),
		done:  make(chan struct{}),
		l:     l,
	}
	go s.worker()
	return s
}

// Schedule enqueues a request. It blocks when the queue is full. Scheduling after Close panics.
func (s *Scheduler) Schedule(r *Request) {
	s.queue <- r
}

// CreatePromise returns a promise that can be fulfilled exactly once and awaited once.
func (s *Scheduler) CreatePromise() Promise {
	return make(Promise, 1)
}

// Close enqueues the shutdown sentinel, waits until the worker drains every previously scheduled
// request and exits. No request is ever dropped.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.queue <- nil
		<-s.done
		close(s.queue)
	})
}

// worker consumes requests in fifo order until the nil sentinel arrives. Disk errors are propagated
// through the request's promise; the worker itself never stops on them.
func (s *Scheduler) worker() {
	defer close(s.done)

	for r := range s.queue {
		if r == nil {
			return
		}

		var err error
		if r.IsWrite {
			err = s.dm.WritePage(r.Data, r.PageID)
		} else {
			err = s.dm.ReadPage(r.PageID, r.Data)
		}

		if err != nil {
			s.l.Error("disk request failed",
				zap.Uint64("pageID", r.PageID),
				zap.Bool("isWrite", r.IsWrite),
				zap.Error(err))
		}

		if r.Callback != nil {
			r.Callback <- err
		}
	}
}
