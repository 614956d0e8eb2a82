package session

import (
	"sync"

	"github.com/MrWong99/phonebridge/pkg/audio"
)

// DefaultQueueFrames is the ingress queue capacity: one second of 20 ms
// frames.
const DefaultQueueFrames = 50

// FrameQueue is a bounded FIFO between the transport read loop and the
// session goroutine. Push never blocks: when the queue is full the oldest
// frame is evicted.
//
// All methods are safe for concurrent use.
type FrameQueue struct {
	mu      sync.Mutex
	buf     []audio.AudioFrame
	head    int
	n       int
	closed  bool
	dropped uint64
	ready   chan struct{}
}

// NewFrameQueue creates a queue holding at most capacity frames. A capacity
// below 1 uses [DefaultQueueFrames].
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = DefaultQueueFrames
	}
	return &FrameQueue{
		buf:   make([]audio.AudioFrame, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push appends f. It returns [ErrFrameDropped] when the oldest frame had to
// be evicted (f itself is still queued) and [ErrSessionNotFound] once the
// queue is closed.
func (q *FrameQueue) Push(f audio.AudioFrame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrSessionNotFound
	}
	var err error
	if q.n == len(q.buf) {
		q.buf[q.head] = audio.AudioFrame{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped++
		err = ErrFrameDropped
	}
	q.buf[(q.head+q.n)%len(q.buf)] = f
	q.n++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return err
}

// TryPop removes and returns the oldest frame. ok is false when the queue is
// empty.
func (q *FrameQueue) TryPop() (f audio.AudioFrame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return audio.AudioFrame{}, false
	}
	f = q.buf[q.head]
	q.buf[q.head] = audio.AudioFrame{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return f, true
}

// Ready is signalled after a Push. A single signal may cover many frames;
// drain with TryPop until it reports empty.
func (q *FrameQueue) Ready() <-chan struct{} { return q.ready }

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Dropped returns how many frames have been evicted so far.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close rejects further pushes and discards queued frames.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	clear(q.buf)
	q.n = 0
}
