package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/stemlink/internal/params"
)

// DefaultSinkBuffer is the snapshot queue depth used when NewAsyncSink is
// given a non-positive buffer size.
const DefaultSinkBuffer = 64

type snapshotMsg struct {
	token     string
	iteration int
	state     *params.State
}

// AsyncSink queues parameter snapshots onto a background writer so the
// estimation loop never blocks on SQLite. When the queue is full the
// snapshot is dropped with a warning; the chain in memory stays complete,
// only the persisted copy gets a hole.
type AsyncSink struct {
	store *Store
	ch    chan snapshotMsg

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts the writer goroutine. Close must be called to flush
// queued snapshots.
func NewAsyncSink(s *Store, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	k := &AsyncSink{
		store: s,
		ch:    make(chan snapshotMsg, buffer),
		done:  make(chan struct{}),
	}
	go k.drain()
	return k
}

// WriteSnapshot queues one snapshot. It clones the state before handing it
// to the writer goroutine so the caller may keep mutating its copy.
func (k *AsyncSink) WriteSnapshot(token string, iteration int, st *params.State) {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		slog.Warn("chain sink closed, dropping snapshot", "run", token, "iteration", iteration)
		return
	}
	msg := snapshotMsg{token: token, iteration: iteration, state: st.Clone()}
	select {
	case k.ch <- msg:
	default:
		slog.Warn("chain sink queue full, dropping snapshot", "run", token, "iteration", iteration)
	}
	k.mu.Unlock()
}

// Close stops accepting snapshots, flushes the queue, and waits for the
// writer to finish.
func (k *AsyncSink) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	close(k.ch)
	k.mu.Unlock()

	<-k.done
	return nil
}

func (k *AsyncSink) drain() {
	defer close(k.done)
	for msg := range k.ch {
		err := k.store.WriteSnapshot(context.Background(), msg.token, msg.iteration, msg.state)
		if err != nil {
			slog.Warn("chain snapshot write failed",
				"run", msg.token,
				"iteration", msg.iteration,
				"error", err)
		}
	}
}
