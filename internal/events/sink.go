package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// sinkQueueSize bounds events waiting for the archive. Beyond it new events
// are dropped for the archive only; the ring and live subscribers still get them.
const sinkQueueSize = 1024

var sinkDropped atomic.Uint64

type sinkEntry struct {
	ts     time.Time
	level  string
	name   string
	msg    string
	fields map[string]interface{}
	runID  string
}

type sinkWriter struct {
	dst     Sink
	queue   chan sinkEntry
	done    chan struct{}
	errOnce sync.Once
}

func startSinkWriter(dst Sink, size int) *sinkWriter {
	w := &sinkWriter{
		dst:   dst,
		queue: make(chan sinkEntry, size),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *sinkWriter) enqueue(e sinkEntry) {
	select {
	case w.queue <- e:
	default:
		sinkDropped.Add(1)
	}
}

func (w *sinkWriter) loop() {
	defer close(w.done)
	for e := range w.queue {
		if err := w.dst.Append(e.ts, e.level, e.name, e.msg, e.fields, e.runID); err != nil {
			w.errOnce.Do(func() {
				// Straight to the ring, not Emit, so a failing sink cannot feed itself.
				buffer.push(Event{
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Level:     "error",
					Name:      "system.error",
					Message:   "event sink append failed",
					Fields:    map[string]interface{}{"error": err.Error()},
				})
			})
		}
	}
}

// stop flushes the queue and waits for the writer to finish.
func (w *sinkWriter) stop() {
	close(w.queue)
	<-w.done
}

// SinkDroppedCount reports events the archive never received because its
// queue was full.
func SinkDroppedCount() uint64 { return sinkDropped.Load() }
