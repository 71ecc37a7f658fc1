// Package events implements the asynchronous event recorder: a bounded
// in-memory ring draining into the persistence engine. Recording never sits on
// the critical path of an RPC; under backpressure events are dropped, counted,
// and the loss itself is recorded once the ring drains.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/containers"
)

const (
	defaultCapacity = 4096
	writeTimeout    = 5 * time.Second
)

// Sink is the durable destination of events.
type Sink interface {
	RecordEvent(ctx context.Context, event model.Event) error
}

type Recorder struct {
	sink Sink

	queue    *containers.SliceQueue[model.Event]
	capacity int
	dropped  atomic.Int64

	wg       sync.WaitGroup
	cancelCh chan struct{}
	stopOnce sync.Once
}

func NewRecorder(sink Sink) *Recorder {
	return newRecorder(sink, defaultCapacity)
}

func newRecorder(sink Sink, capacity int) *Recorder {
	r := &Recorder{
		sink:     sink,
		queue:    containers.NewSliceQueue[model.Event](),
		capacity: capacity,
		cancelCh: make(chan struct{}),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runWriter()
	}()
	return r
}

// Record enqueues an event. It never blocks; when the ring is full the event
// is counted as dropped instead.
func (r *Recorder) Record(owner, parent string, code int, message string) {
	if r.queue.Size() >= r.capacity {
		r.dropped.Inc()
		return
	}
	r.queue.Add(model.Event{
		Owner:        owner,
		Parent:       parent,
		Code:         code,
		Message:      message,
		CreationTime: time.Now(),
	})
}

// Dropped returns the number of events lost since the last drain.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close drains what it can and stops the writer.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		close(r.cancelCh)
	})
	r.wg.Wait()
}

func (r *Recorder) runWriter() {
	for {
		select {
		case <-r.cancelCh:
			r.drain()
			return
		case <-r.queue.C:
			r.drain()
		}
	}
}

func (r *Recorder) drain() {
	for {
		event, ok := r.queue.Pop()
		if !ok {
			break
		}
		r.write(event)
	}

	// The ring is empty; if events were lost meanwhile, leave a trace.
	if n := r.dropped.Swap(0); n > 0 {
		r.write(model.Event{
			Owner:        "recorder",
			Code:         model.EventRecorderDropped,
			Message:      fmt.Sprintf("%d events dropped under backpressure", n),
			CreationTime: time.Now(),
		})
	}
}

func (r *Recorder) write(event model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.sink.RecordEvent(ctx, event); err != nil {
		log.L().Warn("event write failed",
			zap.String("owner", event.Owner),
			zap.Int("code", event.Code),
			zap.Error(err))
	}
}
