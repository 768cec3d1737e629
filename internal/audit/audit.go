// Package audit ships audit records off the request path. Recording never
// blocks the caller: records are queued and a background worker writes them
// to the configured sink, dropping them when the queue is full.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"rxgate/internal/services"
	"rxgate/pkg/logger"
)

// Envelope is the wire form shared by every sink.
type Envelope struct {
	OccurredAt time.Time            `json:"occurred_at"`
	RequestID  string               `json:"request_id,omitempty"`
	Record     services.AuditRecord `json:"record"`
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type Sink interface {
	Write(ctx context.Context, env Envelope) error
	Close() error
}

// Recorder implements services.Auditor on top of a Sink.
type Recorder struct {
	sink    Sink
	queue   chan Envelope
	timeout time.Duration
	dropped atomic.Int64
	wg      sync.WaitGroup
	clock   func() time.Time

	// mu orders sends against Close so nothing is sent on a closed queue.
	mu     sync.RWMutex
	closed bool
}

func NewRecorder(sink Sink, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	r := &Recorder{
		sink:    sink,
		queue:   make(chan Envelope, buffer),
		timeout: 5 * time.Second,
		clock:   time.Now,
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// RecordEvent enqueues rec and always returns nil. A full queue drops the record.
func (r *Recorder) RecordEvent(ctx context.Context, rec services.AuditRecord) error {
	env := Envelope{OccurredAt: r.clock().UTC(), Record: rec}
	if ctx != nil {
		if id, ok := ctx.Value(logger.RequestIdKey).(string); ok {
			env.RequestID = id
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}
	select {
	case r.queue <- env:
	default:
		n := r.dropped.Add(1)
		logger.GetGlobalLogger().Warnf("audit queue full, dropped %s (%d dropped so far)", rec.Action, n)
	}
	return nil
}

func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for env := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Write(ctx, env); err != nil {
			logger.GetGlobalLogger().Warnf("audit sink write failed for %s: %v", env.Record.Action, err)
		}
		cancel()
	}
}

// Close drains the queue and closes the sink.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	return r.sink.Close()
}
