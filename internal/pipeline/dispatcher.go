package pipeline

import (
	"sync"

	"f1-telemetry/stream-processor/internal/domain"
	"f1-telemetry/stream-processor/internal/metrics"
)

type sink struct {
	name string
	ch   chan *domain.Result
}

// Dispatcher fans processed results out to the registered sinks. Sends never
// block: a full sink loses the result and the drop is counted.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  []sink
	closed bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// AddSink registers a sink with a buffer of size results and returns the
// channel its writer should drain.
func (d *Dispatcher) AddSink(name string, size int) <-chan *domain.Result {
	ch := make(chan *domain.Result, size)
	d.mu.Lock()
	d.sinks = append(d.sinks, sink{name: name, ch: ch})
	d.mu.Unlock()
	return ch
}

func (d *Dispatcher) Dispatch(res *domain.Result) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	for _, s := range d.sinks {
		select {
		case s.ch <- res:
		default:
			metrics.SinkDrops.WithLabelValues(s.name).Inc()
		}
	}
}

// Close closes every sink channel so writers flush and return.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, s := range d.sinks {
		close(s.ch)
	}
}
