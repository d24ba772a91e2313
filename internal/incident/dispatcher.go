package incident

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"guardian/internal/pipeline"
)

const (
	defaultQueueSize = 256
	deliveryTimeout  = 30 * time.Second
)

var errDispatcherStopped = errors.New("incident dispatcher stopped")

// DeliveryObserver receives delivery outcomes. Implemented by the metrics package.
type DeliveryObserver interface {
	AlertDelivered(sink string, err error)
	AlertDropped()
	QueueDepth(depth int)
}

type nopDeliveryObserver struct{}

func (nopDeliveryObserver) AlertDelivered(string, error) {}
func (nopDeliveryObserver) AlertDropped()                {}
func (nopDeliveryObserver) QueueDepth(int)               {}

// Dispatcher queues alerts and delivers them to every sink from a single
// worker, so camera goroutines never wait on sink I/O
type Dispatcher struct {
	sinks    []Sink
	queue    chan *pipeline.AlertEvent
	observer DeliveryObserver
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	startMu  sync.Mutex
	started  bool
	stopped  atomic.Bool
	dropped  atomic.Uint64
}

// NewDispatcher creates a dispatcher with a bounded queue
func NewDispatcher(queueSize int, observer DeliveryObserver, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if observer == nil {
		observer = nopDeliveryObserver{}
	}
	return &Dispatcher{
		sinks:    sinks,
		queue:    make(chan *pipeline.AlertEvent, queueSize),
		observer: observer,
	}
}

// Sinks returns the names of the configured sinks
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Start launches the delivery worker
func (d *Dispatcher) Start(ctx context.Context) error {
	d.startMu.Lock()
	defer d.startMu.Unlock()

	if d.stopped.Load() {
		return errDispatcherStopped
	}
	if d.started {
		return nil
	}
	d.runCtx, d.cancel = context.WithCancel(ctx)
	d.started = true
	d.wg.Add(1)
	go d.run()

	log.Printf("[Incident] Dispatcher started (sinks: %v)", d.Sinks())
	return nil
}

// Submit implements pipeline.AlertSink. The alert is dropped when the
// queue is full or the dispatcher stopped.
func (d *Dispatcher) Submit(alert *pipeline.AlertEvent) bool {
	if alert == nil || d.stopped.Load() {
		return false
	}
	select {
	case d.queue <- alert:
		d.observer.QueueDepth(len(d.queue))
		return true
	default:
		d.dropped.Add(1)
		d.observer.AlertDropped()
		log.Printf("[Incident] Queue full, dropped %s alert for camera %s", alert.EventType, alert.CameraID)
		return false
	}
}

// Dropped returns the number of alerts rejected because the queue was full
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Stop delivers what is queued, then closes every sink. ctx bounds the wait.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.stopped.Swap(true) {
		return nil
	}

	d.startMu.Lock()
	started := d.started
	d.startMu.Unlock()

	var stopErr error
	if started {
		d.cancel()
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
	}

	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			log.Printf("[Incident] Failed to close %s sink: %v", s.Name(), err)
		}
	}
	log.Printf("[Incident] Dispatcher stopped")
	return stopErr
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.runCtx.Done():
			d.drain()
			return
		case alert := <-d.queue:
			d.observer.QueueDepth(len(d.queue))
			d.deliver(alert)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case alert := <-d.queue:
			d.deliver(alert)
		default:
			d.observer.QueueDepth(0)
			return
		}
	}
}

// deliver hands the alert to every sink; one failing sink does not stop
// the others
func (d *Dispatcher) deliver(alert *pipeline.AlertEvent) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := s.Deliver(ctx, alert)
		cancel()

		d.observer.AlertDelivered(s.Name(), err)
		if err != nil {
			log.Printf("[Incident] Failed to deliver %s alert %s via %s: %v", alert.EventType, alert.ID, s.Name(), err)
		}
	}
}

// Ensure Dispatcher implements pipeline.AlertSink
var _ pipeline.AlertSink = (*Dispatcher)(nil)
