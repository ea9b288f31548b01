// Package dispatch runs background work on a fixed set of lanes. Work for the
// same key always lands on the same lane and runs in submission order.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/buraksezer/consistent"
	"github.com/sirupsen/logrus"

	"tnxgate/internal/metrics"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("dispatcher stopped")

type Job func(ctx context.Context)

type lane string

func (l lane) String() string { return string(l) }

type hasher struct{}

func (hasher) Sum64(data []byte) uint64 {
	out := sha256.Sum256(data)
	return binary.BigEndian.Uint64(out[:8])
}

type Dispatcher struct {
	ring    *consistent.Consistent
	queues  map[string]chan Job
	log     *logrus.Entry
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
}

// New builds a dispatcher with n lanes, each buffering queueSize jobs.
func New(n, queueSize int, log *logrus.Logger) *Dispatcher {
	if n < 1 {
		n = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	ring := consistent.New(nil, consistent.Config{
		PartitionCount:    71,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	})
	queues := make(map[string]chan Job, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("lane-%d", i)
		ring.Add(lane(name))
		queues[name] = make(chan Job, queueSize)
	}
	return &Dispatcher{ring: ring, queues: queues, log: log.WithField("component", "dispatch")}
}

// Start launches one worker per lane. Jobs receive a context cancelled by Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	for name, q := range d.queues {
		d.workers.Add(1)
		go d.work(ctx, name, q)
	}
}

func (d *Dispatcher) work(ctx context.Context, name string, q chan Job) {
	defer d.workers.Done()
	for job := range q {
		metrics.LaneQueueDepth.WithLabelValues(name).Set(float64(len(q)))
		d.run(ctx, name, job)
	}
}

func (d *Dispatcher) run(ctx context.Context, name string, job Job) {
	defer d.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{"lane": name, "panic": fmt.Sprint(r)}).Error("Job panicked")
		}
	}()
	job(ctx)
}

// Lane returns the lane a key maps to.
func (d *Dispatcher) Lane(key string) string {
	m := d.ring.LocateKey([]byte(key))
	if m == nil {
		return ""
	}
	return m.String()
}

// Submit enqueues job on the lane owning key. It blocks while that lane is full.
func (d *Dispatcher) Submit(key string, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	q, ok := d.queues[d.Lane(key)]
	if !ok {
		return fmt.Errorf("no lane for key %s", key)
	}
	d.pending.Add(1)
	q <- job
	return nil
}

// Wait blocks until every submitted job has finished.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Stop drains queued jobs and stops the workers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	cancel := d.cancel
	d.mu.Unlock()
	d.workers.Wait()
	if cancel != nil {
		cancel()
	}
}
