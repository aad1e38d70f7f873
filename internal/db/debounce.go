package db

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// WriteQueue coalesces rapid successive writes to the same vehicle into one
// persisted write. Each vehicle id has a single timer; a new enqueue within
// the quiet period restarts it (the delay is not accumulated). Once a write
// fires it completes or fails on its own: failures are logged and reported
// through the optional error hook, the in-memory model is never rolled back
// and nothing is retried here.
type WriteQueue struct {
	store VehicleStore
	delay time.Duration
	log   *log.Logger

	// OnError, when set, observes persistence failures. Used to surface
	// the failure to the user; the queue itself only logs.
	OnError func(licensePlate string, err error)

	mu      sync.Mutex
	pending map[string]*pendingWrite
}

type pendingWrite struct {
	update VehicleUpdate
	timer  *time.Timer
}

// NewWriteQueue creates a queue persisting through store after delay of
// quiet time per vehicle.
func NewWriteQueue(store VehicleStore, delay time.Duration, logger *log.Logger) *WriteQueue {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &WriteQueue{
		store:   store,
		delay:   delay,
		log:     logger,
		pending: make(map[string]*pendingWrite),
	}
}

// Enqueue merges the update into the pending write for the vehicle and
// restarts its quiet-period timer.
func (q *WriteQueue) Enqueue(licensePlate string, update VehicleUpdate) {
	if update.Empty() {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if p, ok := q.pending[licensePlate]; ok {
		p.update.Merge(update)
		p.timer.Stop()
		p.timer.Reset(q.delay)
		return
	}

	p := &pendingWrite{update: update}
	p.timer = time.AfterFunc(q.delay, func() { q.fire(licensePlate) })
	q.pending[licensePlate] = p
}

func (q *WriteQueue) fire(licensePlate string) {
	q.mu.Lock()
	p, ok := q.pending[licensePlate]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.pending, licensePlate)
	q.mu.Unlock()

	q.persist(licensePlate, p.update)
}

func (q *WriteQueue) persist(licensePlate string, update VehicleUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := q.store.Persist(ctx, licensePlate, update); err != nil {
		q.log.WithError(err).WithField("vehicle", licensePlate).Error("Failed to persist vehicle state")
		if q.OnError != nil {
			q.OnError(licensePlate, err)
		}
		return
	}
	q.log.WithField("vehicle", licensePlate).Debug("Persisted vehicle state")
}

// Flush writes all pending updates immediately. Called on shutdown.
func (q *WriteQueue) Flush() {
	q.mu.Lock()
	drained := make(map[string]VehicleUpdate, len(q.pending))
	for plate, p := range q.pending {
		p.timer.Stop()
		drained[plate] = p.update
	}
	q.pending = make(map[string]*pendingWrite)
	q.mu.Unlock()

	for plate, update := range drained {
		q.persist(plate, update)
	}
}

// PendingCount reports how many vehicles have an unflushed write.
func (q *WriteQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
