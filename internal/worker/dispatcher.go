package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDispatcherBusy is returned when the report queue is full.
	ErrDispatcherBusy = errors.New("report queue is full")
	// ErrStopped is returned once the manager is shutting down.
	ErrStopped = errors.New("worker manager stopped")
)

type JobType int

const (
	Report JobType = iota + 1
	Stop
)

func (t JobType) String() string {
	switch t {
	case Report:
		return "report"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

type Job struct {
	Type   JobType
	Report *reportTask
}

func (job Job) userID() int64 {
	if job.Type == Report && job.Report != nil {
		return job.Report.userID
	}
	return 0
}

// DispatcherConfig sizes the report worker pool.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands report jobs to pool workers, rotating between users so a
// single user cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job
	reject   func(Job, error)

	mu        sync.Mutex
	queues    map[int64]*userQueue
	ready     *list.List // user ids, least recently served first
	positions map[int64]*list.Element

	quit     chan struct{}
	stopOnce sync.Once
}

// NewDispatcher starts the dispatch loop. handle runs a job on a worker;
// reject finishes a job that will never run.
func NewDispatcher(cfg DispatcherConfig, handle func(Job), reject func(Job, error)) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, handle),
		JobQueue:  make(chan Job, queueSize),
		reject:    reject,
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		quit:      make(chan struct{}),
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Submit enqueues job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case <-d.quit:
		return ErrStopped
	default:
	}
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				d.drain()
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			d.drain()
			return
		default:
		}
	}
}

// CancelUser drops the user's queued jobs and returns them.
func (d *Dispatcher) CancelUser(userID int64) []Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	var dropped []Job
	if q := d.queues[userID]; q != nil {
		dropped = q.jobs
	}
	delete(d.queues, userID)
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
	return dropped
}

func (d *Dispatcher) enqueueJob(job Job) {
	userID := job.userID()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[userID]
	if q == nil {
		q = &userQueue{}
		d.queues[userID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[userID] = d.ready.PushBack(userID)
}

// dispatchOne sends the next job of the least recently served user to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan, workerID := d.pool.acquire()
	if workerChan == nil {
		d.reject(job, ErrStopped)
		return true
	}
	logger.Debug().Stringer("job", job.Type).Int64("user_id", userID).Int("worker", workerID).Msg("dispatch")
	select {
	case workerChan <- job:
	case <-d.pool.quit:
		d.reject(job, ErrStopped)
	}
	return true
}

// drain rejects everything still queued after stop.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	var pending []Job
	for _, q := range d.queues {
		pending = append(pending, q.jobs...)
	}
	d.queues = make(map[int64]*userQueue)
	d.ready.Init()
	d.positions = make(map[int64]*list.Element)
	d.mu.Unlock()

	for {
		select {
		case job := <-d.JobQueue:
			pending = append(pending, job)
		default:
			for _, job := range pending {
				d.reject(job, ErrStopped)
			}
			return
		}
	}
}

// Stop ends dispatching; queued jobs are rejected with ErrStopped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.pool.stop()
	})
}
