package worker

import (
	"container/list"
	"errors"
	"sync"
	"testing"
	"time"
)

func reportJob(userID int64) Job {
	return Job{Type: Report, Report: &reportTask{userID: userID, resultCh: make(chan reportResult, 1)}}
}

func TestDispatcherRotatesUsers(t *testing.T) {
	var (
		mu    sync.Mutex
		order []int64
	)
	handled := make(chan struct{}, 8)
	pool := newJobChannelPool(0, 1, time.Minute, func(job Job) {
		mu.Lock()
		order = append(order, job.userID())
		mu.Unlock()
		handled <- struct{}{}
	})
	defer pool.stop()
	d := &Dispatcher{
		pool:      pool,
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
	}

	for _, id := range []int64{1, 1, 1, 2} {
		d.enqueueJob(reportJob(id))
	}
	for i := 0; i < 4; i++ {
		if !d.dispatchOne() {
			t.Fatalf("dispatch %d found no job", i)
		}
	}
	if d.dispatchOne() {
		t.Fatalf("queue should be empty")
	}
	for i := 0; i < 4; i++ {
		<-handled
	}

	want := []int64{1, 2, 1, 1}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", order, want)
		}
	}
}

func TestDispatcherBusyAndStop(t *testing.T) {
	gate := make(chan struct{})
	var (
		mu       sync.Mutex
		handled  int
		rejected []error
	)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1},
		func(Job) {
			<-gate
			mu.Lock()
			handled++
			mu.Unlock()
		},
		func(_ Job, err error) {
			mu.Lock()
			rejected = append(rejected, err)
			mu.Unlock()
		})

	accepted := 0
	var busy bool
	for i := 0; i < 10; i++ {
		err := d.Submit(reportJob(1))
		if errors.Is(err, ErrDispatcherBusy) {
			busy = true
			break
		}
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		accepted++
	}
	if !busy {
		t.Fatalf("expected the dispatcher to report busy")
	}

	d.Stop()
	close(gate)
	if err := d.Submit(reportJob(1)); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	// Every accepted job either ran or was rejected.
	waitFor(t, "accepted jobs settled", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled+len(rejected) == accepted
	})
	mu.Lock()
	defer mu.Unlock()
	for _, err := range rejected {
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("unexpected rejection %v", err)
		}
	}
}

func TestDispatcherCancelUser(t *testing.T) {
	d := &Dispatcher{
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
	}
	d.enqueueJob(reportJob(4))
	d.enqueueJob(reportJob(4))
	d.enqueueJob(reportJob(5))

	if dropped := d.CancelUser(4); len(dropped) != 2 {
		t.Fatalf("expected 2 dropped jobs, got %d", len(dropped))
	}
	if d.ready.Len() != 1 || d.ready.Front().Value.(int64) != 5 {
		t.Fatalf("user 5 should remain queued")
	}
}

func TestPoolRetiresIdleWorkers(t *testing.T) {
	pool := newJobChannelPool(0, 3, 20*time.Millisecond, func(Job) {})
	defer pool.stop()
	for i := 0; i < 3; i++ {
		pool.spawnWorker()
	}
	waitFor(t, "idle workers retired", func() bool {
		running, _ := pool.size()
		return running == 0
	})

	ch, _ := pool.acquire()
	if ch == nil {
		t.Fatalf("acquire should spawn a worker on demand")
	}
	pool.stop()
	if ch, _ := pool.acquire(); ch != nil {
		t.Fatalf("acquire after stop should return nil")
	}
}
