package worker

// Worker runs report jobs handed to it by the dispatcher.
type Worker struct {
	id         int
	pool       *jobChannelPool
	handler    func(Job)
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool, handler func(Job)) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		handler:    handler,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for {
			w.pool.Release(w.jobChannel)
			select {
			case job := <-w.jobChannel:
				if job.Type == Stop {
					return
				}
				logger.Debug().Int("worker", w.id).Stringer("job", job.Type).Msg("job started")
				w.handler(job)
			case <-w.pool.quit:
				return
			}
		}
	}()
}
