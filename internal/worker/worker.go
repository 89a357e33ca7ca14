package worker

type worker struct {
	pool       *workerPool
	manager    *Manager
	jobChannel chan Job
}

func newWorker(pool *workerPool, manager *Manager) *worker {
	return &worker{
		pool:       pool,
		manager:    manager,
		jobChannel: make(chan Job),
	}
}

// start runs the worker loop. The worker parks itself in the pool's idle
// list before each receive, so acquire can hand it the next job.
func (w *worker) start() {
	go func() {
		for {
			w.pool.release(w.jobChannel)
			job := <-w.jobChannel
			if job.stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.manager.handle(job)
		}
	}()
}
