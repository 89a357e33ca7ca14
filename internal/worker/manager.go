package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ledgerlens/internal/invoice"
)

// ErrQueueFull is returned when the job queue cannot take another analysis.
var ErrQueueFull = errors.New("analysis queue full")

const defaultQueueSize = 16

// Analyzing runs one invoice analysis end to end.
type Analyzing interface {
	Analyze(ctx context.Context, req invoice.AnalyzeRequest) (*invoice.Analysis, error)
}

// PersistFunc stores a finished analysis. A nil func disables persistence.
type PersistFunc func(ctx context.Context, a *invoice.Analysis) error

// Manager queues analysis jobs and runs them on the worker pool, tracking
// per-job status for pollers.
type Manager struct {
	analyzer Analyzing
	persist  PersistFunc
	cache    *StatusCache
	log      zerolog.Logger

	pool     *workerPool
	jobQueue chan Job

	mu       sync.Mutex
	statuses map[string]*JobStatus

	jobTimeout time.Duration
}

type Options struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	JobTimeout  time.Duration
}

func NewManager(analyzer Analyzing, persist PersistFunc, cache *StatusCache, logger zerolog.Logger, opts Options) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}
	m := &Manager{
		analyzer:   analyzer,
		persist:    persist,
		cache:      cache,
		log:        logger,
		jobQueue:   make(chan Job, opts.QueueSize),
		statuses:   make(map[string]*JobStatus),
		jobTimeout: opts.JobTimeout,
	}
	m.pool = newWorkerPool(opts.MinWorkers, opts.MaxWorkers, opts.IdleTimeout, m)
	go m.dispatch()
	return m
}

// Submit enqueues an analysis and returns its job id. It fails fast with
// ErrQueueFull instead of blocking the caller.
func (m *Manager) Submit(req invoice.AnalyzeRequest) (string, error) {
	id := uuid.NewString()
	status := &JobStatus{
		ID:         id,
		State:      JobQueued,
		EnqueuedAt: time.Now(),
	}

	m.mu.Lock()
	m.statuses[id] = status
	m.mu.Unlock()

	select {
	case m.jobQueue <- Job{ID: id, Request: req}:
	default:
		m.mu.Lock()
		delete(m.statuses, id)
		m.mu.Unlock()
		return "", ErrQueueFull
	}

	m.log.Debug().Str("job_id", id).Int("pages", len(req.Pages)).Msg("analysis job queued")
	return id, nil
}

// Status reports the current state of a job. Falls back to the redis
// mirror for jobs this process no longer tracks.
func (m *Manager) Status(id string) (JobStatus, bool) {
	m.mu.Lock()
	status, ok := m.statuses[id]
	if ok {
		copied := *status
		m.mu.Unlock()
		return copied, true
	}
	m.mu.Unlock()

	if cached, ok := m.cache.load(context.Background(), id); ok {
		return cached, true
	}
	return JobStatus{}, false
}

func (m *Manager) dispatch() {
	for job := range m.jobQueue {
		ch := m.pool.acquire()
		ch <- job
	}
}

func (m *Manager) handle(job Job) {
	m.setState(job.ID, func(s *JobStatus) {
		s.State = JobRunning
		s.StartedAt = time.Now()
	})

	ctx, cancel := context.WithTimeout(context.Background(), m.jobTimeout)
	defer cancel()

	analysis, err := m.analyzer.Analyze(ctx, job.Request)
	if err != nil {
		m.log.Error().Err(err).Str("job_id", job.ID).Msg("analysis job failed")
		m.setState(job.ID, func(s *JobStatus) {
			s.State = JobFailed
			s.Error = err.Error()
			s.FinishedAt = time.Now()
		})
		return
	}

	if m.persist != nil {
		if err := m.persist(ctx, analysis); err != nil {
			m.log.Error().Err(err).Str("job_id", job.ID).Msg("persist analysis failed")
		}
	}

	m.setState(job.ID, func(s *JobStatus) {
		s.State = JobDone
		s.Analysis = analysis
		s.FinishedAt = time.Now()
	})
	m.log.Info().Str("job_id", job.ID).Str("analysis_id", analysis.ID).Msg("analysis job done")
}

func (m *Manager) setState(id string, update func(*JobStatus)) {
	m.mu.Lock()
	status, ok := m.statuses[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	update(status)
	copied := *status
	m.mu.Unlock()

	m.cache.store(context.Background(), copied)
}
