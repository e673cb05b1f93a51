package enrich

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/errors"
)

// Job is one unit of pipeline work waiting for a free worker slot.
// Jobs are created on enqueue and removed on dequeue; lower Priority runs
// first, with enqueue order breaking ties.
type Job struct {
	ID         string            `json:"id"`
	DataType   string            `json:"data_type"`
	Payload    json.RawMessage   `json:"payload"`
	Context    map[string]string `json:"context,omitempty"`
	Priority   int               `json:"priority"`
	EnqueuedAt time.Time         `json:"enqueued_at"`

	seq uint64 // enqueue sequence, tiebreak for equal priorities
}

// jobHeap orders jobs by ascending priority, then enqueue sequence.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return job
}

// Store persists enrichment output keyed by job id.
type Store interface {
	SaveEnrichment(ctx context.Context, jobID string, data *EnrichedData) error
}

// BudgetTracker gates job execution on spend limits. Nil disables budget
// enforcement.
type BudgetTracker interface {
	CheckBudget(estimatedCostUSD float64) error
	RecordSpend(costUSD float64)
}

// QueueConfig configures the background job queue.
type QueueConfig struct {
	MaxConcurrentJobs   int           // worker slots (default 3)
	DefaultPriority     int           // used when Queue is called with priority <= 0
	RequestsPerMinute   int           // rate limit on job starts; 0 = unlimited
	BudgetRetryInterval time.Duration // how long a budget-deferred job waits
}

// DefaultQueueConfig returns sensible defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrentJobs:   3,
		DefaultPriority:     5,
		RequestsPerMinute:   0,
		BudgetRetryInterval: 30 * time.Second,
	}
}

// QueueStats is a point-in-time snapshot of queue activity.
type QueueStats struct {
	Queued    int   `json:"queued"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// JobQueue runs enrichment jobs in the background on a bounded worker pool.
// Workers pull from a priority heap under a mutex, so at most
// MaxConcurrentJobs jobs execute at any instant and queued jobs always start
// in ascending priority order. A running job is never preempted by a newly
// queued higher-priority job.
type JobQueue struct {
	pipeline *Pipeline
	store    Store
	budget   BudgetTracker
	limiter  *rate.Limiter
	emitter  *collect.Emitter
	cfg      QueueConfig
	log      *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	cond      *sync.Cond
	jobs      jobHeap
	seq       uint64
	active    int
	completed int64
	failed    int64
	started   bool
	stopped   bool
}

// NewJobQueue creates a job queue. The budget tracker may be nil; a
// RequestsPerMinute of 0 disables rate limiting.
func NewJobQueue(pipeline *Pipeline, store Store, budget BudgetTracker, emitter *collect.Emitter, cfg QueueConfig, log *zap.SugaredLogger) *JobQueue {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = DefaultQueueConfig().MaxConcurrentJobs
	}
	if cfg.DefaultPriority <= 0 {
		cfg.DefaultPriority = DefaultQueueConfig().DefaultPriority
	}
	if cfg.BudgetRetryInterval <= 0 {
		cfg.BudgetRetryInterval = DefaultQueueConfig().BudgetRetryInterval
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		pipeline: pipeline,
		store:    store,
		budget:   budget,
		limiter:  limiter,
		emitter:  emitter,
		cfg:      cfg,
		log:      log.Named("jobqueue"),
		ctx:      ctx,
		cancel:   cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the worker pool. Idempotent.
func (q *JobQueue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.cfg.MaxConcurrentJobs; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Infow("Job queue started", "workers", q.cfg.MaxConcurrentJobs)
}

// Stop prevents new jobs from starting and waits for in-flight jobs to
// finish. In-flight work is never interrupted; its results are still
// persisted. Idempotent.
func (q *JobQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.log.Infow("Job queue stopped")
}

// Queue adds a job. Priority <= 0 uses the configured default; lower values
// run first. Satisfies collect.Enricher.
func (q *JobQueue) Queue(jobID string, dataType string, payload json.RawMessage, jobCtx map[string]string, priority int) error {
	if jobID == "" {
		return errors.New("jobID cannot be empty")
	}
	if priority <= 0 {
		priority = q.cfg.DefaultPriority
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return errors.Newf("queue is stopped, rejecting job %s", jobID)
	}
	q.seq++
	job := &Job{
		ID:         jobID,
		DataType:   dataType,
		Payload:    payload,
		Context:    jobCtx,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		seq:        q.seq,
	}
	heap.Push(&q.jobs, job)
	queueLen := q.jobs.Len()
	q.cond.Signal()
	q.mu.Unlock()

	q.emitter.Publish(collect.JobQueued{JobID: jobID, Priority: priority, QueueLength: queueLen})
	q.log.Debugw("Job queued", "job_id", jobID, "priority", priority, "queue_length", queueLen)
	return nil
}

// worker drains jobs until the queue stops. Each worker holds one of the
// MaxConcurrentJobs slots, which is what bounds concurrency.
func (q *JobQueue) worker(id int) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for q.jobs.Len() == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		job := heap.Pop(&q.jobs).(*Job)
		q.active++
		q.mu.Unlock()

		q.runJob(job)

		q.mu.Lock()
		q.active--
		q.mu.Unlock()
	}
}

// runJob executes one job: rate gate, budget gate, pipeline, persistence.
func (q *JobQueue) runJob(job *Job) {
	if q.limiter != nil {
		if err := q.limiter.Wait(q.ctx); err != nil {
			// Shutting down before the job started; put it back so a
			// restarted queue picks it up.
			q.requeue(job)
			return
		}
	}

	if q.budget != nil {
		if err := q.budget.CheckBudget(0); err != nil {
			q.log.Warnw("Budget exceeded, deferring job",
				"job_id", job.ID,
				"retry_in", q.cfg.BudgetRetryInterval,
				"error", err)
			time.AfterFunc(q.cfg.BudgetRetryInterval, func() { q.requeue(job) })
			return
		}
	}

	q.emitter.Publish(collect.JobStarted{JobID: job.ID})
	start := time.Now()

	// In-flight jobs run to completion even across Stop; processing gets a
	// fresh context rather than the queue's cancellable one.
	enriched := q.pipeline.Process(context.Background(), job.DataType, job.Payload, job.Context)

	if err := q.store.SaveEnrichment(context.Background(), job.ID, enriched); err != nil {
		q.mu.Lock()
		q.failed++
		q.mu.Unlock()
		q.emitter.Publish(collect.StorageFailed{JobID: job.ID, Error: err.Error()})
		q.emitter.Publish(collect.JobFailed{JobID: job.ID, Error: err.Error()})
		q.log.Errorw("Failed to persist enrichment",
			"job_id", job.ID,
			"error", err)
		return
	}

	if q.budget != nil && enriched.TotalCostUSD > 0 {
		q.budget.RecordSpend(enriched.TotalCostUSD)
	}

	q.mu.Lock()
	q.completed++
	q.mu.Unlock()

	q.emitter.Publish(collect.JobCompleted{JobID: job.ID, EnrichmentsCount: len(enriched.Enrichments)})
	q.log.Infow("Job completed",
		"job_id", job.ID,
		"enrichments", len(enriched.Enrichments),
		"confidence", enriched.OverallConfidence,
		"duration", time.Since(start))
}

// requeue puts a job back on the heap, keeping its original priority and
// sequence so ordering stays deterministic.
func (q *JobQueue) requeue(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	heap.Push(&q.jobs, job)
	q.cond.Signal()
}

// QueueLength returns the number of jobs waiting for a worker.
func (q *JobQueue) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}

// ActiveJobs returns the number of jobs currently executing. Never exceeds
// MaxConcurrentJobs.
func (q *JobQueue) ActiveJobs() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Stats returns a snapshot of queue activity.
func (q *JobQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Queued:    q.jobs.Len(),
		Active:    q.active,
		Completed: q.completed,
		Failed:    q.failed,
	}
}
