// Package jobs runs background work with at-least-once delivery.
//
// The dispatcher pairs a durable queue entry in the state store with a
// client-visible task row in the catalog, both under the same ID. Workers
// claim jobs with a deadline; a worker that dies mid-job simply lets its
// claim lapse, and the recovery loop hands the job to someone else with the
// attempt counter bumped. Handlers therefore run one or more times and must
// be idempotent.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagefs/stagefs/internal/logger"
	"github.com/stagefs/stagefs/internal/telemetry"
	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/state"
)

// One queue per job kind. A dispatcher consumes any subset of them, so
// deployments can dedicate differently sized worker pools to each class.
const (
	QueueFinalize = "finalize"
	QueueExtract  = "extract"
	QueueMetadata = "metadata"
)

// AllQueues returns every queue the service uses, the default consumption
// set for a single-process deployment.
func AllQueues() []string {
	return []string{QueueFinalize, QueueExtract, QueueMetadata}
}

// claimSlack is added to the job timeout when claiming, so a claim can only
// lapse after the handler's context has expired.
const claimSlack = 5 * time.Minute

// HandlerFunc executes one job. Returning nil acknowledges the job;
// returning an error requeues it until the attempt budget runs out, unless
// the error is wrapped with Permanent.
type HandlerFunc func(ctx context.Context, job *state.Job) error

// PermanentError marks a job failure that redelivery cannot fix. The job is
// dropped and its task marked failed on the spot instead of burning the
// remaining attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the dispatcher fails the job without retrying.
// The handler must already have rolled back its own state; the dispatcher
// only records the outcome.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TaskStore is the slice of the catalog the dispatcher keeps task rows in.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	MarkTaskRunning(ctx context.Context, id string, startedAt time.Time) error
	RequeueTask(ctx context.Context, id string, message string) error
	MarkTaskFinished(ctx context.Context, id string, state models.TaskState, message string, finishedAt time.Time) error
}

// Config holds dispatcher configuration.
type Config struct {
	// Queues are the queues this dispatcher consumes, oldest job first
	// across all of them.
	// Default: every queue (AllQueues)
	Queues []string `mapstructure:"queues" json:"queues" yaml:"queues"`

	// Workers is the number of concurrent job workers.
	// Default: 4
	Workers int `mapstructure:"workers" json:"workers" yaml:"workers"`

	// PollInterval is how long an idle worker waits before asking the
	// queue again.
	// Default: 500ms
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`

	// JobTimeout bounds a single handler run.
	// Default: 12h (archive extraction can be very slow on large inputs).
	JobTimeout time.Duration `mapstructure:"job_timeout" json:"job_timeout" yaml:"job_timeout"`

	// MaxAttempts is how many deliveries a job gets before it is dropped
	// and its task marked failed.
	// Default: 3
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts"`

	// RecoveryInterval is how often lapsed claims are swept back into the
	// ready state.
	// Default: 1m
	RecoveryInterval time.Duration `mapstructure:"recovery_interval" json:"recovery_interval" yaml:"recovery_interval"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Queues:           AllQueues(),
		Workers:          4,
		PollInterval:     500 * time.Millisecond,
		JobTimeout:       12 * time.Hour,
		MaxAttempts:      3,
		RecoveryInterval: time.Minute,
	}
}

// Dispatcher owns the worker pool and the handler registry.
type Dispatcher struct {
	queue   state.Queue
	tasks   TaskStore
	metrics JobMetrics

	id     string
	queues []string

	workers          int
	pollInterval     time.Duration
	jobTimeout       time.Duration
	maxAttempts      int
	recoveryInterval time.Duration

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	started  bool

	// nudge wakes an idle worker right after a submit instead of waiting
	// out the poll interval.
	nudge chan struct{}

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewDispatcher creates a dispatcher. Zero config fields fall back to
// defaults; a nil metrics disables collection.
func NewDispatcher(queue state.Queue, tasks TaskStore, cfg Config, metrics JobMetrics) *Dispatcher {
	def := DefaultConfig()
	if len(cfg.Queues) == 0 {
		cfg.Queues = def.Queues
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = def.RecoveryInterval
	}

	return &Dispatcher{
		queue:            queue,
		tasks:            tasks,
		metrics:          metrics,
		id:               uuid.New().String(),
		queues:           cfg.Queues,
		workers:          cfg.Workers,
		pollInterval:     cfg.PollInterval,
		jobTimeout:       cfg.JobTimeout,
		maxAttempts:      cfg.MaxAttempts,
		recoveryInterval: cfg.RecoveryInterval,
		handlers:         make(map[string]HandlerFunc),
		nudge:            make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		stoppedCh:        make(chan struct{}),
	}
}

// Register binds a handler to a job kind. Submitting a kind nobody handles
// fails the task on delivery.
func (d *Dispatcher) Register(kind string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = handler
}

// Submit records the task and enqueues its job in one go. The task row and
// the queue entry share task.ID; payload is JSON-encoded for the handler.
// Returns the task ID.
func (d *Dispatcher) Submit(ctx context.Context, queue string, task *models.Task, payload any) (_ string, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanJobEnqueue)
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()
	span.SetAttributes(
		telemetry.TaskID(task.ID),
		telemetry.Kind(task.Kind),
		telemetry.Queue(queue),
	)

	if queue == "" {
		return "", fmt.Errorf("job submitted without a queue")
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}

	if err := d.tasks.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("failed to record task: %w", err)
	}

	job := state.Job{
		ID:         task.ID,
		Queue:      queue,
		Kind:       task.Kind,
		Payload:    encoded,
		EnqueuedAt: time.Now(),
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		// Leave a failed task rather than an invisible one.
		d.finishTask(task.ID, models.TaskStateFailed, "failed to enqueue job: "+err.Error())
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	logger.Debug("Submitted job",
		"task_id", task.ID,
		"kind", task.Kind,
		"queue", queue)
	if d.metrics != nil {
		d.metrics.RecordSubmitted(task.Kind)
	}

	select {
	case d.nudge <- struct{}{}:
	default:
	}

	return task.ID, nil
}

// Start launches the worker pool and the claim recovery loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	logger.Info("Starting job dispatcher",
		"workers", d.workers,
		"queues", d.queues)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, fmt.Sprintf("%s-%d", d.id, i))
	}

	d.wg.Add(1)
	go d.recoveryLoop(ctx)

	go func() {
		d.wg.Wait()
		close(d.stoppedCh)
	}()
}

// Stop shuts the dispatcher down, waiting up to timeout for in-flight jobs.
// Jobs still running after the timeout keep their claims and are recovered
// by the next dispatcher once the claims lapse.
func (d *Dispatcher) Stop(timeout time.Duration) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	logger.Info("Stopping job dispatcher")
	close(d.stopCh)

	select {
	case <-d.stoppedCh:
		logger.Info("Job dispatcher stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Job dispatcher stop timed out")
	}
}

// Depth reports how many jobs sit in a queue, claimed ones included.
func (d *Dispatcher) Depth(ctx context.Context, queue string) (int, error) {
	return d.queue.Depth(ctx, queue)
}

// worker claims and processes jobs until stopped.
func (d *Dispatcher) worker(ctx context.Context, workerID string) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := d.queue.Dequeue(ctx, d.queues, workerID, d.jobTimeout+claimSlack)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to dequeue job", "error", err)
			d.idle(ctx)
			continue
		}
		if job == nil {
			d.idle(ctx)
			continue
		}

		d.process(ctx, workerID, job)
	}
}

// idle waits for a nudge, the poll interval, or shutdown.
func (d *Dispatcher) idle(ctx context.Context) {
	select {
	case <-d.stopCh:
	case <-ctx.Done():
	case <-d.nudge:
	case <-time.After(d.pollInterval):
	}
}

// process runs one claimed job through its handler and settles the claim.
func (d *Dispatcher) process(ctx context.Context, workerID string, job *state.Job) {
	handler := d.handlerFor(job.Kind)
	if handler == nil {
		// Redelivery cannot fix a missing handler; drop the job.
		logger.Error("No handler for job kind",
			"task_id", job.ID,
			"kind", job.Kind)
		if d.settle(ctx, workerID, job, false) {
			d.finishTask(job.ID, models.TaskStateFailed, "no handler for job kind "+job.Kind)
		}
		return
	}

	if err := d.tasks.MarkTaskRunning(ctx, job.ID, time.Now()); err != nil && !errors.Is(err, models.ErrTaskNotFound) {
		logger.Warn("Failed to mark task running", "task_id", job.ID, "error", err)
	}

	logger.Debug("Processing job",
		"task_id", job.ID,
		"kind", job.Kind,
		"attempt", job.Attempts)

	// The handler gets its own deadline, detached from the worker loop's
	// context so shutdown does not tear jobs mid-flight.
	jobCtx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	jobCtx, span := telemetry.StartJobSpan(jobCtx, job.Kind, job.ID,
		telemetry.Queue(job.Queue),
		telemetry.Attempt(job.Attempts))
	jobCtx = telemetry.InjectTraceContext(jobCtx)

	started := time.Now()
	err := d.runHandler(jobCtx, handler, job)
	duration := time.Since(started)

	if err != nil {
		telemetry.RecordError(jobCtx, err)
	}
	span.End()
	cancel()

	if err == nil {
		if d.metrics != nil {
			d.metrics.ObserveJob(job.Kind, "succeeded", duration)
		}
		if d.settle(ctx, workerID, job, true) {
			d.finishTask(job.ID, models.TaskStateSucceeded, "")
			logger.Debug("Job succeeded", "task_id", job.ID, "kind", job.Kind)
		}
		return
	}

	var perm *PermanentError
	if errors.As(err, &perm) || job.Attempts >= d.maxAttempts {
		logger.Error("Job failed terminally",
			"task_id", job.ID,
			"kind", job.Kind,
			"attempts", job.Attempts,
			"error", err)
		if d.metrics != nil {
			d.metrics.ObserveJob(job.Kind, "failed", duration)
		}
		if d.settle(ctx, workerID, job, false) {
			d.finishTask(job.ID, models.TaskStateFailed, err.Error())
		}
		return
	}

	logger.Warn("Job attempt failed, requeueing",
		"task_id", job.ID,
		"kind", job.Kind,
		"attempt", job.Attempts,
		"error", err)
	if d.metrics != nil {
		d.metrics.RecordRetry(job.Kind)
	}
	if d.requeue(ctx, workerID, job) {
		message := fmt.Sprintf("attempt %d failed: %v", job.Attempts, err)
		if rqErr := d.tasks.RequeueTask(ctx, job.ID, message); rqErr != nil && !errors.Is(rqErr, models.ErrTaskNotFound) {
			logger.Warn("Failed to requeue task", "task_id", job.ID, "error", rqErr)
		}
	}
}

// runHandler invokes the handler with panic containment; a panicking job
// must not take down the worker.
func (d *Dispatcher) runHandler(ctx context.Context, handler HandlerFunc, job *state.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

// settle acks (done=true) or drops (done=false) the job. It returns false
// when this worker's claim lapsed and the outcome belongs to someone else;
// the caller must then not touch the task row.
func (d *Dispatcher) settle(ctx context.Context, workerID string, job *state.Job, done bool) bool {
	var err error
	if done {
		err = d.queue.Ack(ctx, job.ID, workerID)
	} else {
		err = d.queue.Nack(ctx, job.ID, workerID, false)
	}
	switch {
	case err == nil:
		return true
	case errors.Is(err, state.ErrNotClaimed), errors.Is(err, state.ErrJobNotFound):
		logger.Warn("Discarding job outcome, claim was lost",
			"task_id", job.ID,
			"worker", workerID)
		return false
	default:
		logger.Error("Failed to settle job", "task_id", job.ID, "error", err)
		return false
	}
}

// requeue returns the job to its queue for another attempt. Same claim
// discipline as settle.
func (d *Dispatcher) requeue(ctx context.Context, workerID string, job *state.Job) bool {
	err := d.queue.Nack(ctx, job.ID, workerID, true)
	switch {
	case err == nil:
		return true
	case errors.Is(err, state.ErrNotClaimed), errors.Is(err, state.ErrJobNotFound):
		return false
	default:
		logger.Error("Failed to requeue job", "task_id", job.ID, "error", err)
		return false
	}
}

// recoveryLoop periodically returns jobs with lapsed claims to the ready
// state.
func (d *Dispatcher) recoveryLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.queue.RequeueAbandoned(ctx, time.Now())
			if err != nil {
				logger.Error("Failed to recover abandoned jobs", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("Recovered abandoned jobs", "count", n)
				select {
				case d.nudge <- struct{}{}:
				default:
				}
			}
			d.sampleDepth(ctx)
		}
	}
}

// sampleDepth refreshes the ready-depth gauge for every queue. Riding the
// recovery tick keeps the gauge off the submit and dequeue hot paths.
func (d *Dispatcher) sampleDepth(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	for _, queue := range d.queues {
		depth, err := d.queue.Depth(ctx, queue)
		if err != nil {
			continue
		}
		d.metrics.SetQueueDepth(queue, depth)
	}
}

func (d *Dispatcher) handlerFor(kind string) HandlerFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[kind]
}

// finishTask records a terminal task state, tolerating a missing row.
func (d *Dispatcher) finishTask(taskID string, taskState models.TaskState, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.tasks.MarkTaskFinished(ctx, taskID, taskState, message, time.Now()); err != nil && !errors.Is(err, models.ErrTaskNotFound) {
		logger.Error("Failed to record task outcome",
			"task_id", taskID,
			"state", string(taskState),
			"error", err)
	}
}

// Decode unmarshals a job payload into T.
func Decode[T any](job *state.Job) (*T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", job.Kind, err)
	}
	return &payload, nil
}
