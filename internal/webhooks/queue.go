package webhooks

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"hookrelay/internal/integrations"
	"hookrelay/internal/metrics"
	"hookrelay/internal/model"
)

// Job is one pending delivery of an event to one registration.
type Job struct {
	ID          string
	WebhookID   string
	EventType   string
	Payload     any
	Attempts    int
	MaxAttempts int
	ScheduledAt time.Time
	Priority    int
	EnqueuedAt  time.Time
	RateKey     string
	// RateLimit overrides QueueConfig.OutboundLimit for this job's key.
	RateLimit   integrations.Limit

	seq   uint64
	index int
}

// Deliverer performs one attempt for a job.
type Deliverer interface {
	DeliverByID(ctx context.Context, webhookID, eventType string, payload any) model.DeliveryResult
}

// Recorder observes attempts and permanent failures.
type Recorder interface {
	RecordAttempt(job Job, res model.DeliveryResult)
	RecordFailedDelivery(job Job, message string)
}

type QueueConfig struct {
	MaxConcurrency  int
	MaxAttempts     int
	BackoffBase     time.Duration
	MaxBackoff      time.Duration
	DefaultPriority int
	// OutboundLimit applies to jobs that carry a RateKey but no RateLimit.
	OutboundLimit integrations.Limit
}

func (c *QueueConfig) setDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Hour
	}
	if c.DefaultPriority <= 0 {
		c.DefaultPriority = 5
	}
}

// Queue schedules jobs by readiness and priority and runs at most
// MaxConcurrency deliveries at a time. Failed jobs are retried with
// exponential backoff until MaxAttempts is reached.
type Queue struct {
	cfg      QueueConfig
	deliver  Deliverer
	recorder Recorder
	limiter  *RateLimiter
	sem      *semaphore.Weighted

	mu       sync.Mutex
	delayed  delayHeap
	ready    readyHeap
	seq      uint64
	inFlight int
	running  bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewQueue(d Deliverer, rec Recorder, limiter *RateLimiter, cfg QueueConfig) *Queue {
	cfg.setDefaults()
	return &Queue{
		cfg:      cfg,
		deliver:  d,
		recorder: rec,
		limiter:  limiter,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// JobOption adjusts a job at enqueue time.
type JobOption func(*Job)

// WithRateKey subjects the job to the outbound rate limit for key.
func WithRateKey(key string) JobOption { return func(j *Job) { j.RateKey = key } }

// WithRateLimit sets the budget for the job's rate key.
func WithRateLimit(l integrations.Limit) JobOption { return func(j *Job) { j.RateLimit = l } }

// Enqueue adds a job that is ready immediately and returns its ID.
func (q *Queue) Enqueue(webhookID, eventType string, payload any, priority int, opts ...JobOption) string {
	if priority <= 0 {
		priority = q.cfg.DefaultPriority
	}
	now := q.now()
	j := &Job{
		ID:          uuid.New().String(),
		WebhookID:   webhookID,
		EventType:   eventType,
		Payload:     payload,
		MaxAttempts: q.cfg.MaxAttempts,
		ScheduledAt: now,
		Priority:    priority,
		EnqueuedAt:  now,
	}
	for _, o := range opts {
		o(j)
	}
	q.mu.Lock()
	q.push(j)
	q.mu.Unlock()
	q.signal()
	return j.ID
}

// Start launches the scheduler. It is a no-op if already running.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.mu.Unlock()
	go q.run(runCtx)
}

// Stop halts dispatching and waits for in-flight deliveries. Jobs still
// pending are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	cancel()
	<-done
	q.wg.Wait()
	if n := q.Len(); n > 0 {
		log.Warn().Int("pending", n).Msg("webhook queue stopped with pending jobs")
	}
}

// Len is the number of jobs waiting, ready or delayed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() + q.delayed.Len()
}

// InFlight is the number of deliveries currently running.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		wait := q.dispatch(ctx)
		var timer *time.Timer
		var fire <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-q.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// dispatch starts every ready job a slot allows and returns how long until
// the next delayed job is due, or -1 when none is.
func (q *Queue) dispatch(ctx context.Context) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for q.delayed.Len() > 0 && !q.delayed[0].ScheduledAt.After(now) {
		heap.Push(&q.ready, heap.Pop(&q.delayed))
	}
	for q.ready.Len() > 0 && q.sem.TryAcquire(1) {
		j := heap.Pop(&q.ready).(*Job)
		if j.RateKey != "" {
			if d := q.limiter.Reserve(j.RateKey, q.limitFor(j)); d > 0 {
				q.sem.Release(1)
				j.ScheduledAt = now.Add(d)
				heap.Push(&q.delayed, j)
				metrics.RateLimited.WithLabelValues("outbound").Inc()
				continue
			}
		}
		q.inFlight++
		q.wg.Add(1)
		go q.execute(context.WithoutCancel(ctx), j)
	}
	metrics.QueueDepth.Set(float64(q.ready.Len() + q.delayed.Len()))
	metrics.QueueInFlight.Set(float64(q.inFlight))
	if q.delayed.Len() == 0 {
		return -1
	}
	return q.delayed[0].ScheduledAt.Sub(now)
}

func (q *Queue) limitFor(j *Job) integrations.Limit {
	if j.RateLimit.Requests > 0 && j.RateLimit.Window > 0 {
		return j.RateLimit
	}
	return q.cfg.OutboundLimit
}

func (q *Queue) execute(ctx context.Context, j *Job) {
	defer func() {
		q.sem.Release(1)
		q.mu.Lock()
		q.inFlight--
		q.mu.Unlock()
		q.wg.Done()
		q.signal()
	}()

	res := q.attempt(ctx, j)
	j.Attempts++
	if q.recorder != nil {
		q.recorder.RecordAttempt(*j, res)
	}
	if res.Success {
		return
	}
	if j.Attempts < j.MaxAttempts {
		delay := backoffDelay(q.cfg.BackoffBase, j.Attempts, q.cfg.MaxBackoff)
		log.Warn().Str("webhook_id", j.WebhookID).Str("event", j.EventType).Int("attempt", j.Attempts).
			Int("status", res.StatusCode).Bool("retryable", IsRetryable(res.StatusCode)).Dur("retry_in", delay).Msg(res.Error)
		q.mu.Lock()
		j.ScheduledAt = q.now().Add(delay)
		heap.Push(&q.delayed, j)
		q.mu.Unlock()
		return
	}
	log.Error().Str("webhook_id", j.WebhookID).Str("event", j.EventType).Int("attempts", j.Attempts).
		Msgf("webhook delivery failed permanently: %s", res.Error)
	if q.recorder != nil {
		q.recorder.RecordFailedDelivery(*j, res.Error)
	}
}

// attempt runs one delivery; a panic counts as a failed attempt.
func (q *Queue) attempt(ctx context.Context, j *Job) (res model.DeliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("webhook_id", j.WebhookID).Interface("panic", r).Msg("webhook delivery panicked")
			res = model.DeliveryResult{Error: fmt.Sprintf("delivery panicked: %v", r)}
		}
	}()
	return q.deliver.DeliverByID(ctx, j.WebhookID, j.EventType, j.Payload)
}

// push must be called with q.mu held.
func (q *Queue) push(j *Job) {
	q.seq++
	j.seq = q.seq
	if j.ScheduledAt.After(q.now()) {
		heap.Push(&q.delayed, j)
		return
	}
	heap.Push(&q.ready, j)
}

// backoffDelay is base * 2^attempts, capped at ceiling.
func backoffDelay(base time.Duration, attempts int, ceiling time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 30 {
		return ceiling
	}
	d := base * time.Duration(1<<attempts)
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// readyHeap orders by priority (high first), then schedule time, then FIFO.
type readyHeap []*Job

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, k int) bool {
	if h[i].Priority != h[k].Priority {
		return h[i].Priority > h[k].Priority
	}
	if !h[i].ScheduledAt.Equal(h[k].ScheduledAt) {
		return h[i].ScheduledAt.Before(h[k].ScheduledAt)
	}
	return h[i].seq < h[k].seq
}
func (h readyHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i]; h[i].index = i; h[k].index = k }
func (h *readyHeap) Push(x any) { j := x.(*Job); j.index = len(*h); *h = append(*h, j) }
func (h *readyHeap) Pop() any { return popJob((*[]*Job)(h)) }

// delayHeap orders by schedule time.
type delayHeap []*Job

func (h delayHeap) Len() int { return len(h) }
func (h delayHeap) Less(i, k int) bool {
	if !h[i].ScheduledAt.Equal(h[k].ScheduledAt) {
		return h[i].ScheduledAt.Before(h[k].ScheduledAt)
	}
	return h[i].seq < h[k].seq
}
func (h delayHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i]; h[i].index = i; h[k].index = k }
func (h *delayHeap) Push(x any) { j := x.(*Job); j.index = len(*h); *h = append(*h, j) }
func (h *delayHeap) Pop() any { return popJob((*[]*Job)(h)) }

func popJob(s *[]*Job) any {
	old := *s
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*s = old[:n-1]
	return j
}
