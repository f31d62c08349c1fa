package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"freight_server/pkg/ratelimit"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// =============================================================================
// go-pkgz/pool 기반 Worker Pool
// =============================================================================

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers          int
	QueueSize        int
	BatchSize        int
	WorkerChanSize   int
	JobTimeout       time.Duration
	JobTimeoutByType map[JobType]time.Duration
	MaxRetries       int
	RatePerSecond    int
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        4,
		QueueSize:      1000,
		BatchSize:      1,
		WorkerChanSize: 100,
		JobTimeout:     2 * time.Minute,
		JobTimeoutByType: map[JobType]time.Duration{
			JobIngest:    2 * time.Minute,  // 분류 + tier 추출
			JobReprocess: 2 * time.Minute,
			JobReconcile: 30 * time.Minute, // 전체 shipment 재계산
		},
		MaxRetries:    3,
		RatePerSecond: 100,
	}
}

// Pool runs jobs on a go-pkgz/pool worker group.
type Pool struct {
	handler *Handler
	config  *PoolConfig

	pool *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	log     zerolog.Logger

	rateLimiter *ratelimit.TokenBucket

	dlq   chan *Message
	dlqWg sync.WaitGroup

	started bool
	mu      sync.Mutex
}

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsProcessed  int64 `json:"jobs_processed"`
	JobsFailed     int64 `json:"jobs_failed"`
	JobsDropped    int64 `json:"jobs_dropped"`
	JobsRetried    int64 `json:"jobs_retried"`
	AvgProcessTime int64 `json:"avg_process_ms"`
	Workers        int32 `json:"workers"`
	QueueSize      int32 `json:"queue_size"`
}

// messageWorker implements pool.Worker for Message processing.
type messageWorker struct {
	pool *Pool
}

func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

// NewPool creates a new worker pool.
func NewPool(handler *Handler, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		handler:     handler,
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
		metrics:     &PoolMetrics{},
		log:         log.With().Str("component", "worker_pool").Logger(),
		rateLimiter: ratelimit.NewTokenBucket(config.RatePerSecond, config.RatePerSecond),
		dlq:         make(chan *Message, 100),
	}
}

// Start starts the worker pool.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.pool = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start pool")
		return
	}
	p.started = true

	p.dlqWg.Add(1)
	go p.dlqProcessor()
	go p.metricsReporter()

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("batch_size", p.config.BatchSize).
		Msg("worker pool started")
}

// Stop drains submitted jobs and stops the pool.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if err := p.pool.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing pool")
	}

	p.cancel()
	close(p.dlq)
	p.dlqWg.Wait()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// Submit submits a job to the pool. It returns false when the pool is not
// running or the job is rate limited.
func (p *Pool) Submit(msg *Message) bool {
	p.mu.Lock()
	if !p.started || p.pool == nil {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	if ok, _ := p.rateLimiter.Allow(); !ok {
		atomic.AddInt64(&p.metrics.JobsDropped, 1)
		p.log.Warn().
			Str("job_id", msg.ID).
			Str("job_type", msg.Type).
			Msg("job dropped due to rate limiting")
		return false
	}

	p.pool.Submit(msg)
	atomic.AddInt32(&p.metrics.QueueSize, 1)
	return true
}

func (p *Pool) getJobTimeout(jobType JobType) time.Duration {
	if timeout, ok := p.config.JobTimeoutByType[jobType]; ok {
		return timeout
	}
	return p.config.JobTimeout
}

// processJob processes a single job with timeout.
func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	defer atomic.AddInt32(&p.metrics.QueueSize, -1)

	jobCtx, cancel := context.WithTimeout(ctx, p.getJobTimeout(msg.Type))
	defer cancel()

	err := p.handler.Process(jobCtx, msg)
	p.updateAvgProcessTime(time.Since(start).Milliseconds())

	if err == nil {
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		msg.finish(nil)
		return nil
	}

	p.log.Error().
		Err(err).
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Int("retries", msg.Retries).
		Msg("job processing failed")

	// stream 메시지는 XCLAIM으로 재시도
	if msg.done != nil {
		atomic.AddInt64(&p.metrics.JobsFailed, 1)
		msg.finish(err)
		return err
	}

	if msg.Retries < p.config.MaxRetries {
		msg.Retries++
		atomic.AddInt64(&p.metrics.JobsRetried, 1)

		base := time.Duration(1<<msg.Retries) * time.Second
		jitter := time.Duration(rand.Intn(500)) * time.Millisecond
		time.AfterFunc(base+jitter, func() {
			p.Submit(msg)
		})
		return err
	}

	atomic.AddInt64(&p.metrics.JobsFailed, 1)
	select {
	case p.dlq <- msg:
	default:
		p.log.Error().Str("job_id", msg.ID).Msg("DLQ full, job lost")
	}
	return err
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
		return
	}
	atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
}

func (p *Pool) dlqProcessor() {
	defer p.dlqWg.Done()

	for msg := range p.dlq {
		p.log.Error().
			Str("job_id", msg.ID).
			Str("job_type", msg.Type).
			Int("retries", msg.Retries).
			RawJSON("payload", msg.Payload).
			Msg("DLQ: job permanently failed")
	}
}

func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			m := p.GetMetrics()
			p.log.Info().
				Int64("processed", m.JobsProcessed).
				Int64("failed", m.JobsFailed).
				Int64("dropped", m.JobsDropped).
				Int64("retried", m.JobsRetried).
				Int64("avg_process_ms", m.AvgProcessTime).
				Int32("queue_size", m.QueueSize).
				Msg("worker pool metrics")
		}
	}
}

// GetMetrics returns current pool metrics.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsDropped:    atomic.LoadInt64(&p.metrics.JobsDropped),
		JobsRetried:    atomic.LoadInt64(&p.metrics.JobsRetried),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
		Workers:        int32(p.config.Workers),
		QueueSize:      atomic.LoadInt32(&p.metrics.QueueSize),
	}
}
