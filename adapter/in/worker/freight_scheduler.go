package worker

import (
	"context"
	"time"

	"freight_server/core/port/out"
	"freight_server/pkg/logger"
)

// =============================================================================
// ReconcileScheduler - 주기적 재계산
// =============================================================================
//
// On every tick it enqueues a reconcile job, or runs one through the local
// pool when no producer is configured.

type ReconcileScheduler struct {
	producer out.JobProducer
	pool     *Pool
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewReconcileScheduler creates a scheduler. producer may be nil.
func NewReconcileScheduler(producer out.JobProducer, pool *Pool, interval time.Duration) *ReconcileScheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReconcileScheduler{
		producer: producer,
		pool:     pool,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *ReconcileScheduler) Start() {
	logger.Info("[ReconcileScheduler] Starting with interval %v", s.interval)
	go s.run()
}

func (s *ReconcileScheduler) Stop() {
	logger.Info("[ReconcileScheduler] Stopping...")
	s.cancel()
}

func (s *ReconcileScheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[ReconcileScheduler] Stopped")
			return
		case <-ticker.C:
			s.trigger()
		}
	}
}

func (s *ReconcileScheduler) trigger() {
	if s.producer != nil {
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()

		jobID, err := s.producer.PublishReconcile(ctx)
		if err == nil {
			logger.Info("[ReconcileScheduler] Enqueued reconcile job %s", jobID)
			return
		}
		logger.Warn("[ReconcileScheduler] Failed to enqueue reconcile: %v", err)
	}

	if s.pool != nil && s.pool.Submit(NewMessage(JobReconcile, []byte(`{}`))) {
		logger.Info("[ReconcileScheduler] Submitted reconcile to local pool")
		return
	}
	logger.Error("[ReconcileScheduler] Reconcile could not be scheduled")
}
