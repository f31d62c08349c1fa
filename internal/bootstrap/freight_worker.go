package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"freight_server/adapter/in/worker"
	"freight_server/adapter/out/messaging"
	"freight_server/pkg/logger"

	"github.com/rs/zerolog"
)

type Worker struct {
	pool      *worker.Pool
	consumer  *messaging.Consumer
	scheduler *worker.ReconcileScheduler
	deps      *Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	zlog      zerolog.Logger
}

func NewWorker(deps *Dependencies) *Worker {
	cfg := deps.Config

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zlog = zlog.Level(level)
	}

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerCount > 0 {
		poolConfig.Workers = cfg.WorkerCount
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}

	handler := worker.NewHandler(deps.IngestService)
	pool := worker.NewPool(handler, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	// Redis Stream Consumer 설정 (Redis가 있을 때만)
	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                "freight-workers",
			Consumer:             cfg.WorkerID,
			Streams:              messaging.JobStreams(),
			Handler:              &streamHandler{pool: pool},
			Logger:               zlog,
			BatchSize:            cfg.ConsumerBatchSize,
			Block:                time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
			MaxRetries:           cfg.ConsumerMaxRetries,
		})
	} else {
		logger.Warn("Redis not available, worker will only run scheduled reconciles")
	}

	if cfg.SchedulerEnabled {
		w.scheduler = worker.NewReconcileScheduler(deps.Producer, pool, cfg.ReconcileInterval)
	}

	return w
}

// streamHandler runs stream jobs on the pool and waits for the result, so a
// failed job is left pending for reclaim.
type streamHandler struct {
	pool *worker.Pool
}

func (h *streamHandler) Handle(ctx context.Context, stream string, data []byte) error {
	msg, done := worker.NewTrackedMessage(worker.StreamJobType(stream), data)
	if !h.pool.Submit(msg) {
		return fmt.Errorf("worker pool rejected job from %s", stream)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) Start() {
	w.pool.Start()

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
			}
		}()
	}

	if w.scheduler != nil {
		w.scheduler.Start()
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	w.cancel()
	w.wg.Wait()
	w.pool.Stop()
}

// Stats exposes pool metrics for the API.
func (w *Worker) Stats() any {
	return w.pool.GetMetrics()
}
