package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/commands"
	"github.com/ecotrend/dispensing-gateway/internal/config"
	"github.com/ecotrend/dispensing-gateway/pkg/logger"
	"github.com/ecotrend/dispensing-gateway/pkg/redis"
	"github.com/ecotrend/dispensing-gateway/pkg/worker"
)

const PourTimeout = time.Second * 15
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

const consumerInstances = 4
const workerPoolSize = 32

// AgentService consumes dispense commands and drives the pours. It runs a
// fixed set of stream consumers feeding a shared worker pool, plus metrics
// and health loops.
type AgentService struct {
	adapter   redis.RedisAdapter
	queues    []*commands.Queue
	processor Processor
	metrics   *PourMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

// Processor handles one delivered dispense command.
type Processor interface {
	Process(ctx context.Context, d *commands.Delivery) error
	GetType() string
}

func NewAgentService(redisAdapter redis.RedisAdapter) (*AgentService, error) {
	ctx, cancel := context.WithCancel(context.Background())
	service := &AgentService{
		adapter:   redisAdapter,
		queues:    make([]*commands.Queue, 0),
		processor: nil,
		metrics:   NewPourMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		worker:    worker.NewWorkerManager(10_000, workerPoolSize, nil),
	}
	return service, nil
}

func (s *AgentService) RegisterProcessor(processor Processor) {
	s.processor = processor
	logger.Info("Registered processor", "type", processor.GetType())
}

func (s *AgentService) Start() error {
	logger.Info("Starting Agent Service...")

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Error("Worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < consumerInstances; i++ {
		queueConfig := commands.QueueConfig{
			Name:              config.Get().CommandQueueName,
			ConsumerGroup:     config.Get().CommandQueueConsumerGroup,
			ConsumerName:      config.Get().CommandQueueConsumerName,
			MaxRetries:        config.Get().CommandQueueMaxRetries,
			VisibilityTimeout: config.Get().CommandQueueVisibilityTimeout,
			PollInterval:      config.Get().CommandQueuePollInterval,
			BatchSize:         config.Get().CommandQueueBatchSize,
			MaxLen:            config.Get().CommandQueueMaxLen,
			EnableDLQ:         config.Get().CommandQueueEnableDLQ,
		}
		queueConfig.ConsumerName = fmt.Sprintf("%s-instance-%d", queueConfig.ConsumerName, i)

		q, err := commands.NewQueue(s.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}

		if err := q.Consume(s.commandHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.queues = append(s.queues, q)
		logger.Info("Started consumer instance", "instance", i)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Agent Service started", "consumers", len(s.queues), "workers", workerPoolSize)
	return nil
}

func (s *AgentService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *AgentService) reportMetrics() {
	stats := s.metrics.GetStats()

	logger.Info("=== Agent Metrics ===")
	logger.Info("Metrics", "total_pours", stats["total_pours"], "total_failed", stats["total_failed"], "rate_per_second", stats["rate_per_second"], "avg_duration_ms", stats["avg_duration_ms"], "uptime_seconds", stats["uptime_seconds"])

	for i, q := range s.queues {
		if qStats, err := q.GetStats(); err == nil {
			logger.Info("Queue stats", "queue", i, "total", qStats.TotalCommands, "pending", qStats.PendingCommands)
		}
	}
}

func (s *AgentService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *AgentService) performHealthCheck() {
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return
	}

	for i, q := range s.queues {
		stats, err := q.GetStats()
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: Queue stats unavailable", "queue", i, "error", err)
			continue
		}

		// A deep backlog means devices are not keeping up with payments
		if stats.PendingCommands > 1000 {
			logger.Warn("HEALTH CHECK WARNING: Queue has high lag", "queue", i, "pending_commands", stats.PendingCommands)
		}
	}

	logger.Info("HEALTH CHECK: OK - Service healthy")
}

func (s *AgentService) Stop() {
	logger.Info("Shutting down Agent Service...")

	s.cancel()

	timeout := ShutdownTimeout
	stopChan := make(chan bool, len(s.queues))

	for i, q := range s.queues {
		go func(index int, queue *commands.Queue) {
			if err := queue.Stop(timeout); err != nil {
				logger.Error("Error stopping queue", "queue", index, "error", err)
			}
			stopChan <- true
		}(i, q)
	}

	for range s.queues {
		select {
		case <-stopChan:
		case <-time.After(timeout + 5*time.Second):
			logger.Warn("Timeout waiting for queues to stop")
		}
	}

	s.worker.Exit()

	s.wg.Wait()

	s.reportMetrics()

	logger.Info("Agent Service stopped")
}

type jobResult struct {
	delivery   *commands.Delivery
	resultChan chan error
	ctx        context.Context
}

// commandHandler receives commands from the queue and enqueues them to the
// worker pool, blocking until a worker reports the outcome so ack/nack
// decisions stay with the queue.
func (s *AgentService) commandHandler(ctx context.Context, d *commands.Delivery) error {
	resultChan := make(chan error, 1)

	cmdCtx, cancel := context.WithTimeout(ctx, PourTimeout+time.Second)
	defer cancel()

	job := &jobResult{
		delivery:   d,
		resultChan: resultChan,
		ctx:        cmdCtx,
	}

	s.worker.Enqueue(job)

	select {
	case err := <-resultChan:
		return err
	case <-cmdCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process command: %w", cmdCtx.Err())
	}
}

func (s *AgentService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	d := jobRes.delivery
	start := time.Now()
	var resultErr error

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("Job context cancelled before processing started", "worker", workerIndex)
		return
	default:
	}

	if s.processor == nil {
		logger.Info("No processor registered", "worker", workerIndex)
		s.metrics.RecordFailure()
		resultErr = nil // ACK - nothing to run it against
	} else {
		if err := s.processor.Process(jobRes.ctx, d); err != nil {
			s.metrics.RecordFailure()
			logger.Error("Failed to process command", "worker", workerIndex, "error", err)
			resultErr = err // NACK
		} else {
			duration := time.Since(start)
			s.metrics.RecordPour(duration)
			resultErr = nil // ACK
		}
	}

	// Non-blocking send; if commandHandler timed out there is no receiver
	select {
	case jobRes.resultChan <- resultErr:
	case <-jobRes.ctx.Done():
		logger.Warn("Context cancelled while sending result, command handler timed out", "worker", workerIndex)
	}
}
