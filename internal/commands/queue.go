package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/pkg/redis"
)

// Delivery wraps a decoded dispense command together with its stream
// bookkeeping. Attempts counts how many times the command has been handed
// to a consumer, including reclaims after a visibility timeout.
type Delivery struct {
	ID        string
	Command   model.DispenseCommand
	Timestamp time.Time
	Attempts  int
}

// Handler processes a single dispense command.
// Return values:
//   - nil: success, the command is acked and never redelivered
//   - error: the command stays pending and is reclaimed after the
//     visibility timeout
type Handler func(ctx context.Context, d *Delivery) error

type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

// Queue carries dispense commands from the payment flow to the device
// agents over a redis stream. Each agent joins the same consumer group,
// so a command is delivered to exactly one agent at a time; commands
// stuck with a dead agent are reclaimed after the visibility timeout.
type Queue struct {
	adapter redis.RedisAdapter
	config  QueueConfig
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	inwork  map[string]*Delivery
}

type QueueStats struct {
	TotalCommands   int64
	PendingCommands int64
	ConsumerCount   int64
}

func NewQueue(adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "agents"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("agent-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		adapter: adapter,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		inwork:  make(map[string]*Delivery),
	}

	// Group may already exist from a previous run, which is fine.
	_ = q.adapter.XGroupCreateMkStream(q.config.Name, q.config.ConsumerGroup, "0")

	return q, nil
}

// Publish enqueues a dispense command. Called after the payment
// transaction commits; the command id can be attached to logs for tracing.
func (q *Queue) Publish(ctx context.Context, cmd model.DispenseCommand) (string, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dispense command: %w", err)
	}

	values := map[string]interface{}{
		"command":    string(payload),
		"session_id": cmd.SessionID,
		"device_id":  cmd.DeviceID,
		"timestamp":  time.Now().Unix(),
		"attempts":   0,
	}

	id, err := q.adapter.XAdd(q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish dispense command: %w", err)
	}

	if q.config.MaxLen > 0 {
		_ = q.adapter.XTrimApprox(q.config.Name, q.config.MaxLen)
	}

	return id, nil
}

// Consume starts delivering commands to the handler in the background.
func (q *Queue) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("command handler is required")
	}

	q.handler = handler
	q.wg.Add(1)

	go q.consumeLoop()

	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.readNewCommands()
			q.claimStuckCommands()
		}
	}
}

func (q *Queue) readNewCommands() {
	messages, err := q.adapter.XReadGroup(
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.Name,
		">",
		q.config.BatchSize,
	)
	if err != nil {
		return
	}

	for _, streamMsg := range messages {
		d, err := q.decode(streamMsg)
		if err != nil {
			// Not a dispense command; drop it so it can't wedge the stream.
			_ = q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, streamMsg.ID)
			continue
		}
		q.dispatch(d)
	}
}

func (q *Queue) claimStuckCommands() {
	pending, err := q.adapter.XPending(q.config.Name, q.config.ConsumerGroup)
	if err != nil || pending == nil || pending.Count == 0 {
		return
	}

	pendingExt, err := q.adapter.XPendingExt(
		q.config.Name,
		q.config.ConsumerGroup,
		"-",
		"+",
		100,
	)
	if err != nil || len(pendingExt) == 0 {
		return
	}

	var idsToReclaim []string
	for _, msg := range pendingExt {
		if msg.Idle >= q.config.VisibilityTimeout {
			idsToReclaim = append(idsToReclaim, msg.ID)
		}
	}

	if len(idsToReclaim) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(
		q.config.Name,
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.VisibilityTimeout,
		idsToReclaim...,
	)
	if err != nil {
		return
	}

	for _, streamMsg := range messages {
		d, err := q.decode(streamMsg)
		if err != nil {
			_ = q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, streamMsg.ID)
			continue
		}
		d.Attempts++
		q.dispatch(d)
	}
}

func (q *Queue) dispatch(d *Delivery) {
	q.mu.Lock()
	q.inwork[d.ID] = d
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.inwork, d.ID)
		q.mu.Unlock()
	}()

	if d.Attempts >= q.config.MaxRetries {
		q.moveToDeadLetterQueue(d)
		_ = q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, d.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, d); err != nil {
		// Leave the command pending; it will be reclaimed and retried.
		return
	}

	_ = q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, d.ID)
}

func (q *Queue) moveToDeadLetterQueue(d *Delivery) {
	if !q.config.EnableDLQ {
		return
	}

	payload, err := json.Marshal(d.Command)
	if err != nil {
		return
	}

	dlqName := q.config.Name + ":dlq"
	_, _ = q.adapter.XAdd(dlqName, map[string]interface{}{
		"command":        string(payload),
		"session_id":     d.Command.SessionID,
		"device_id":      d.Command.DeviceID,
		"original_id":    d.ID,
		"attempts":       d.Attempts,
		"failed_at":      time.Now().Unix(),
		"original_queue": q.config.Name,
	})
}

func (q *Queue) decode(streamMsg redis.StreamMessage) (*Delivery, error) {
	d := &Delivery{ID: streamMsg.ID}

	raw, ok := streamMsg.Values["command"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("stream entry %s has no command payload", streamMsg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &d.Command); err != nil {
		return nil, fmt.Errorf("failed to decode dispense command %s: %w", streamMsg.ID, err)
	}

	if ts, ok := streamMsg.Values["timestamp"].(string); ok {
		if unix, err := strconv.ParseInt(ts, 10, 64); err == nil {
			d.Timestamp = time.Unix(unix, 0)
		}
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	if attempts, ok := streamMsg.Values["attempts"].(string); ok {
		fmt.Sscanf(attempts, "%d", &d.Attempts)
	}

	return d, nil
}

func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for command queue to stop")
	}
}

func (q *Queue) GetStats() (*QueueStats, error) {
	total, err := q.adapter.XLen(q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{TotalCommands: total}

	pending, err := q.adapter.XPending(q.config.Name, q.config.ConsumerGroup)
	if err == nil && pending != nil {
		stats.PendingCommands = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}

	return stats, nil
}
