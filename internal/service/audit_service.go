package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fe-row/AEGIS/internal/domain/audit"
	"github.com/fe-row/AEGIS/internal/domain/pipeline"
	"github.com/fe-row/AEGIS/internal/observability"
)

// AuditService provides async decision logging with a buffered channel and
// background worker. Decisions are recorded without blocking the
// authorization hot path.
type AuditService struct {
	store         audit.Store
	auditChan     chan audit.DecisionRecord
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	// Backpressure: fast non-blocking send, then a bounded blocking send.
	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64
	metrics     *observability.Metrics // optional, may be nil

	// Channel depth warning, rate-limited to once per second.
	warningThreshold int
	lastWarning      atomic.Int64 // Unix nanos of last warning

	// Depth percentage that switches the worker to fast flushing.
	adaptiveFlushThreshold int
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		s.batchSize = size
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		s.flushInterval = interval
	}
}

// WithChannelSize sets the size of the audit channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		s.auditChan = make(chan audit.DecisionRecord, size)
		s.channelSize = size
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
// A warning is logged when channel depth exceeds this percentage of capacity.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.warningThreshold = percent
	}
}

// WithAdaptiveFlushThreshold sets the channel depth % that triggers faster
// flushing. When channel depth exceeds this %, the flush interval drops to
// 1/4 of normal. Set to 0 to disable adaptive flushing.
func WithAdaptiveFlushThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.adaptiveFlushThreshold = percent
	}
}

// WithAuditMetrics attaches Prometheus metrics for drop counting.
func WithAuditMetrics(m *observability.Metrics) AuditOption {
	return func(s *AuditService) {
		s.metrics = m
	}
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	defaultChannelSize := 1000
	s := &AuditService{
		store:                  store,
		auditChan:              make(chan audit.DecisionRecord, defaultChannelSize),
		logger:                 logger,
		batchSize:              64,
		flushInterval:          time.Second,
		channelSize:            defaultChannelSize,
		sendTimeout:            100 * time.Millisecond,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker that batches and writes records.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record sends a decision record to the background worker.
// Applies backpressure: attempts fast non-blocking send, then blocks up to
// sendTimeout. If the timeout expires, the record is dropped and counted.
func (s *AuditService) Record(record audit.DecisionRecord) {
	if s.warningThreshold > 0 {
		depth := len(s.auditChan)
		threshold := s.channelSize * s.warningThreshold / 100
		if depth >= threshold {
			s.warnChannelDepth(depth)
		}
	}

	// Fast path: non-blocking send.
	select {
	case s.auditChan <- record:
		return
	default:
		// Channel full - apply backpressure.
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	// Slow path: block with timeout.
	select {
	case s.auditChan <- record:
		return
	case <-time.After(s.sendTimeout):
		s.recordDrop(record)
	}
}

// recordDrop increments the counters and logs the drop.
func (s *AuditService) recordDrop(record audit.DecisionRecord) {
	drops := s.dropCount.Add(1)
	if s.metrics != nil {
		s.metrics.AuditDropsTotal.Inc()
	}
	s.logger.Warn("audit record dropped",
		"agent_id", record.AgentID,
		"action", record.Action,
		"total_drops", drops,
	)
}

// warnChannelDepth logs a warning about channel capacity, rate-limited to
// once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()

	if now-last < int64(time.Second) {
		return
	}

	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns total dropped records.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage.
func (s *AuditService) ChannelDepth() int {
	return len(s.auditChan)
}

// ChannelCapacity returns the channel buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop signals the worker to stop and waits for it to finish.
// Pending records are flushed before returning.
func (s *AuditService) Stop() {
	close(s.auditChan)
	s.wg.Wait()
}

// worker is the background goroutine that collects and flushes records.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.DecisionRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	fastMode := false

	for {
		select {
		case record, ok := <-s.auditChan:
			if !ok {
				// Channel closed - final flush with bounded deadline.
				if len(batch) > 0 {
					flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
					s.flush(flushCtx, batch)
					flushCancel()
				}
				return
			}
			batch = append(batch, record)

			shouldFlush := len(batch) >= s.batchSize

			// Adaptive: flush early when the channel is under pressure.
			if !shouldFlush && s.adaptiveFlushThreshold > 0 && len(batch) > 0 {
				depth := len(s.auditChan)
				depthPercent := depth * 100 / s.channelSize
				if depthPercent >= s.adaptiveFlushThreshold {
					shouldFlush = true
				}
			}

			if shouldFlush {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

			if s.adaptiveFlushThreshold > 0 {
				depth := len(s.auditChan)
				depthPercent := depth * 100 / s.channelSize

				if depthPercent >= s.adaptiveFlushThreshold && !fastMode {
					ticker.Reset(s.flushInterval / 4)
					fastMode = true
					s.logger.Debug("audit adaptive flush: entering fast mode",
						"depth_percent", depthPercent,
						"interval", s.flushInterval/4,
					)
				} else if depthPercent < s.adaptiveFlushThreshold && fastMode {
					ticker.Reset(s.flushInterval)
					fastMode = false
					s.logger.Debug("audit adaptive flush: returning to normal mode",
						"depth_percent", depthPercent,
						"interval", s.flushInterval,
					)
				}
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Context cancelled - drain channel and flush with bounded deadline.
			for record := range s.auditChan {
				batch = append(batch, record)
			}
			if len(batch) > 0 {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.flush(flushCtx, batch)
				flushCancel()
			}
			return
		}
	}
}

// flush writes a batch of records to the store. Errors are logged but not
// propagated - audit must not fail authorization.
func (s *AuditService) flush(ctx context.Context, batch []audit.DecisionRecord) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// Compile-time interface verification.
var _ pipeline.Recorder = (*AuditService)(nil)
