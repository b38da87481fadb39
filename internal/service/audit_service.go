package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toll-gate/tollgate/internal/domain/audit"
)

// AuditService provides async audit logging with a buffered channel and a
// background worker. Decisions are recorded without blocking the evaluation
// hot path; when the buffer is full the record is dropped and counted.
type AuditService struct {
	store         audit.Store
	records       chan audit.Record
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	dropCount     atomic.Int64
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

// WithChannelSize sets the size of the record channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		s.records = make(chan audit.Record, size)
	}
}

// NewAuditService creates an audit service and starts its background worker.
// Call Stop to flush and shut it down.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store:         store,
		records:       make(chan audit.Record, 1000),
		done:          make(chan struct{}),
		logger:        logger,
		batchSize:     100,
		flushInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.worker()
	return s
}

// Record queues a record for persistence. Never blocks: when the buffer is
// full the record is dropped and the drop counter incremented.
func (s *AuditService) Record(rec audit.Record) {
	select {
	case s.records <- rec:
	default:
		s.dropCount.Add(1)
	}
}

// Dropped returns the number of records dropped due to a full buffer.
func (s *AuditService) Dropped() int64 {
	return s.dropCount.Load()
}

// Stop flushes pending records and shuts down the worker. Safe to call more
// than once.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// worker drains the channel, writing batches on size or interval.
func (s *AuditService) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]audit.Record, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.store.Append(context.Background(), batch); err != nil {
			s.logger.Error("audit append failed", "error", err, "records", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.records:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is already buffered, then flush once.
			for {
				select {
				case rec := <-s.records:
					batch = append(batch, rec)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
