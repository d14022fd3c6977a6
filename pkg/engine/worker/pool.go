// Package worker provides the asynchronous maintenance pool behind the
// engine facade. Resurrection checks and consolidation sweeps run here so
// the retrieval hot path never waits on store writes it does not need.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/consolidate"
	"github.com/engramlabs/engram/pkg/tier"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = time.Minute
)

// Kind discriminates maintenance job types.
type Kind string

const (
	// KindResurrect re-checks one item against the resurrection gate.
	KindResurrect Kind = "resurrect"

	// KindConsolidate runs one consolidation sweep batch.
	KindConsolidate Kind = "consolidate"
)

// Job is a unit of maintenance work for the pool to execute.
type Job struct {
	Kind Kind

	// ItemID is the resurrection candidate. Resurrect jobs only.
	ItemID string

	// Cursor and BatchSize scope a sweep batch. Consolidate jobs only.
	Cursor    string
	BatchSize int
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Tiers handles resurrection jobs.
	Tiers *tier.Manager

	// Consolidator handles sweep jobs. Groups are serialized by the
	// consolidator's lease locks, never by the pool.
	Consolidator *consolidate.Engine

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds each job's execution (defaults to one minute).
	// A sweep batch cut off mid-way stays safe: groups merge atomically
	// and the next sweep picks up the remainder.
	JobTimeout time.Duration

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool processes maintenance jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.JobTimeout == 0 {
		c.JobTimeout = defaultJobTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			zap.String("kind", string(job.Kind)),
			zap.String("item_id", job.ItemID),
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			zap.String("kind", string(job.Kind)),
			zap.String("item_id", job.ItemID),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the host has stopped submitting.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("maintenance worker stopped", zap.Uint("worker_id", id))
}

func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	switch job.Kind {
	case KindResurrect:
		if p.config.Tiers == nil {
			return
		}
		moved, err := p.config.Tiers.Resurrect(ctx, job.ItemID)
		if err != nil {
			p.logger.Warn("async resurrection check failed",
				zap.String("item_id", job.ItemID),
				zap.Error(err),
			)
			return
		}
		if moved {
			p.logger.Info("item resurrected to working tier",
				zap.String("item_id", job.ItemID),
			)
		}

	case KindConsolidate:
		if p.config.Consolidator == nil {
			return
		}
		report, next, err := p.config.Consolidator.Sweep(ctx, job.Cursor, job.BatchSize)
		if err != nil {
			p.logger.Error("async consolidation sweep failed",
				zap.String("cursor", job.Cursor),
				zap.Error(err),
			)
			return
		}
		p.logger.Info("consolidation batch processed",
			zap.Int("scanned", report.Scanned),
			zap.Int("groups", report.Groups),
			zap.Int("merges", len(report.Merges)),
			zap.String("next_cursor", next),
		)

	default:
		p.logger.Error("unknown job kind dropped", zap.String("kind", string(job.Kind)))
	}
}
