package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
	"github.com/prerank-hq/preranker/store"
)

const (
	// flushTimeout bounds the store reads and queue enqueue of one flush.
	flushTimeout = 30 * time.Second

	defaultFlushChannelBuffer = 64
)

// ErrIntentNotActive is returned by Flush for unknown or already-closed
// intents.
var ErrIntentNotActive = errors.New("intent not active")

// IntentContext is the per-intent in-memory state. The lifecycle state
// moves ACCEPTING -> FLUSHING -> TERMINATED exactly once; the CAS on the
// first transition makes the flush at-most-once. Record writes take the
// gate shared, a flush takes it exclusive.
type IntentContext struct {
	Intent      *models.Intent
	IntentID    string
	WindowEndMs int64

	state       atomic.Int32
	passedCount atomic.Int64
	failedCount atomic.Int64

	timer *time.Timer
	gate  sync.RWMutex
}

// State returns the current lifecycle state
func (ic *IntentContext) State() int32 {
	return ic.state.Load()
}

// PassedCount returns the number of pass records written for this intent
func (ic *IntentContext) PassedCount() int64 {
	return ic.passedCount.Load()
}

// FailedCount returns the number of fail records written for this intent
func (ic *IntentContext) FailedCount() int64 {
	return ic.failedCount.Load()
}

// CoordinatorConfig carries the collaborators and policy of a Coordinator
type CoordinatorConfig struct {
	Store     store.IntentStore
	Blob      BlobFetcher
	Pipeline  *Pipeline
	Publisher *Publisher

	RecordTTL          time.Duration
	FlushOnEmptyPassed bool
	EagerDeleteOnFlush bool
	Concurrency        int

	Logger  zerolog.Logger
	Metrics *Metrics
}

// Coordinator owns the intent lifecycle: it routes ingested events,
// schedules window-close timers and flushes validated candidate sets to
// the ranking queue. It is the sole consumer of the ingestor's stream.
type Coordinator struct {
	store     store.IntentStore
	blob      BlobFetcher
	pipeline  *Pipeline
	publisher *Publisher

	recordTTL          time.Duration
	flushOnEmptyPassed bool
	eagerDeleteOnFlush bool

	logger  zerolog.Logger
	metrics *Metrics

	mu      sync.Mutex
	intents map[string]*IntentContext

	// flushCh carries flush-due messages from window timers and manual
	// triggers; consumed by the Start loop.
	flushCh chan string

	// sem bounds concurrent pipeline workers; inflight tracks them so the
	// ingestor can wait out a tick before persisting its cursor.
	sem      chan struct{}
	inflight sync.WaitGroup

	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	loopWg        sync.WaitGroup
}

// NewCoordinator creates a Coordinator
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())

	return &Coordinator{
		store:     cfg.Store,
		blob:      cfg.Blob,
		pipeline:  cfg.Pipeline,
		publisher: cfg.Publisher,

		recordTTL:          cfg.RecordTTL,
		flushOnEmptyPassed: cfg.FlushOnEmptyPassed,
		eagerDeleteOnFlush: cfg.EagerDeleteOnFlush,

		logger:  cfg.Logger.With().Str(logging.FieldModule, "coordinator").Logger(),
		metrics: cfg.Metrics,

		intents: make(map[string]*IntentContext),
		flushCh: make(chan string, defaultFlushChannelBuffer),
		sem:     make(chan struct{}, concurrency),

		cleanupCtx:    cleanupCtx,
		cleanupCancel: cleanupCancel,
	}
}

// Start launches the flush-due consumer loop
func (c *Coordinator) Start(ctx context.Context) {
	c.loopWg.Add(1)
	go func() {
		defer c.loopWg.Done()

		for {
			select {
			case intentID := <-c.flushCh:
				if err := c.Flush(intentID); err != nil && !errors.Is(err, ErrIntentNotActive) {
					c.logger.Error().Err(err).
						Str(logging.FieldIntent, intentID).
						Msg("Flush failed")
				}
			case <-ctx.Done():
				return
			case <-c.cleanupCtx.Done():
				return
			}
		}
	}()
}

// Shutdown cancels timers and waits for the consumer loop and in-flight
// pipeline workers to stop
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.cleanupCancel()

	c.mu.Lock()
	for _, ictx := range c.intents {
		if ictx.timer != nil {
			ictx.timer.Stop()
		}
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.loopWg.Wait()
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timeout waiting for coordinator to stop")
	}
}

// ActiveIntentCount returns the number of intents currently tracked
func (c *Coordinator) ActiveIntentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.intents)
}

// Lookup returns the active context for an intent, or nil
func (c *Coordinator) Lookup(intentID string) *IntentContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intents[intentID]
}

// HandleEvent routes one ingested event. The ingestor calls this in
// ascending stream order; intent-open is handled synchronously so that a
// later solution event always observes its context.
func (c *Coordinator) HandleEvent(ctx context.Context, event *models.Event) error {
	switch event.Kind {
	case models.KindIntentSubmitted:
		c.metrics.IncEventsProcessed(event.Kind.String())
		return c.handleIntentSubmitted(ctx, event.Intent)
	case models.KindSolutionSubmitted:
		c.metrics.IncEventsProcessed(event.Kind.String())
		return c.handleSolutionSubmitted(event.Solution)
	}
	return errors.Errorf("unroutable event kind %d", event.Kind)
}

// WaitIdle blocks until all dispatched pipeline workers have completed
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for pipeline workers")
	}
}

func (c *Coordinator) handleIntentSubmitted(ctx context.Context, event *models.IntentSubmittedEvent) error {
	logger := c.logger.With().Str(logging.FieldIntent, event.IntentID).Logger()

	c.mu.Lock()
	_, exists := c.intents[event.IntentID]
	c.mu.Unlock()
	if exists {
		// Replay or duplicate emission; the existing context stands.
		logger.Warn().Msg("Duplicate intent event dropped")
		return nil
	}

	intent, err := c.blob.FetchIntent(ctx, event.BlobID)
	if err != nil {
		logger.Error().Err(err).Str("blob_id", event.BlobID).Msg("Intent blob unavailable; dropping intent")
		return nil
	}

	if intent.IntentID == "" {
		intent.IntentID = event.IntentID
	}
	if intent.UserAddress == "" {
		intent.UserAddress = event.UserAddress
	}

	windowEndMs := intent.WindowEndMs
	if windowEndMs == 0 {
		windowEndMs = event.WindowEndMs
	}

	if err := c.store.PutIntent(ctx, event.IntentID, intent, c.recordTTL); err != nil {
		logger.Error().Err(err).Msg("Failed to persist intent body; dropping intent")
		return nil
	}

	ictx := &IntentContext{
		Intent:      intent,
		IntentID:    event.IntentID,
		WindowEndMs: windowEndMs,
	}
	ictx.state.Store(models.IntentStateAccepting)

	delay := time.Duration(windowEndMs-time.Now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	// Publish the context before arming the timer: an already-expired
	// window fires immediately and the resulting flush must find the
	// intent in the map. The timer only posts a message; the flush
	// itself runs on the coordinator loop.
	intentID := event.IntentID
	c.mu.Lock()
	c.intents[intentID] = ictx
	ictx.timer = time.AfterFunc(delay, func() {
		select {
		case c.flushCh <- intentID:
		case <-c.cleanupCtx.Done():
		}
	})
	c.mu.Unlock()

	c.metrics.IncActiveIntents()
	logger.Info().
		Int64("window_end_ms", windowEndMs).
		Dur("window_remaining", delay).
		Msg("Intent accepted; window open")

	return nil
}

func (c *Coordinator) handleSolutionSubmitted(event *models.SolutionSubmittedEvent) error {
	ictx := c.Lookup(event.IntentID)
	if ictx == nil {
		// Normal for late-arriving solutions whose intent already flushed.
		c.logger.Warn().
			Str(logging.FieldIntent, event.IntentID).
			Str(logging.FieldSolution, event.SolutionID).
			Msg("Solution for unknown intent dropped")
		return nil
	}

	c.inflight.Add(1)
	select {
	case c.sem <- struct{}{}:
	case <-c.cleanupCtx.Done():
		c.inflight.Done()
		return nil
	}

	go func() {
		defer func() {
			<-c.sem
			c.inflight.Done()
		}()

		start := time.Now()
		c.pipeline.Process(c.cleanupCtx, ictx, event)
		c.metrics.ObservePipelineDuration(time.Since(start).Seconds())
	}()

	return nil
}

// Flush closes an intent's window: it wins the ACCEPTING -> FLUSHING CAS
// at most once, drains in-flight record writes, publishes the passed set
// and releases the context. Both the window timer and the manual trigger
// run through here.
func (c *Coordinator) Flush(intentID string) error {
	ictx := c.Lookup(intentID)
	if ictx == nil {
		return ErrIntentNotActive
	}

	if !ictx.state.CompareAndSwap(models.IntentStateAccepting, models.IntentStateFlushing) {
		// Another flush already started.
		return nil
	}

	logger := c.logger.With().Str(logging.FieldIntent, intentID).Logger()

	// The timer field is written under c.mu when the intent is opened.
	c.mu.Lock()
	timer := ictx.timer
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}

	// Wait out record writes that entered the gate before the CAS.
	ictx.gate.Lock()
	defer ictx.gate.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	defer func() {
		ictx.state.Store(models.IntentStateTerminated)
		c.removeContext(intentID)
	}()

	passedCount := ictx.passedCount.Load()

	if passedCount == 0 && !c.flushOnEmptyPassed {
		if err := c.store.DeleteIntentTree(ctx, intentID); err != nil {
			logger.Error().Err(err).Msg("Failed to delete empty intent tree")
		}
		logger.Info().Msg("Window closed with no passed solutions; nothing published")
		return nil
	}

	passed, err := c.store.ListPassed(ctx, intentID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read passed set; intent lost")
		c.metrics.IncIntentsLost()
		return err
	}

	failedCount, err := c.store.CountFailed(ctx, intentID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to count failed set; using in-memory counter")
		failedCount = ictx.failedCount.Load()
	}

	payload := &models.RankingPayload{
		IntentID:                intentID,
		Intent:                  ictx.Intent,
		PassedSolutions:         passed,
		TotalSolutionsSubmitted: int64(len(passed)) + failedCount,
		WindowClosedAt:          time.Now().UnixMilli(),
	}

	if err := c.publisher.Enqueue(ctx, payload); err != nil {
		logger.Error().Err(err).Msg("Ranking enqueue exhausted retries; intent lost")
		c.metrics.IncIntentsLost()
		return err
	}

	if c.eagerDeleteOnFlush {
		if err := c.store.DeleteIntentTree(ctx, intentID); err != nil {
			logger.Warn().Err(err).Msg("Failed to eagerly delete intent tree")
		}
	}

	logger.Info().
		Int("passed", len(passed)).
		Int64("failed", failedCount).
		Msg("Intent flushed")

	return nil
}

func (c *Coordinator) removeContext(intentID string) {
	c.mu.Lock()
	_, exists := c.intents[intentID]
	delete(c.intents, intentID)
	c.mu.Unlock()

	if exists {
		c.metrics.DecActiveIntents()
	}
}
