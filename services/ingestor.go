package services

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
	"github.com/prerank-hq/preranker/store"
)

// ChainSource queries ordered chain events of one type after a cursor
type ChainSource interface {
	QueryEvents(ctx context.Context, eventType string, cursor *models.EventCursor, limit int) ([]models.RawEvent, error)
}

// EventSink consumes routed events. WaitIdle blocks until all work
// dispatched by previous HandleEvent calls has settled.
type EventSink interface {
	HandleEvent(ctx context.Context, event *models.Event) error
	WaitIdle(ctx context.Context) error
}

// IngestorConfig carries the collaborators and polling policy of an
// Ingestor
type IngestorConfig struct {
	Chain   ChainSource
	Cursors store.CursorStore
	Sink    EventSink

	IntentPackageID string
	PollInterval    time.Duration
	BatchLimit      int

	Logger  zerolog.Logger
	Metrics *Metrics
}

// Ingestor polls the chain for intent and solution events, merges the
// two streams into ascending cursor order and hands each event to the
// sink. The cursor is persisted only after the sink has gone idle, so a
// crash replays at most one tick of events; the store's first-write-wins
// records absorb the replay.
type Ingestor struct {
	chain   ChainSource
	cursors store.CursorStore
	sink    EventSink

	intentEventType   string
	solutionEventType string
	pollInterval      time.Duration
	batchLimit        int

	logger  zerolog.Logger
	metrics *Metrics

	mu          sync.Mutex
	cursor      *models.EventCursor
	cursorDirty bool
	lastPollTs  int64

	cancel context.CancelFunc
	loopWg sync.WaitGroup
}

// NewIngestor creates an Ingestor
func NewIngestor(cfg IngestorConfig) *Ingestor {
	return &Ingestor{
		chain:   cfg.Chain,
		cursors: cfg.Cursors,
		sink:    cfg.Sink,

		intentEventType:   cfg.IntentPackageID + models.IntentSubmittedEventSuffix,
		solutionEventType: cfg.IntentPackageID + models.SolutionSubmittedEventSuffix,
		pollInterval:      cfg.PollInterval,
		batchLimit:        cfg.BatchLimit,

		logger:  cfg.Logger.With().Str(logging.FieldModule, "ingestor").Logger(),
		metrics: cfg.Metrics,
	}
}

// Start seeds the cursor from the store and launches the polling loop.
// It fails when the cursor cannot be loaded; starting blind would replay
// the whole stream.
func (i *Ingestor) Start(ctx context.Context) error {
	cursor, err := i.cursors.LoadCursor(ctx)
	if err != nil {
		return errors.Wrap(err, "loading event cursor")
	}

	i.mu.Lock()
	i.cursor = cursor
	i.mu.Unlock()

	if cursor != nil {
		i.logger.Info().
			Uint64("event_seq", cursor.EventSeq).
			Str("tx_digest", cursor.TxDigest).
			Msg("Resuming event ingestion from stored cursor")
	} else {
		i.logger.Info().Msg("No stored cursor; ingesting from stream head")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel

	i.loopWg.Add(1)
	go func() {
		defer i.loopWg.Done()

		ticker := time.NewTicker(i.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				i.tick(loopCtx)
			case <-loopCtx.Done():
				return
			}
		}
	}()

	return nil
}

// Shutdown stops the polling loop and waits for the current tick
func (i *Ingestor) Shutdown(timeout time.Duration) error {
	if i.cancel != nil {
		i.cancel()
	}

	done := make(chan struct{})
	go func() {
		i.loopWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timeout waiting for ingestor to stop")
	}
}

// CurrentCursor returns the last cursor consumed in-process
func (i *Ingestor) CurrentCursor() *models.EventCursor {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cursor == nil {
		return nil
	}
	c := *i.cursor
	return &c
}

// LastPollTs returns the unix timestamp of the last completed poll
func (i *Ingestor) LastPollTs() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastPollTs
}

// tick runs one poll cycle: query both event types, merge, dispatch in
// order, then persist the advanced cursor once the sink is idle.
func (i *Ingestor) tick(ctx context.Context) {
	i.mu.Lock()
	cursor := i.cursor
	i.mu.Unlock()

	var intentEvents, solutionEvents []models.RawEvent

	g, queryCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		intentEvents, err = i.chain.QueryEvents(queryCtx, i.intentEventType, cursor, i.batchLimit)
		return errors.Wrap(err, "querying intent events")
	})
	g.Go(func() error {
		var err error
		solutionEvents, err = i.chain.QueryEvents(queryCtx, i.solutionEventType, cursor, i.batchLimit)
		return errors.Wrap(err, "querying solution events")
	})
	if err := g.Wait(); err != nil {
		// Transient source failure; the cursor holds and the next tick
		// retries the same range.
		i.logger.Error().Err(err).Msg("Event poll failed")
		return
	}

	now := time.Now().Unix()
	i.mu.Lock()
	i.lastPollTs = now
	i.mu.Unlock()
	i.metrics.SetLastPollTimestamp(now)

	merged := mergeAscending(intentEvents, solutionEvents)

	// A page returning exactly batchLimit events may have been truncated
	// by the source. Nothing past that stream's last returned cursor can
	// be consumed this tick: the other stream's later events would pull
	// the cursor past the truncated stream's unreturned ones.
	if ceiling, capped := pageCeiling(i.batchLimit, intentEvents, solutionEvents); capped {
		merged = clampToCursor(merged, ceiling)
	}

	for idx := range merged {
		raw := &merged[idx]

		event, err := models.ParseEvent(raw)
		if err != nil {
			// A malformed event must not wedge the stream; skip it but
			// still advance past its cursor.
			i.logger.Error().Err(err).
				Uint64("event_seq", raw.Cursor.EventSeq).
				Str("event_type", raw.Type).
				Msg("Skipping unparseable event")
			i.metrics.IncEventsSkipped()
			i.advanceCursor(raw.Cursor)
			continue
		}

		if err := i.sink.HandleEvent(ctx, event); err != nil {
			i.logger.Error().Err(err).
				Uint64("event_seq", raw.Cursor.EventSeq).
				Msg("Event sink rejected event")
			i.metrics.IncEventsSkipped()
		}
		i.advanceCursor(raw.Cursor)
	}

	if err := i.sink.WaitIdle(ctx); err != nil {
		i.logger.Warn().Err(err).Msg("Interrupted waiting for sink; cursor not persisted")
		return
	}

	i.persistCursor(ctx)
}

// advanceCursor moves the in-process cursor forward, never backward
func (i *Ingestor) advanceCursor(cursor models.EventCursor) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cursor != nil && !i.cursor.Less(cursor) {
		return
	}
	c := cursor
	i.cursor = &c
	i.cursorDirty = true
}

// persistCursor stores the cursor when it moved since the last success.
// A store failure keeps the dirty flag set so the next tick retries;
// losing a persist only widens the replay window, never skips events.
func (i *Ingestor) persistCursor(ctx context.Context) {
	i.mu.Lock()
	dirty := i.cursorDirty
	var cursor models.EventCursor
	if i.cursor != nil {
		cursor = *i.cursor
	}
	i.mu.Unlock()

	if !dirty {
		return
	}

	if err := i.cursors.StoreCursor(ctx, cursor); err != nil {
		i.logger.Error().Err(err).
			Uint64("event_seq", cursor.EventSeq).
			Msg("Failed to persist event cursor")
		i.metrics.IncCursorStoreFailures()
		return
	}

	i.mu.Lock()
	// Only clear when no further advance happened while storing.
	if i.cursor != nil && *i.cursor == cursor {
		i.cursorDirty = false
	}
	i.mu.Unlock()
}

// pageCeiling returns the highest cursor that is safe to consume this
// tick. A stream whose page holds exactly limit events is treated as
// truncated; with several truncated streams the lowest of their last
// cursors wins.
func pageCeiling(limit int, streams ...[]models.RawEvent) (models.EventCursor, bool) {
	var ceiling models.EventCursor
	capped := false

	for _, events := range streams {
		if limit < 1 || len(events) != limit {
			continue
		}
		last := events[len(events)-1].Cursor
		if !capped || last.Less(ceiling) {
			ceiling = last
			capped = true
		}
	}

	return ceiling, capped
}

// clampToCursor drops the tail of a cursor-ordered slice past ceiling
func clampToCursor(events []models.RawEvent, ceiling models.EventCursor) []models.RawEvent {
	for idx := range events {
		if ceiling.Less(events[idx].Cursor) {
			return events[:idx]
		}
	}
	return events
}

// mergeAscending merges two cursor-ordered event slices into one
func mergeAscending(a, b []models.RawEvent) []models.RawEvent {
	merged := make([]models.RawEvent, 0, len(a)+len(b))

	x, y := 0, 0
	for x < len(a) && y < len(b) {
		if a[x].Cursor.Less(b[y].Cursor) {
			merged = append(merged, a[x])
			x++
		} else {
			merged = append(merged, b[y])
			y++
		}
	}
	merged = append(merged, a[x:]...)
	merged = append(merged, b[y:]...)

	return merged
}
