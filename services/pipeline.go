package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/prerank-hq/preranker/features"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
	"github.com/prerank-hq/preranker/store"
	"github.com/prerank-hq/preranker/validator"
)

// BlobFetcher fetches content-addressed payloads
type BlobFetcher interface {
	FetchIntent(ctx context.Context, blobID string) (*models.Intent, error)
	FetchSolution(ctx context.Context, blobID string) (*models.Solution, error)
}

// Simulator dry-runs a transaction and returns its predicted effects
type Simulator interface {
	DryRun(ctx context.Context, transactionBytes []byte) (*models.DryRunResult, error)
}

// Pipeline runs the ordered, fast-fail pre-ranking of a single solution:
// fetch, Phase-1 validation, simulation, Phase-2 validation, feature
// extraction. It never propagates an error to the coordinator; every
// outcome ends in a pass or fail record.
type Pipeline struct {
	blob      BlobFetcher
	simulator Simulator
	store     store.IntentStore
	recordTTL time.Duration
	logger    zerolog.Logger
	metrics   *Metrics
}

// NewPipeline creates a Pipeline
func NewPipeline(
	blobFetcher BlobFetcher,
	simulator Simulator,
	intentStore store.IntentStore,
	recordTTL time.Duration,
	logger zerolog.Logger,
	metrics *Metrics,
) *Pipeline {
	return &Pipeline{
		blob:      blobFetcher,
		simulator: simulator,
		store:     intentStore,
		recordTTL: recordTTL,
		logger:    logger.With().Str(logging.FieldModule, "pipeline").Logger(),
		metrics:   metrics,
	}
}

// Process pre-ranks one submitted solution for an accepting intent.
// It returns whether the solution passed; replayed events are absorbed by
// the store's first-write-wins record keys.
func (p *Pipeline) Process(ctx context.Context, ictx *IntentContext, event *models.SolutionSubmittedEvent) bool {
	logger := p.logger.With().
		Str(logging.FieldIntent, event.IntentID).
		Str(logging.FieldSolution, event.SolutionID).
		Logger()

	// Step 1: fetch the solution body.
	solution, err := p.blob.FetchSolution(ctx, event.BlobID)
	if err != nil {
		logger.Warn().Err(err).Msg("Solution blob fetch failed")
		p.recordFailed(ctx, ictx, &models.FailedSolution{
			SolutionID: event.SolutionID,
			Reason:     models.FailReasonFetch,
			Detail:     err.Error(),
		})
		return false
	}

	// Step 2: cheap constraint checks before paying for a simulation.
	summary := validator.Summarize(solution.TransactionBytes)
	phase1 := validator.ValidatePhase1(ictx.Intent, solution, summary, ictx.WindowEndMs)
	if !phase1.OK() {
		logger.Info().Int("errors", len(phase1.Errors)).Msg("Solution failed constraint validation")
		p.recordFailed(ctx, ictx, &models.FailedSolution{
			SolutionID: event.SolutionID,
			Reason:     models.FailReasonConstraints,
			Errors:     phase1.Errors,
		})
		return false
	}

	// Step 3: simulate.
	dryRun, err := p.simulator.DryRun(ctx, solution.TransactionBytes)
	if err != nil {
		logger.Warn().Err(err).Msg("Dry run call failed")
		p.recordFailed(ctx, ictx, &models.FailedSolution{
			SolutionID: event.SolutionID,
			Reason:     models.FailReasonDryRun,
			Detail:     err.Error(),
		})
		return false
	}
	if !dryRun.Succeeded() {
		logger.Info().Str("error_msg", dryRun.ErrorMsg).Msg("Dry run reported execution failure")
		p.recordFailed(ctx, ictx, &models.FailedSolution{
			SolutionID: event.SolutionID,
			Reason:     models.FailReasonDryRun,
			Detail:     dryRun.ErrorMsg,
		})
		return false
	}

	// Step 4: result-dependent constraint checks.
	phase2 := validator.ValidatePhase2(ictx.Intent, solution, dryRun)
	if !phase2.OK() {
		logger.Info().Int("errors", len(phase2.Errors)).Msg("Solution failed complex validation")
		p.recordFailed(ctx, ictx, &models.FailedSolution{
			SolutionID: event.SolutionID,
			Reason:     models.FailReasonComplex,
			Errors:     phase2.Errors,
		})
		return false
	}

	// Step 5: enrich and record the pass.
	feats := features.Extract(ictx.Intent, solution, dryRun)
	p.recordPassed(ctx, ictx, &models.PassedSolution{
		SolutionID: event.SolutionID,
		Solution:   solution,
		Features:   feats,
		DryRun:     dryRun,
	})
	logger.Info().Msg("Solution passed pre-ranking")

	return true
}

// recordPassed writes a pass record under the intent's record gate.
// Writes racing a flush are discarded once the intent left ACCEPTING.
func (p *Pipeline) recordPassed(ctx context.Context, ictx *IntentContext, record *models.PassedSolution) {
	ictx.gate.RLock()
	defer ictx.gate.RUnlock()

	if ictx.State() != models.IntentStateAccepting {
		p.logger.Debug().
			Str(logging.FieldIntent, ictx.IntentID).
			Str(logging.FieldSolution, record.SolutionID).
			Msg("Discarding pass record for closed intent")
		return
	}

	stored, err := p.store.PutPassed(ctx, ictx.IntentID, record.SolutionID, record, p.recordTTL)
	if err != nil {
		p.logger.Error().Err(err).
			Str(logging.FieldIntent, ictx.IntentID).
			Str(logging.FieldSolution, record.SolutionID).
			Msg("Failed to store pass record")
		return
	}
	if !stored {
		// Replayed event; the original record stands.
		return
	}

	ictx.passedCount.Add(1)
	p.metrics.IncSolutionsPassed()
}

func (p *Pipeline) recordFailed(ctx context.Context, ictx *IntentContext, record *models.FailedSolution) {
	ictx.gate.RLock()
	defer ictx.gate.RUnlock()

	if ictx.State() != models.IntentStateAccepting {
		p.logger.Debug().
			Str(logging.FieldIntent, ictx.IntentID).
			Str(logging.FieldSolution, record.SolutionID).
			Str(logging.FieldReason, record.Reason).
			Msg("Discarding fail record for closed intent")
		return
	}

	stored, err := p.store.PutFailed(ctx, ictx.IntentID, record.SolutionID, record, p.recordTTL)
	if err != nil {
		p.logger.Error().Err(err).
			Str(logging.FieldIntent, ictx.IntentID).
			Str(logging.FieldSolution, record.SolutionID).
			Str(logging.FieldReason, record.Reason).
			Msg("Failed to store fail record")
		return
	}
	if !stored {
		return
	}

	ictx.failedCount.Add(1)
	p.metrics.IncSolutionsFailed(record.Reason)
}
