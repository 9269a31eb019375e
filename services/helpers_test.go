package services

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/prerank-hq/preranker/clients/blob"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
)

const (
	testUser      = "0xuser"
	testUsdcType  = "0xa::usdc::USDC"
	testWindowEnd = int64(1_700_000_000_000)
)

func testLogger(t *testing.T) zerolog.Logger {
	return logging.NewTesting(t)
}

// fakeBlob serves intent and solution bodies from in-memory maps; a
// missing blob behaves like the real store's 404.
type fakeBlob struct {
	mu        sync.Mutex
	intents   map[string]*models.Intent
	solutions map[string]*models.Solution

	intentErr   error
	solutionErr error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{
		intents:   make(map[string]*models.Intent),
		solutions: make(map[string]*models.Solution),
	}
}

func (f *fakeBlob) FetchIntent(_ context.Context, blobID string) (*models.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.intentErr != nil {
		return nil, f.intentErr
	}
	intent, ok := f.intents[blobID]
	if !ok {
		return nil, blob.ErrBlobNotFound
	}
	return intent, nil
}

func (f *fakeBlob) FetchSolution(_ context.Context, blobID string) (*models.Solution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.solutionErr != nil {
		return nil, f.solutionErr
	}
	solution, ok := f.solutions[blobID]
	if !ok {
		return nil, blob.ErrBlobNotFound
	}
	return solution, nil
}

type fakeSimulator struct {
	mu     sync.Mutex
	result *models.DryRunResult
	err    error
	calls  int
}

func (f *fakeSimulator) DryRun(context.Context, []byte) (*models.DryRunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeSimulator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestIntent() *models.Intent {
	return &models.Intent{
		IntentID:    "intent-1",
		UserAddress: testUser,
		WindowEndMs: testWindowEnd,
		Operation: models.Operation{
			Mode:    "swap",
			Inputs:  []models.AssetAmount{{AssetID: "0x2::sui::SUI", Amount: models.NewBigAmount(100)}},
			Outputs: []models.AssetAmount{{AssetID: testUsdcType, MinAmount: models.NewBigAmount(40)}},
		},
		Constraints: models.Constraints{
			MinOutputs: []models.AssetCap{
				{AssetID: testUsdcType, Amount: models.NewBigAmount(40)},
			},
		},
	}
}

func newTestSolution(solutionID string, submittedAtMs int64) *models.Solution {
	return &models.Solution{
		SolutionID:       solutionID,
		IntentID:         "intent-1",
		SolverAddress:    "0xsolver",
		SubmittedAtMs:    submittedAtMs,
		TransactionBytes: []byte("opaque-tx-bytes"),
	}
}

// passingDryRun credits the user enough output to clear the min-output
// constraint of newTestIntent
func passingDryRun() *models.DryRunResult {
	return &models.DryRunResult{
		Status: models.DryRunStatusOK,
		Gas:    &models.GasSummary{Computation: models.NewBigAmount(10)},
		BalanceChanges: []models.BalanceChange{
			{Owner: testUser, CoinType: testUsdcType, Amount: models.NewBigAmount(50)},
		},
	}
}
