package models

import (
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
)

// Lifecycle states of an active intent.
const (
	IntentStateAccepting int32 = iota
	IntentStateFlushing
	IntentStateTerminated
)

// Fail reasons recorded by the pre-ranking pipeline.
const (
	FailReasonFetch       = "fetch_failed"
	FailReasonConstraints = "constraint_validation_failed"
	FailReasonDryRun      = "dry_run_failed"
	FailReasonComplex     = "complex_validation_failed"
)

// BigAmount is a big.Int that accepts both quoted and bare JSON numbers.
// All on-chain amounts go through this type; arithmetic stays in integer
// space except for the limit-price normalisation.
type BigAmount struct {
	big.Int
}

// NewBigAmount builds a BigAmount from an int64
func NewBigAmount(v int64) *BigAmount {
	a := new(BigAmount)
	a.SetInt64(v)
	return a
}

// NewBigAmountFromString builds a BigAmount from a base-10 string
func NewBigAmountFromString(s string) (*BigAmount, error) {
	a := new(BigAmount)
	if _, ok := a.SetString(s, 10); !ok {
		return nil, errors.Errorf("invalid amount: %q", s)
	}
	return a, nil
}

// MarshalJSON encodes the amount as a base-10 string to avoid precision
// loss in consumers that parse JSON numbers as float64
func (a BigAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts "123", 123 and null
func (a *BigAmount) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if raw == "null" {
		return nil
	}

	if len(raw) >= 2 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}

	if _, ok := a.SetString(raw, 10); !ok {
		return errors.Errorf("invalid amount: %q", raw)
	}
	return nil
}

// AssetAmount describes one leg of an operation. Exactly one of Amount,
// the Min/Max range, or All is expected to be set.
type AssetAmount struct {
	AssetID   string     `json:"asset_id"`
	Amount    *BigAmount `json:"amount,omitempty"`
	MinAmount *BigAmount `json:"min_amount,omitempty"`
	MaxAmount *BigAmount `json:"max_amount,omitempty"`
	All       bool       `json:"all,omitempty"`
	Decimals  *int       `json:"decimals,omitempty"`
}

// AssetCap pairs an asset with a single bound, used by the min-output and
// max-input constraints.
type AssetCap struct {
	AssetID string     `json:"asset_id"`
	Amount  *BigAmount `json:"amount"`
}

// RoutingConstraint restricts which protocols a solution may route through
type RoutingConstraint struct {
	MaxHops   *int     `json:"max_hops,omitempty"`
	Blacklist []string `json:"blacklist,omitempty"`
	Whitelist []string `json:"whitelist,omitempty"`
}

// Limit price comparison directions.
const (
	LimitPriceGTE = "gte"
	LimitPriceLTE = "lte"
)

// LimitPrice constrains the realised execution price of the primary input
type LimitPrice struct {
	Price      float64 `json:"price"`
	Comparison string  `json:"comparison"`
	PriceAsset string  `json:"price_asset"`
}

// Constraints are the user-declared validation rules of an intent.
// Every field is optional; absent fields are not checked.
type Constraints struct {
	DeadlineMs     *int64             `json:"deadline_ms,omitempty"`
	MaxSlippageBps *uint32            `json:"max_slippage_bps,omitempty"`
	MinOutputs     []AssetCap         `json:"min_outputs,omitempty"`
	MaxInputs      []AssetCap         `json:"max_inputs,omitempty"`
	MaxGasCost     *BigAmount         `json:"max_gas_cost,omitempty"`
	Routing        *RoutingConstraint `json:"routing,omitempty"`
	LimitPrice     *LimitPrice        `json:"limit_price,omitempty"`
}

// Operation is the user-declared trade shape
type Operation struct {
	Mode            string        `json:"mode"`
	Inputs          []AssetAmount `json:"inputs"`
	Outputs         []AssetAmount `json:"outputs"`
	ExpectedOutputs []AssetAmount `json:"expected_outputs,omitempty"`
}

// Intent is a user-declared trading request with constraints and a solver
// access window
type Intent struct {
	IntentID      string      `json:"intent_id"`
	UserAddress   string      `json:"user_address"`
	WindowStartMs int64       `json:"window_start_ms"`
	WindowEndMs   int64       `json:"window_end_ms"`
	Operation     Operation   `json:"operation"`
	Constraints   Constraints `json:"constraints"`
}

// Solution is a candidate execution submitted by a solver during an
// intent's window
type Solution struct {
	SolutionID       string `json:"solution_id"`
	IntentID         string `json:"intent_id"`
	SolverAddress    string `json:"solver_address"`
	SubmittedAtMs    int64  `json:"submitted_at_ms"`
	TransactionBytes []byte `json:"transaction_bytes"`
}

// FieldError is a single validation finding
type FieldError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Severity levels for validation findings.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Features are the best-effort enrichment values attached to a passed
// solution for the downstream ranker
type Features struct {
	GasCost        *BigAmount `json:"gas_cost"`
	ProtocolFees   *BigAmount `json:"protocol_fees"`
	Surplus        *BigAmount `json:"surplus"`
	TotalHops      int        `json:"total_hops"`
	ProtocolsCount int        `json:"protocols_count"`
}

// PassedSolution is the stored record of a solution that cleared both
// validation phases
type PassedSolution struct {
	SolutionID string        `json:"solution_id"`
	Solution   *Solution     `json:"solution"`
	Features   *Features     `json:"features"`
	DryRun     *DryRunResult `json:"dry_run"`
}

// FailedSolution is the stored record of a rejected solution
type FailedSolution struct {
	SolutionID string       `json:"solution_id"`
	Reason     string       `json:"reason"`
	Errors     []FieldError `json:"errors,omitempty"`
	Detail     string       `json:"detail,omitempty"`
}

// SolutionRecord is the single per-(intent, solution) store entry; exactly
// one of Passed or Failed is set
type SolutionRecord struct {
	Passed *PassedSolution `json:"passed,omitempty"`
	Failed *FailedSolution `json:"failed,omitempty"`
}

// RankingPayload is the flush handoff to the ranking consumer, keyed by
// intent ID and idempotent on the consumer side
type RankingPayload struct {
	IntentID                string            `json:"intent_id"`
	Intent                  *Intent           `json:"intent"`
	PassedSolutions         []*PassedSolution `json:"passed_solutions"`
	TotalSolutionsSubmitted int64             `json:"total_solutions_submitted"`
	WindowClosedAt          int64             `json:"window_closed_at"`
}
