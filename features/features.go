// Package features derives ranking features from a validated solution and
// its dry-run effects. Extraction is best-effort enrichment: a missing or
// malformed sub-field degrades to a zero value and never fails the
// solution.
package features

import (
	"math/big"
	"strings"

	"github.com/prerank-hq/preranker/models"
)

const (
	// systemPackageID is excluded from protocol counting.
	systemPackageID = "0x2"

	// nativeCoinType is excluded from the hop estimate.
	nativeCoinType = "0x2::sui::SUI"
)

// feeFieldNames are the event payload fields recognised as protocol fees.
var feeFieldNames = []string{"fee", "protocol_fee", "platform_fee", "fee_amount"}

// Extract computes the feature set of a passed solution. It is a pure
// function of (intent, solution, dryRun).
func Extract(intent *models.Intent, _ *models.Solution, dryRun *models.DryRunResult) *models.Features {
	return &models.Features{
		GasCost:        gasCost(dryRun),
		ProtocolFees:   protocolFees(dryRun),
		Surplus:        surplus(intent, dryRun),
		TotalHops:      totalHops(dryRun),
		ProtocolsCount: protocolsCount(dryRun),
	}
}

func gasCost(dryRun *models.DryRunResult) *models.BigAmount {
	if dryRun.Gas == nil || dryRun.Gas.Computation == nil {
		return models.NewBigAmount(0)
	}

	cost := new(models.BigAmount)
	cost.Set(&dryRun.Gas.Computation.Int)
	return cost
}

// protocolFees sums every recognised fee field across the dry-run events
func protocolFees(dryRun *models.DryRunResult) *models.BigAmount {
	total := new(models.BigAmount)

	for _, event := range dryRun.Events {
		for _, name := range feeFieldNames {
			value, ok := event.ParsedJSON[name]
			if !ok {
				continue
			}
			if fee := parseAmount(value); fee != nil {
				total.Add(&total.Int, fee)
			}
		}
	}

	return total
}

// surplus is actual output minus declared minimum for the primary output
// leg, zero when either side is not resolvable
func surplus(intent *models.Intent, dryRun *models.DryRunResult) *models.BigAmount {
	zero := models.NewBigAmount(0)

	if len(intent.Operation.Outputs) == 0 {
		return zero
	}
	output := intent.Operation.Outputs[0]

	actual, found := dryRun.CreditedAmount(intent.UserAddress, output.AssetID)
	if !found {
		return zero
	}

	minOut := minOutputFor(intent, output)
	if minOut == nil {
		return zero
	}

	result := new(models.BigAmount)
	result.Sub(actual, minOut)
	return result
}

// minOutputFor resolves the minimum expected amount of an output leg from
// the min-output constraint, falling back to the leg's own declaration
func minOutputFor(intent *models.Intent, output models.AssetAmount) *big.Int {
	for _, cap := range intent.Constraints.MinOutputs {
		if cap.AssetID == output.AssetID && cap.Amount != nil {
			return &cap.Amount.Int
		}
	}

	if output.MinAmount != nil {
		return &output.MinAmount.Int
	}
	if output.Amount != nil {
		return &output.Amount.Int
	}

	return nil
}

// totalHops merges a balance-change-based estimate (distinct non-native
// coin types minus one) with an object-change-based one; minimum 1
func totalHops(dryRun *models.DryRunResult) int {
	coins := make(map[string]bool)
	for _, change := range dryRun.BalanceChanges {
		if change.CoinType != "" && change.CoinType != nativeCoinType {
			coins[change.CoinType] = true
		}
	}
	coinEstimate := len(coins) - 1

	packages := make(map[string]bool)
	for _, change := range dryRun.ObjectChanges {
		if pkg := packageID(change.ObjectType); pkg != "" && pkg != systemPackageID {
			packages[pkg] = true
		}
	}
	objectEstimate := len(packages)

	hops := coinEstimate
	if objectEstimate > hops {
		hops = objectEstimate
	}
	if hops < 1 {
		hops = 1
	}
	return hops
}

// protocolsCount counts distinct non-system package identifiers across
// events and object changes; minimum 1
func protocolsCount(dryRun *models.DryRunResult) int {
	packages := make(map[string]bool)

	for _, event := range dryRun.Events {
		if pkg := packageID(event.Type); pkg != "" && pkg != systemPackageID {
			packages[pkg] = true
		}
	}
	for _, change := range dryRun.ObjectChanges {
		if pkg := packageID(change.ObjectType); pkg != "" && pkg != systemPackageID {
			packages[pkg] = true
		}
	}

	if len(packages) < 1 {
		return 1
	}
	return len(packages)
}

// packageID returns the first "::"-separated segment of a qualified type
func packageID(qualifiedType string) string {
	if qualifiedType == "" {
		return ""
	}

	segments := strings.SplitN(qualifiedType, "::", 2)
	if len(segments) < 2 {
		return ""
	}
	return segments[0]
}

// parseAmount coerces a loose JSON value into a non-negative integer
// amount; unparseable values degrade to nil
func parseAmount(value interface{}) *big.Int {
	switch v := value.(type) {
	case string:
		amount, ok := new(big.Int).SetString(v, 10)
		if !ok || amount.Sign() < 0 {
			return nil
		}
		return amount
	case float64:
		if v < 0 {
			return nil
		}
		amount, _ := big.NewFloat(v).Int(nil)
		return amount
	}
	return nil
}
