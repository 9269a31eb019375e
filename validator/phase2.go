package validator

import (
	"fmt"
	"math/big"

	"github.com/prerank-hq/preranker/models"
)

var bpsScale = big.NewInt(10000)

// ValidatePhase2 runs the result-dependent constraint checks against the
// dry-run effects: minimum outputs, slippage, gas cap and limit price.
func ValidatePhase2(
	intent *models.Intent,
	solution *models.Solution,
	dryRun *models.DryRunResult,
) Result {
	var result Result

	checkMinOutputs(&result, intent, dryRun)
	checkMaxSlippage(&result, intent, dryRun)
	checkMaxGas(&result, intent.Constraints.MaxGasCost, dryRun)
	checkLimitPrice(&result, intent, dryRun)

	return result
}

func checkMinOutputs(result *Result, intent *models.Intent, dryRun *models.DryRunResult) {
	for _, cap := range intent.Constraints.MinOutputs {
		if cap.Amount == nil {
			continue
		}

		actual, found := dryRun.CreditedAmount(intent.UserAddress, cap.AssetID)
		if !found {
			result.addError("constraints.min_outputs",
				fmt.Sprintf("no %s credited to user", cap.AssetID))
			continue
		}

		if actual.Cmp(&cap.Amount.Int) < 0 {
			result.addError("constraints.min_outputs",
				fmt.Sprintf("output %s of %s below minimum %s", actual, cap.AssetID, cap.Amount))
		}
	}
}

// checkMaxSlippage compares realised outputs against expected outputs in
// basis points, floored integer arithmetic. Negative slippage (actual at
// or above expected) never fails.
func checkMaxSlippage(result *Result, intent *models.Intent, dryRun *models.DryRunResult) {
	maxBps := intent.Constraints.MaxSlippageBps
	if maxBps == nil || len(intent.Operation.ExpectedOutputs) == 0 {
		return
	}

	limit := new(big.Int).SetUint64(uint64(*maxBps))

	for _, expected := range intent.Operation.ExpectedOutputs {
		if expected.Amount == nil || expected.Amount.Sign() <= 0 {
			continue
		}

		actual, _ := dryRun.CreditedAmount(intent.UserAddress, expected.AssetID)

		// slippage_bps = floor((expected - actual) * 10000 / expected)
		shortfall := new(big.Int).Sub(&expected.Amount.Int, actual)
		shortfall.Mul(shortfall, bpsScale)
		slippageBps := shortfall.Div(shortfall, &expected.Amount.Int)

		if slippageBps.Cmp(limit) > 0 {
			result.addError("constraints.max_slippage_bps",
				fmt.Sprintf("slippage %s bps on %s exceeds cap %d", slippageBps, expected.AssetID, *maxBps))
		}
	}
}

func checkMaxGas(result *Result, maxGasCost *models.BigAmount, dryRun *models.DryRunResult) {
	if maxGasCost == nil {
		return
	}

	total := dryRun.Gas.Total()
	if total.Cmp(&maxGasCost.Int) > 0 {
		result.addError("constraints.max_gas_cost",
			fmt.Sprintf("total gas %s exceeds cap %s", total, maxGasCost))
	}
}

// checkLimitPrice computes the realised price of the primary input leg
// against the declared limit. This is the only place amounts leave integer
// space: both legs are normalised by their declared decimals first.
func checkLimitPrice(result *Result, intent *models.Intent, dryRun *models.DryRunResult) {
	limit := intent.Constraints.LimitPrice
	if limit == nil {
		return
	}

	if len(intent.Operation.Inputs) == 0 || len(intent.Operation.Outputs) == 0 {
		result.addWarning("constraints.limit_price", "operation has no input/output legs")
		return
	}

	input := intent.Operation.Inputs[0]
	output := intent.Operation.Outputs[0]

	if input.Amount == nil || input.Amount.Sign() <= 0 {
		result.addWarning("constraints.limit_price", "primary input amount not determinable")
		return
	}

	actualOut, found := dryRun.CreditedAmount(intent.UserAddress, output.AssetID)
	if !found || actualOut.Sign() <= 0 {
		result.addWarning("constraints.limit_price",
			fmt.Sprintf("no %s credited to user; realised price not computable", output.AssetID))
		return
	}

	inNorm := normalise(&input.Amount.Int, input.Decimals)
	outNorm := normalise(actualOut, output.Decimals)

	var realised *big.Float
	switch limit.PriceAsset {
	case input.AssetID:
		realised = new(big.Float).Quo(inNorm, outNorm)
	case output.AssetID:
		realised = new(big.Float).Quo(outNorm, inNorm)
	default:
		result.addWarning("constraints.limit_price",
			fmt.Sprintf("price asset %s matches neither input nor output", limit.PriceAsset))
		return
	}

	price := big.NewFloat(limit.Price)

	switch limit.Comparison {
	case models.LimitPriceGTE:
		if realised.Cmp(price) < 0 {
			result.addError("constraints.limit_price",
				fmt.Sprintf("realised price %s below limit %g", realised.Text('g', 12), limit.Price))
		}
	case models.LimitPriceLTE:
		if realised.Cmp(price) > 0 {
			result.addError("constraints.limit_price",
				fmt.Sprintf("realised price %s above limit %g", realised.Text('g', 12), limit.Price))
		}
	default:
		result.addWarning("constraints.limit_price",
			fmt.Sprintf("unknown comparison %q", limit.Comparison))
	}
}

// normalise divides amount by 10^decimals as an arbitrary-precision float
func normalise(amount *big.Int, decimals *int) *big.Float {
	value := new(big.Float).SetInt(amount)
	if decimals == nil || *decimals == 0 {
		return value
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(*decimals)), nil)
	return value.Quo(value, new(big.Float).SetInt(scale))
}
