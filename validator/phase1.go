package validator

import (
	"fmt"

	"github.com/prerank-hq/preranker/models"
)

// ValidatePhase1 runs the cheap, pre-simulation constraint checks:
// deadline, input caps and routing. Checks whose subject could not be
// determined by the pre-parse are skipped, not failed.
func ValidatePhase1(
	intent *models.Intent,
	solution *models.Solution,
	summary TxSummary,
	windowEndMs int64,
) Result {
	var result Result

	checkDeadline(&result, solution.SubmittedAtMs, windowEndMs)
	checkMaxInputs(&result, intent.Constraints.MaxInputs, summary)
	checkRouting(&result, intent.Constraints.Routing, summary)

	return result
}

func checkDeadline(result *Result, submittedAtMs, windowEndMs int64) {
	if submittedAtMs > windowEndMs {
		result.addError("constraints.deadline_ms",
			fmt.Sprintf("solution submitted at %d after window end %d", submittedAtMs, windowEndMs))
	}
}

func checkMaxInputs(result *Result, caps []models.AssetCap, summary TxSummary) {
	if len(caps) == 0 || summary.Inputs == nil {
		return
	}

	for _, cap := range caps {
		if cap.Amount == nil {
			continue
		}

		amount, present := summary.Inputs[cap.AssetID]
		if !present {
			continue
		}

		if amount.Cmp(&cap.Amount.Int) > 0 {
			result.addError("constraints.max_inputs",
				fmt.Sprintf("input %s of %s exceeds cap %s", amount, cap.AssetID, cap.Amount))
		}
	}
}

func checkRouting(result *Result, routing *models.RoutingConstraint, summary TxSummary) {
	if routing == nil {
		return
	}

	if routing.MaxHops != nil && summary.Hops != nil && *summary.Hops > *routing.MaxHops {
		result.addError("constraints.routing.max_hops",
			fmt.Sprintf("%d hops exceed cap %d", *summary.Hops, *routing.MaxHops))
	}

	if summary.Protocols == nil {
		return
	}

	if len(routing.Blacklist) > 0 {
		blocked := make(map[string]bool, len(routing.Blacklist))
		for _, protocol := range routing.Blacklist {
			blocked[protocol] = true
		}

		for _, protocol := range summary.Protocols {
			if blocked[protocol] {
				result.addError("constraints.routing.blacklist",
					fmt.Sprintf("protocol %s is blacklisted", protocol))
			}
		}
	}

	if len(routing.Whitelist) > 0 {
		allowed := make(map[string]bool, len(routing.Whitelist))
		for _, protocol := range routing.Whitelist {
			allowed[protocol] = true
		}

		for _, protocol := range summary.Protocols {
			if !allowed[protocol] {
				result.addError("constraints.routing.whitelist",
					fmt.Sprintf("protocol %s is not whitelisted", protocol))
			}
		}
	}
}
