package validator

import (
	"encoding/json"
	"math/big"

	"github.com/prerank-hq/preranker/models"
)

// TxSummary is what can be statically determined from transaction bytes
// without executing them. Nil fields mean "not determinable": the
// corresponding Phase-1 checks are skipped and Phase 2 catches the rest.
type TxSummary struct {
	Inputs    map[string]*big.Int
	Hops      *int
	Protocols []string
}

type txEnvelope struct {
	Inputs []struct {
		AssetID string            `json:"asset_id"`
		Amount  *models.BigAmount `json:"amount"`
	} `json:"inputs"`
	Hops      *int     `json:"hops"`
	Protocols []string `json:"protocols"`
}

// Summarize pre-parses transaction bytes. Solutions carrying a structured
// transaction envelope expose their inputs, hop count and touched
// protocols; opaque byte strings yield an empty summary.
func Summarize(transactionBytes []byte) TxSummary {
	var envelope txEnvelope
	if err := json.Unmarshal(transactionBytes, &envelope); err != nil {
		return TxSummary{}
	}

	summary := TxSummary{
		Hops:      envelope.Hops,
		Protocols: envelope.Protocols,
	}

	if len(envelope.Inputs) > 0 {
		summary.Inputs = make(map[string]*big.Int, len(envelope.Inputs))
		for _, input := range envelope.Inputs {
			if input.AssetID == "" || input.Amount == nil {
				continue
			}
			summary.Inputs[input.AssetID] = &input.Amount.Int
		}
	}

	return summary
}
