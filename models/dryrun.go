package models

import (
	"encoding/json"
	"math/big"
)

// Dry-run statuses.
const (
	DryRunStatusOK   = "ok"
	DryRunStatusFail = "fail"
)

// GasSummary is the gas breakdown of a dry run. Rebate defaults to zero
// when absent from the wire form.
type GasSummary struct {
	Computation *BigAmount `json:"computation"`
	Storage     *BigAmount `json:"storage"`
	Rebate      *BigAmount `json:"rebate"`
}

// UnmarshalJSON accepts snake_case and camelCase field names
func (g *GasSummary) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return err
	}

	g.Computation = pickAmount(fields, "computation", "computation_cost", "computationCost")
	g.Storage = pickAmount(fields, "storage", "storage_cost", "storageCost")
	g.Rebate = pickAmount(fields, "rebate", "storage_rebate", "storageRebate")

	return nil
}

// Total returns computation + storage - rebate
func (g *GasSummary) Total() *big.Int {
	total := new(big.Int)
	if g == nil {
		return total
	}

	if g.Computation != nil {
		total.Add(total, &g.Computation.Int)
	}
	if g.Storage != nil {
		total.Add(total, &g.Storage.Int)
	}
	if g.Rebate != nil {
		total.Sub(total, &g.Rebate.Int)
	}

	return total
}

// BalanceChange is a signed per-owner asset delta predicted by a dry run
type BalanceChange struct {
	Owner    string     `json:"owner"`
	CoinType string     `json:"coin_type"`
	Amount   *BigAmount `json:"amount"`
}

// UnmarshalJSON accepts snake_case and camelCase field names
func (b *BalanceChange) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return err
	}

	b.Owner = pickString(fields, "owner", "owner_address", "ownerAddress")
	b.CoinType = pickString(fields, "coin_type", "coinType")
	b.Amount = pickAmount(fields, "amount")

	return nil
}

// DryRunEvent is a structured event emitted during simulated execution
type DryRunEvent struct {
	Type       string
	ParsedJSON map[string]interface{}
}

// UnmarshalJSON accepts snake_case and camelCase field names
func (e *DryRunEvent) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return err
	}

	e.Type = pickString(fields, "type", "event_type", "eventType")

	if raw, ok := pickRaw(fields, "parsed_json", "parsedJson", "fields"); ok {
		// Payload shape is event-specific; keep it loose.
		_ = json.Unmarshal(raw, &e.ParsedJSON)
	}

	return nil
}

// ObjectChange is an object mutation predicted by a dry run
type ObjectChange struct {
	Kind       string
	ObjectType string
}

// UnmarshalJSON accepts snake_case and camelCase field names
func (o *ObjectChange) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return err
	}

	o.Kind = pickString(fields, "kind", "type")
	o.ObjectType = pickString(fields, "object_type", "objectType")

	return nil
}

// DryRunResult is the predicted effect set of a transaction evaluated
// without on-chain commit
type DryRunResult struct {
	Status         string          `json:"status"`
	ErrorMsg       string          `json:"error_msg,omitempty"`
	Gas            *GasSummary     `json:"gas"`
	Events         []DryRunEvent   `json:"events,omitempty"`
	BalanceChanges []BalanceChange `json:"balance_changes,omitempty"`
	ObjectChanges  []ObjectChange  `json:"object_changes,omitempty"`
}

// UnmarshalJSON accepts snake_case and camelCase field names
func (r *DryRunResult) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return err
	}

	r.Status = pickString(fields, "status")
	r.ErrorMsg = pickString(fields, "error_msg", "errorMsg", "error")

	if raw, ok := pickRaw(fields, "gas", "gas_used", "gasUsed"); ok {
		r.Gas = &GasSummary{}
		if err := json.Unmarshal(raw, r.Gas); err != nil {
			return err
		}
	}

	if raw, ok := pickRaw(fields, "events"); ok {
		if err := json.Unmarshal(raw, &r.Events); err != nil {
			return err
		}
	}

	if raw, ok := pickRaw(fields, "balance_changes", "balanceChanges"); ok {
		if err := json.Unmarshal(raw, &r.BalanceChanges); err != nil {
			return err
		}
	}

	if raw, ok := pickRaw(fields, "object_changes", "objectChanges"); ok {
		if err := json.Unmarshal(raw, &r.ObjectChanges); err != nil {
			return err
		}
	}

	return nil
}

// Succeeded reports whether the simulated execution completed
func (r *DryRunResult) Succeeded() bool {
	return r != nil && r.Status == DryRunStatusOK
}

// CreditedAmount sums the positive balance changes of coinType owned by
// owner. The second return value reports whether any matching credit was
// observed.
func (r *DryRunResult) CreditedAmount(owner, coinType string) (*big.Int, bool) {
	total := new(big.Int)
	found := false

	if r == nil {
		return total, false
	}

	for _, change := range r.BalanceChanges {
		if change.Owner != owner || change.CoinType != coinType || change.Amount == nil {
			continue
		}
		if change.Amount.Sign() > 0 {
			total.Add(total, &change.Amount.Int)
			found = true
		}
	}

	return total, found
}

// pickAmount returns the first present amount field among names, or nil
func pickAmount(fields map[string]json.RawMessage, names ...string) *BigAmount {
	raw, ok := pickRaw(fields, names...)
	if !ok {
		return nil
	}

	amount := new(BigAmount)
	if err := json.Unmarshal(raw, amount); err != nil {
		return nil
	}
	return amount
}
