package models

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Event type suffixes under the intent package, matched against the full
// on-chain event type `<package>::intents::IntentSubmitted` etc.
const (
	IntentSubmittedEventSuffix   = "::intents::IntentSubmitted"
	SolutionSubmittedEventSuffix = "::solutions::SolutionSubmitted"
)

// EventKind tags the variants of the ingestor's single ordered stream.
type EventKind int

const (
	KindIntentSubmitted EventKind = iota
	KindSolutionSubmitted
)

func (k EventKind) String() string {
	switch k {
	case KindIntentSubmitted:
		return "intent_submitted"
	case KindSolutionSubmitted:
		return "solution_submitted"
	}
	return "unknown"
}

// EventCursor is the ordered position across the intent and solution
// event streams. EventSeq is globally monotonic; TxDigest breaks ties.
type EventCursor struct {
	EventSeq uint64 `json:"event_seq"`
	TxDigest string `json:"tx_digest"`
}

// Less reports whether c orders before other
func (c EventCursor) Less(other EventCursor) bool {
	if c.EventSeq != other.EventSeq {
		return c.EventSeq < other.EventSeq
	}
	return c.TxDigest < other.TxDigest
}

// UnmarshalJSON accepts snake_case and camelCase field names and both
// string and numeric sequence values
func (c *EventCursor) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return err
	}

	seq, err := pickUint(fields, "event_seq", "eventSeq")
	if err != nil {
		return err
	}
	c.EventSeq = seq
	c.TxDigest = pickString(fields, "tx_digest", "txDigest")

	return nil
}

// RawEvent is a single wire event as returned by the chain event source,
// before payload interpretation.
type RawEvent struct {
	Cursor      EventCursor
	Type        string
	TimestampMs int64
	ParsedJSON  json.RawMessage
}

// UnmarshalJSON accepts snake_case and camelCase field names
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return err
	}

	if raw, ok := pickRaw(fields, "id", "cursor"); ok {
		if err := json.Unmarshal(raw, &e.Cursor); err != nil {
			return errors.Wrap(err, "invalid event cursor")
		}
	}

	e.Type = pickString(fields, "type", "event_type", "eventType")

	ts, err := pickUint(fields, "timestamp_ms", "timestampMs")
	if err == nil {
		e.TimestampMs = int64(ts)
	}

	if raw, ok := pickRaw(fields, "parsed_json", "parsedJson"); ok {
		e.ParsedJSON = raw
	}

	return nil
}

// IntentSubmittedEvent announces a new intent and the blob holding its body
type IntentSubmittedEvent struct {
	IntentID    string
	BlobID      string
	UserAddress string
	WindowEndMs int64
}

// UnmarshalJSON accepts snake_case and camelCase field names
func (e *IntentSubmittedEvent) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return err
	}

	e.IntentID = pickString(fields, "intent_id", "intentId")
	e.BlobID = pickString(fields, "blob_id", "blobId")
	e.UserAddress = pickString(fields, "user_address", "userAddress")

	windowEnd, err := pickUint(fields, "window_end_ms", "windowEndMs")
	if err == nil {
		e.WindowEndMs = int64(windowEnd)
	}

	if e.IntentID == "" {
		return errors.New("intent event missing intent_id")
	}
	if e.BlobID == "" {
		return errors.New("intent event missing blob_id")
	}

	return nil
}

// SolutionSubmittedEvent announces a candidate solution for an open intent
type SolutionSubmittedEvent struct {
	IntentID      string
	SolutionID    string
	BlobID        string
	SolverAddress string
	SubmittedAtMs int64
}

// UnmarshalJSON accepts snake_case and camelCase field names
func (e *SolutionSubmittedEvent) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return err
	}

	e.IntentID = pickString(fields, "intent_id", "intentId")
	e.SolutionID = pickString(fields, "solution_id", "solutionId")
	e.BlobID = pickString(fields, "blob_id", "blobId")
	e.SolverAddress = pickString(fields, "solver_address", "solverAddress")

	submittedAt, err := pickUint(fields, "submitted_at_ms", "submittedAtMs")
	if err == nil {
		e.SubmittedAtMs = int64(submittedAt)
	}

	if e.IntentID == "" {
		return errors.New("solution event missing intent_id")
	}
	if e.SolutionID == "" {
		return errors.New("solution event missing solution_id")
	}
	if e.BlobID == "" {
		return errors.New("solution event missing blob_id")
	}

	return nil
}

// Event is the tagged variant handed from the ingestor to the coordinator.
// Exactly one of Intent or Solution is set, according to Kind.
type Event struct {
	Kind        EventKind
	Cursor      EventCursor
	TimestampMs int64
	Intent      *IntentSubmittedEvent
	Solution    *SolutionSubmittedEvent
}

// ParseEvent interprets a raw wire event into a tagged Event
func ParseEvent(raw *RawEvent) (*Event, error) {
	ev := &Event{
		Cursor:      raw.Cursor,
		TimestampMs: raw.TimestampMs,
	}

	switch {
	case strings.HasSuffix(raw.Type, IntentSubmittedEventSuffix):
		ev.Kind = KindIntentSubmitted
		ev.Intent = &IntentSubmittedEvent{}
		if err := json.Unmarshal(raw.ParsedJSON, ev.Intent); err != nil {
			return nil, errors.Wrapf(err, "malformed %s payload", raw.Type)
		}
	case strings.HasSuffix(raw.Type, SolutionSubmittedEventSuffix):
		ev.Kind = KindSolutionSubmitted
		ev.Solution = &SolutionSubmittedEvent{}
		if err := json.Unmarshal(raw.ParsedJSON, ev.Solution); err != nil {
			return nil, errors.Wrapf(err, "malformed %s payload", raw.Type)
		}
	default:
		return nil, errors.Errorf("unrecognised event type: %s", raw.Type)
	}

	return ev, nil
}

// rawFields splits a JSON object into its top-level fields
func rawFields(data []byte) (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(err, "expected JSON object")
	}
	return fields, nil
}

// pickRaw returns the first present field among names
func pickRaw(fields map[string]json.RawMessage, names ...string) (json.RawMessage, bool) {
	for _, name := range names {
		if raw, ok := fields[name]; ok && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

// pickString returns the first present string field among names, or ""
func pickString(fields map[string]json.RawMessage, names ...string) string {
	raw, ok := pickRaw(fields, names...)
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// pickUint returns the first present field among names, accepting both
// numeric and quoted-decimal wire forms
func pickUint(fields map[string]json.RawMessage, names ...string) (uint64, error) {
	raw, ok := pickRaw(fields, names...)
	if !ok {
		return 0, errors.Errorf("missing field %s", names[0])
	}

	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errors.Errorf("field %s is neither number nor string", names[0])
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "field %s", names[0])
	}
	return n, nil
}
