package hub

import "encoding/json"

// SessionKey identifies one negotiation record. Keys are opaque to the hub;
// clients typically use a broadcaster's public stream key.
type SessionKey string

// AccountID is the authenticated identity of a caller.
type AccountID string

// Answer is a viewer's reply to the current offer.
type Answer struct {
	AccountID   AccountID `json:"account_id"`
	Payload     string    `json:"payload"`
	RestreamKey string    `json:"restream_key"`
}

// Equal reports whether all three fields match.
func (a Answer) Equal(b Answer) bool {
	return a.AccountID == b.AccountID && a.Payload == b.Payload && a.RestreamKey == b.RestreamKey
}

// Record is the per-key negotiation state.
//
// OwnerID and RestreamHistory survive negotiation rounds. Offer and Answer
// are nil when absent; a record with neither is a history-only shell that can
// accept a new offer.
type Record struct {
	OwnerID         AccountID `json:"owner_id"`
	Offer           *string   `json:"offer"`
	Answer          *Answer   `json:"answer"`
	RestreamHistory []string  `json:"restream_history"`
}

// State is the negotiation phase derived from Offer and Answer.
type State string

const (
	StateEmpty    State = "empty"
	StateOffered  State = "offered"
	StateAnswered State = "answered"
)

func (r Record) State() State {
	switch {
	case r.Answer != nil:
		return StateAnswered
	case r.Offer != nil:
		return StateOffered
	default:
		return StateEmpty
	}
}

// Clone returns a deep copy that shares no memory with r.
func (r Record) Clone() Record {
	out := Record{
		OwnerID:         r.OwnerID,
		Offer:           cloneString(r.Offer),
		RestreamHistory: make([]string, len(r.RestreamHistory)),
	}
	copy(out.RestreamHistory, r.RestreamHistory)
	if r.Answer != nil {
		a := *r.Answer
		out.Answer = &a
	}
	return out
}

// MarshalJSON always encodes restream_history as an array.
func (r Record) MarshalJSON() ([]byte, error) {
	type wireRecord Record
	w := wireRecord(r)
	if w.RestreamHistory == nil {
		w.RestreamHistory = []string{}
	}
	return json.Marshal(w)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a convenience for building optional offers.
func StringPtr(s string) *string { return &s }
