// Package store holds helpers shared by the hub.Store backends under
// internal/store/*.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
)

// EncodeRecord serializes rec in the wire/storage JSON shape.
func EncodeRecord(rec hub.Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session record: %w", err)
	}
	return b, nil
}

// DecodeRecord parses a stored record. A missing restream_history decodes as
// an empty history.
func DecodeRecord(b []byte) (hub.Record, error) {
	var rec hub.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return hub.Record{}, fmt.Errorf("decode session record: %w", err)
	}
	if rec.RestreamHistory == nil {
		rec.RestreamHistory = []string{}
	}
	return rec, nil
}

// MetaInitialized is the metadata name written by Bootstrap.
const MetaInitialized = "initialized"
