// Package push contains the public domain types shared by the APNs client:
// the notification payload, the delivery result and the error taxonomy.
package push

import (
	"encoding/json"
	"maps"
)

// ReservedKey is the top-level payload key that carries Apple-defined fields.
const ReservedKey = "aps"

// aps is the Apple-defined part of the payload.
// Badge has no omitempty: an unset badge is sent as null.
type aps struct {
	Alert string `json:"alert"`
	Badge *int   `json:"badge"`
}

// Payload is the JSON body posted to APNs for a single device.
type Payload struct {
	Alert string
	Badge *int
	// Custom holds application data merged into the top-level object,
	// next to "aps".
	Custom map[string]any
}

// NewPayload builds a Payload and validates it.
func NewPayload(alert string, badge *int, custom map[string]any) (*Payload, error) {
	p := &Payload{
		Alert:  alert,
		Badge:  badge,
		Custom: custom,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the payload invariants.
func (p *Payload) Validate() error {
	if p.Alert == "" {
		return ErrEmptyAlert
	}
	if p.Badge != nil && *p.Badge < 0 {
		return ErrNegativeBadge
	}
	if _, ok := p.Custom[ReservedKey]; ok {
		return ErrReservedKey
	}
	return nil
}

// MarshalJSON renders {"aps":{...}} with Custom shallow-merged at the top level.
func (p *Payload) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(p.Custom)+1)
	maps.Copy(body, p.Custom)
	body[ReservedKey] = aps{Alert: p.Alert, Badge: p.Badge}
	return json.Marshal(body)
}

// Badge is a helper for building an optional badge count inline.
func Badge(n int) *int {
	return &n
}
