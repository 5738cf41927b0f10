package push

import "time"

// Outcome is the classification of a single APNs response.
type Outcome int

const (
	// OutcomeFailed means APNs rejected the request; the error carries details.
	OutcomeFailed Outcome = iota
	// OutcomeDelivered means APNs accepted the notification (HTTP 200).
	OutcomeDelivered
	// OutcomeInvalidToken means the device token is no longer active (HTTP 410).
	OutcomeInvalidToken
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeInvalidToken:
		return "invalid_token"
	default:
		return "failed"
	}
}

// Result describes what APNs answered for one Send call.
type Result struct {
	Outcome    Outcome
	StatusCode int
	// ApnsID is the request id we generated, echoed back by APNs.
	ApnsID string
	// Reason is the APNs error reason, empty on success.
	Reason string
	// Timestamp is set for 410 responses: the last time APNs confirmed the
	// token was invalid for the topic.
	Timestamp time.Time
}

// Delivered reports whether the notification was accepted.
func (r *Result) Delivered() bool {
	return r != nil && r.Outcome == OutcomeDelivered
}
