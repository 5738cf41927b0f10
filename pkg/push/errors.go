package push

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sideshow/apns2"
)

// Validation errors, returned before any network call is made.
var (
	ErrMissingDeviceToken = errors.New("device token is required")
	ErrEmptyAlert         = errors.New("alert message is required")
	ErrNegativeBadge      = errors.New("badge must be non-negative")
	ErrReservedKey        = fmt.Errorf("custom data must not use the reserved %q key", ReservedKey)
)

// ConfigError reports missing or invalid configuration, detected at load time.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid apns config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CryptoError reports a failure to sign the provider token.
type CryptoError struct {
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("failed to sign apns provider token: %v", e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// TransportError reports a connection-level failure: dial, TLS, protocol
// negotiation or a cancelled/expired context.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("apns transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeliveryError is returned for any APNs status other than 200 and 410.
type DeliveryError struct {
	StatusCode int
	// Body is the raw response body text.
	Body string
	// Reason is parsed from the JSON body when present.
	Reason    string
	ApnsID    string
	Timestamp time.Time
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("APNs push failed (%d): %s", e.StatusCode, e.Body)
}

// Description returns a human readable explanation of the failure.
func (e *DeliveryError) Description() string {
	return DescribeReason(e.StatusCode, e.Reason)
}

// IsProviderTokenRejected reports whether APNs refused the bearer token
// itself, as opposed to the notification.
func (e *DeliveryError) IsProviderTokenRejected() bool {
	switch e.Reason {
	case apns2.ReasonExpiredProviderToken, apns2.ReasonInvalidProviderToken, apns2.ReasonMissingProviderToken:
		return true
	}
	return false
}

// IsDeviceTokenRejected reports whether the failure points at the device
// token (as opposed to our configuration or APNs availability).
func (e *DeliveryError) IsDeviceTokenRejected() bool {
	switch e.Reason {
	case apns2.ReasonMissingDeviceToken, apns2.ReasonBadDeviceToken, apns2.ReasonDeviceTokenNotForTopic:
		return true
	}
	return false
}

// DescribeReason maps an APNs reason to a readable message, falling back to
// the HTTP status text and then to the raw reason.
func DescribeReason(status int, reason string) string {
	if msg, ok := reasons[reason]; ok {
		return msg
	}
	if reason != "" {
		return reason
	}
	return http.StatusText(status)
}

var reasons = map[string]string{
	apns2.ReasonPayloadEmpty:              "The message payload was empty.",
	apns2.ReasonPayloadTooLarge:           "The message payload was too large.",
	apns2.ReasonBadTopic:                  "The apns-topic was invalid.",
	apns2.ReasonTopicDisallowed:           "Pushing to this topic is not allowed.",
	apns2.ReasonBadMessageID:              "The apns-id value is bad.",
	apns2.ReasonBadExpirationDate:         "The apns-expiration value is bad.",
	apns2.ReasonBadPriority:               "The apns-priority value is bad.",
	apns2.ReasonMissingDeviceToken:        "The device token is not specified in the request path.",
	apns2.ReasonBadDeviceToken:            "The specified device token was bad.",
	apns2.ReasonDeviceTokenNotForTopic:    "The device token does not match the specified topic.",
	apns2.ReasonUnregistered:              "The device token is inactive for the specified topic.",
	apns2.ReasonDuplicateHeaders:          "One or more headers were repeated.",
	apns2.ReasonBadCertificateEnvironment: "The client certificate was for the wrong environment.",
	apns2.ReasonBadCertificate:            "The certificate was bad.",
	apns2.ReasonForbidden:                 "The specified action is not allowed.",
	apns2.ReasonBadPath:                   "The request contained a bad :path value.",
	apns2.ReasonMethodNotAllowed:          "The specified :method was not POST.",
	apns2.ReasonTooManyRequests:           "Too many requests were made consecutively to the same device token.",
	apns2.ReasonIdleTimeout:               "Idle time out.",
	apns2.ReasonShutdown:                  "The server is shutting down.",
	apns2.ReasonInternalServerError:       "An internal server error occurred.",
	apns2.ReasonServiceUnavailable:        "The service is unavailable.",
	apns2.ReasonMissingTopic:              "The apns-topic header of the request was not specified and was required.",
	apns2.ReasonInvalidProviderToken:      "The provider token is not valid or the token signature could not be verified.",
	apns2.ReasonMissingProviderToken:      "No provider certificate was used to connect to APNs and the authorization header was missing.",
	apns2.ReasonExpiredProviderToken:      "The provider token is stale and a new token should be generated.",
}
