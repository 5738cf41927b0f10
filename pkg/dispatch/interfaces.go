package dispatch

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-apns-client/pkg/push"
)

// Sender defines the contract for a component that delivers one notification
// to one APNs device token.
type Sender interface {
	// Send posts a single alert notification. Delivered and InvalidToken are
	// returned as results; anything else is a typed error from package push.
	Send(ctx context.Context, deviceToken, message string, badge *int, extra map[string]any) (*push.Result, error)
}

// TokenIssuer produces the provider authentication token attached to each request.
type TokenIssuer interface {
	Issue(ctx context.Context) (Token, error)
}

// TokenInvalidator is implemented by issuers that cache tokens and can be told
// that APNs rejected the current one.
type TokenInvalidator interface {
	Invalidate(ctx context.Context)
}

// Token is a signed provider token.
type Token struct {
	Bearer   string
	IssuedAt time.Time
}
