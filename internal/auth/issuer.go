// Package auth issues the ES256 provider tokens APNs expects in the
// authorization header.
package auth

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"time"

	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-apns-client/pkg/dispatch"
	"github.com/tinywideclouds/go-apns-client/pkg/push"
)

// Issuer signs a brand new provider token on every call.
// Wrap it in a CachingIssuer to reuse tokens.
type Issuer struct {
	authKey *ecdsa.PrivateKey
	keyID   string
	teamID  string
	logger  *slog.Logger
}

// NewIssuer creates an issuer for the given team and key.
// The key is usually parsed from the .p8 file with token.AuthKeyFromBytes.
func NewIssuer(authKey *ecdsa.PrivateKey, keyID, teamID string, logger *slog.Logger) (*Issuer, error) {
	if authKey == nil {
		return nil, &push.ConfigError{Field: "private_key", Err: token.ErrAuthKeyNil}
	}
	return &Issuer{
		authKey: authKey,
		keyID:   keyID,
		teamID:  teamID,
		logger:  logger.With("component", "TokenIssuer"),
	}, nil
}

// Issue signs {"iss": teamID, "iat": now} with the kid header set to keyID.
func (i *Issuer) Issue(_ context.Context) (dispatch.Token, error) {
	t := &token.Token{
		AuthKey: i.authKey,
		KeyID:   i.keyID,
		TeamID:  i.teamID,
	}
	if _, err := t.Generate(); err != nil {
		return dispatch.Token{}, &push.CryptoError{Err: err}
	}
	i.logger.Debug("Provider token issued", "key_id", i.keyID, "iat", t.IssuedAt)
	return dispatch.Token{
		Bearer:   t.Bearer,
		IssuedAt: time.Unix(t.IssuedAt, 0),
	}, nil
}
