// Package apns provides the delivery client for the Apple Push Notification Service.
package apns

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sideshow/apns2"
	"golang.org/x/net/http2"

	"github.com/tinywideclouds/go-apns-client/pkg/dispatch"
	"github.com/tinywideclouds/go-apns-client/pkg/push"
)

// maxBodySize caps how much of a response body we keep. APNs error bodies
// are a small JSON object.
const maxBodySize = 4096

// Config holds the delivery settings shared by every Send.
type Config struct {
	// BaseURL is the APNs host, e.g. apns2.HostProduction.
	BaseURL string
	// Topic is the app bundle ID.
	Topic string
	// Timeout applies when the caller's context has no deadline. Zero disables it.
	Timeout time.Duration
	// TLSConfig customises the TLS handshake (root CAs in tests). May be nil.
	TLSConfig *tls.Config
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTransport replaces the per-call HTTP/2 transport with a caller owned
// RoundTripper. The caller is then responsible for its connections.
func WithTransport(rt http.RoundTripper) Option {
	return func(d *Dispatcher) {
		d.newTransport = func() (http.RoundTripper, func()) {
			return rt, func() {}
		}
	}
}

// Dispatcher sends one notification to one device per call.
// It holds no mutable state and is safe for concurrent use.
type Dispatcher struct {
	baseURL      string
	topic        string
	timeout      time.Duration
	issuer       dispatch.TokenIssuer
	newTransport func() (http.RoundTripper, func())
	logger       *slog.Logger
}

// NewDispatcher creates a configured APNs dispatcher.
func NewDispatcher(cfg Config, issuer dispatch.TokenIssuer, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	if cfg.Topic == "" {
		return nil, &push.ConfigError{Field: "topic", Err: fmt.Errorf("must not be empty")}
	}
	if issuer == nil {
		return nil, fmt.Errorf("apns dispatcher requires a token issuer")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = apns2.HostProduction
	}

	d := &Dispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		topic:   cfg.Topic,
		timeout: cfg.Timeout,
		issuer:  issuer,
		logger:  logger.With("component", "APNSDispatcher"),
	}
	tlsConfig := cfg.TLSConfig
	d.newTransport = func() (http.RoundTripper, func()) {
		return newHTTP2Transport(tlsConfig)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// newHTTP2Transport returns a fresh HTTP/2-only transport and its release func.
// http2.Transport negotiates "h2" via ALPN and fails rather than falling back
// to HTTP/1.1, which APNs refuses.
func newHTTP2Transport(tlsConfig *tls.Config) (http.RoundTripper, func()) {
	t := &http2.Transport{}
	if tlsConfig != nil {
		t.TLSClientConfig = tlsConfig.Clone()
	}
	return t, t.CloseIdleConnections
}

// Send posts an alert to {base}/3/device/{deviceToken}.
//
// 200 yields OutcomeDelivered and 410 yields OutcomeInvalidToken, both with a
// nil error. Any other status yields OutcomeFailed and a *push.DeliveryError.
// Connection problems return a *push.TransportError and signing problems a
// *push.CryptoError. Nothing is retried.
func (d *Dispatcher) Send(
	ctx context.Context,
	deviceToken, message string,
	badge *int,
	extra map[string]any,
) (*push.Result, error) {
	if deviceToken == "" {
		return nil, push.ErrMissingDeviceToken
	}

	// 1. Build Payload
	payload, err := push.NewPayload(message, badge, extra)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode apns payload: %w", err)
	}

	// 2. Authorize
	tok, err := d.issuer.Issue(ctx)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	apnsID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.deviceURL(deviceToken), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build apns request: %w", err)
	}
	req.Header.Set("apns-push-type", string(apns2.PushTypeAlert))
	req.Header.Set("apns-id", apnsID)
	req.Header.Set("apns-topic", d.topic)
	req.Header.Set("authorization", "bearer "+tok.Bearer)
	req.Header.Set("content-type", "application/json; charset=utf-8")

	// 3. Send (one connection per call)
	rt, release := d.newTransport()
	defer release()

	httpClient := &http.Client{Transport: rt}
	res, err := httpClient.Do(req)
	if err != nil {
		d.logger.Error("APNs transport failed", "token", shortToken(deviceToken), "apns_id", apnsID, "err", err)
		return nil, &push.TransportError{Err: err}
	}
	defer res.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(res.Body, maxBodySize))

	result := &push.Result{
		StatusCode: res.StatusCode,
		ApnsID:     res.Header.Get("apns-id"),
	}
	if result.ApnsID == "" {
		result.ApnsID = apnsID
	}

	// 4. Handle Response Codes
	// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
	switch res.StatusCode {
	case apns2.StatusSent:
		// The body is empty on success; whatever is there is ignored.
		result.Outcome = push.OutcomeDelivered
		d.logger.Debug("APNs accepted notification", "token", shortToken(deviceToken), "apns_id", result.ApnsID)
		return result, nil

	case http.StatusGone:
		result.Outcome = push.OutcomeInvalidToken
		result.Reason, result.Timestamp = parseErrorBody(raw)
		d.logger.Info("APNs reports inactive device token", "token", shortToken(deviceToken), "reason", result.Reason)
		return result, nil
	}

	if readErr != nil {
		return nil, &push.TransportError{Err: fmt.Errorf("failed to read apns response: %w", readErr)}
	}

	result.Outcome = push.OutcomeFailed
	result.Reason, result.Timestamp = parseErrorBody(raw)
	deliveryErr := &push.DeliveryError{
		StatusCode: res.StatusCode,
		Body:       string(raw),
		Reason:     result.Reason,
		ApnsID:     result.ApnsID,
		Timestamp:  result.Timestamp,
	}
	d.logger.Warn("APNs rejected notification",
		"token", shortToken(deviceToken),
		"status", res.StatusCode,
		"reason", result.Reason,
		"apns_id", result.ApnsID,
	)

	// A rejected bearer must not be served again from a cache.
	if deliveryErr.IsProviderTokenRejected() {
		if inv, ok := d.issuer.(dispatch.TokenInvalidator); ok {
			inv.Invalidate(ctx)
		}
	}
	return result, deliveryErr
}

func (d *Dispatcher) deviceURL(deviceToken string) string {
	return d.baseURL + "/3/device/" + url.PathEscape(deviceToken)
}

// parseErrorBody extracts reason and timestamp from an APNs error body.
// Non-JSON bodies are left to the caller as raw text.
func parseErrorBody(raw []byte) (string, time.Time) {
	if len(raw) == 0 {
		return "", time.Time{}
	}
	var res apns2.Response
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", time.Time{}
	}
	return res.Reason, res.Timestamp.Time
}

// shortToken keeps device tokens out of logs in full.
func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
