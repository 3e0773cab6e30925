// Package auth verifies Slack request signatures and enforces the replay window.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskbridge/pkg/failure"
)

const (
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"

	DefaultTolerance = 300 * time.Second

	signatureVersion = "v0"
)

const (
	ReasonUnauthorized     = "unauthorized"
	ReasonInvalidTimestamp = "invalid timestamp"
	ReasonRequestTimeout   = "request timeout"
	ReasonInvalidSignature = "invalid signature"
)

// ErrBodyTooLarge is returned by FromRequest when the body exceeds the cap.
var ErrBodyTooLarge = errors.New("request body too large")

// SignedRequest is the raw material for verification. RawBody must be the
// exact bytes received, before any parsing.
type SignedRequest struct {
	RawBody   []byte
	Signature string
	Timestamp string
}

// Rejection explains why a request failed verification.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

func (r *Rejection) FailureCategory() string {
	return failure.CategoryAuthentication
}

// Verifier checks signatures for one signing secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier returns a Verifier. A non-positive tolerance uses DefaultTolerance.
// An empty secret yields a verifier that rejects everything.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify returns nil when req carries a valid, fresh signature.
func (v *Verifier) Verify(req SignedRequest, now time.Time) error {
	if req.Signature == "" || req.Timestamp == "" || v.secret == "" {
		return &Rejection{Reason: ReasonUnauthorized}
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(req.Timestamp), 10, 64)
	if err != nil {
		return &Rejection{Reason: ReasonInvalidTimestamp}
	}

	delta := now.Sub(time.Unix(ts, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > v.tolerance {
		return &Rejection{Reason: ReasonRequestTimeout}
	}

	if !strings.HasPrefix(req.Signature, signatureVersion+"=") {
		return &Rejection{Reason: ReasonInvalidSignature}
	}

	expected := Sign(v.secret, req.Timestamp, req.RawBody)
	if !hmac.Equal([]byte(req.Signature), []byte(expected)) {
		return &Rejection{Reason: ReasonInvalidSignature}
	}

	return nil
}

// Verify checks req against secret using DefaultTolerance.
func Verify(req SignedRequest, secret string, now time.Time) error {
	return NewVerifier(secret, DefaultTolerance).Verify(req, now)
}

// Sign computes the v0 signature header value for body at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%s:%s:", signatureVersion, timestamp)
	_, _ = mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// FromRequest reads the raw body once, restores it on r, and returns the
// signed material. maxBytes <= 0 disables the cap.
func FromRequest(r *http.Request, maxBytes int64) (SignedRequest, error) {
	var raw []byte
	if r.Body != nil {
		reader := io.Reader(r.Body)
		if maxBytes > 0 {
			reader = io.LimitReader(r.Body, maxBytes+1)
		}

		var err error
		raw, err = io.ReadAll(reader)
		_ = r.Body.Close()
		if err != nil {
			return SignedRequest{}, fmt.Errorf("read request body: %w", err)
		}
		if maxBytes > 0 && int64(len(raw)) > maxBytes {
			return SignedRequest{}, ErrBodyTooLarge
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	return SignedRequest{
		RawBody:   raw,
		Signature: r.Header.Get(HeaderSignature),
		Timestamp: r.Header.Get(HeaderTimestamp),
	}, nil
}

// IsRejection reports whether err is a verification rejection.
func IsRejection(err error) bool {
	var rejection *Rejection
	return errors.As(err, &rejection)
}
