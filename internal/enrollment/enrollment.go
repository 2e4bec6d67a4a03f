// Package enrollment exchanges operator credentials for a signed client
// certificate bundle and tracks the outcome of enrollment attempts.
package enrollment

import (
	"context"
	"errors"
	"fmt"
)

// Defaults applied when the caller leaves the corresponding field unset.
const (
	// DefaultValidityDays is the certificate validity requested when the
	// caller passes 0.
	DefaultValidityDays = 365

	// DefaultServerPort is the streaming port reported when the server
	// does not announce one.
	DefaultServerPort = 8089
)

// Request holds the parameters for one enrollment attempt. It is immutable
// once constructed and owned exclusively by the in-flight attempt.
type Request struct {
	// ServerURL is the base URL of the enrollment endpoint,
	// e.g. "https://tak.example.com:8446".
	ServerURL string

	// Username and Password authenticate the one-shot exchange.
	Username string
	Password string

	// ValidityDays is the requested certificate validity. 0 selects
	// DefaultValidityDays.
	ValidityDays uint32

	// CommonName overrides the certificate subject CN. Empty selects the
	// username.
	CommonName string
}

// Validate checks that the required fields are present.
func (r Request) Validate() error {
	if r.ServerURL == "" {
		return fmt.Errorf("%w: server URL is required", ErrInvalidRequest)
	}
	if r.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidRequest)
	}
	if r.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidRequest)
	}
	return nil
}

// Bundle is the raw certificate material produced by the protocol exchange.
// Cert or key may be empty when the server omitted them; a nil CAPEM means
// the server delivered no trust anchor.
type Bundle struct {
	CertPEM    string
	KeyPEM     string
	CAPEM      *string
	ServerHost string

	// ServerPort is the announced streaming port; 0 means the server did
	// not announce one.
	ServerPort int
}

// Result represents one completed, successful enrollment. It is immutable
// after creation and shared by reference between the worker that produced
// it and readers that poll it.
type Result struct {
	CertPEM    string
	KeyPEM     string
	CAPEM      *string
	ServerHost string
	ServerPort uint16
}

// ResultFromBundle normalizes a bundle into a Result: absent cert/key become
// empty strings, an absent CA stays absent, an unannounced port defaults to
// DefaultServerPort.
func ResultFromBundle(b *Bundle) *Result {
	port := b.ServerPort
	if port <= 0 || port > 65535 {
		port = DefaultServerPort
	}
	return &Result{
		CertPEM:    b.CertPEM,
		KeyPEM:     b.KeyPEM,
		CAPEM:      b.CAPEM,
		ServerHost: b.ServerHost,
		ServerPort: uint16(port),
	}
}

// Client performs the enrollment network exchange. Implementations must be
// safe for concurrent use; the session reuses one client for every attempt.
type Client interface {
	Enroll(ctx context.Context, req Request) (*Bundle, error)
}

// Sentinel errors for enrollment operations.
var (
	// ErrNotInitialized indicates an operation was attempted before the
	// session's protocol client was installed.
	ErrNotInitialized = errors.New("enrollment client not initialized")

	// ErrInvalidRequest indicates a missing or malformed request field.
	ErrInvalidRequest = errors.New("invalid enrollment request")

	// ErrUnknownAttempt indicates the attempt ID is not tracked by the
	// session.
	ErrUnknownAttempt = errors.New("unknown enrollment attempt")
)

// ProtocolError represents a failure of the enrollment exchange with
// structured context. The session records it only as "no result available";
// no structured cause reaches pollers.
type ProtocolError struct {
	Op         string // Operation: "sign", "truststore", "request"
	StatusCode int    // HTTP status (if applicable)
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("enrollment %s [HTTP %d]: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("enrollment %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProtocolError) Unwrap() error { return e.Err }
