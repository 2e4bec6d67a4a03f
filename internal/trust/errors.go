// Package trust assembles the server-side mutual-TLS trust configuration
// from PEM-encoded certificate and key material.
package trust

import (
	"errors"
	"fmt"
)

// TrustError represents a trust-configuration failure with structured context.
// It supports errors.Is() and errors.As() for improved error handling.
type TrustError struct {
	Op   string // Operation: "load-chain", "load-key", "load-ca", "assemble"
	Path string // File involved (if applicable)
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *TrustError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("trust %s [%s]: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("trust %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TrustError) Unwrap() error { return e.Err }

// NewTrustError creates a new TrustError for the given operation and file.
func NewTrustError(op, path string, err error) *TrustError {
	return &TrustError{Op: op, Path: path, Err: err}
}

// Sentinel errors for trust-configuration operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrCertificate indicates certificate or key material could not be
	// read, parsed, or was structurally empty.
	ErrCertificate = errors.New("invalid certificate material")

	// ErrNoCertificates indicates the certificate file contained no
	// CERTIFICATE PEM blocks.
	ErrNoCertificates = errors.New("no certificates found in cert file")

	// ErrNoPrivateKey indicates the key file contained neither a PKCS#8
	// nor a PKCS#1 RSA private key.
	ErrNoPrivateKey = errors.New("no private keys found in key file")

	// ErrNoCACertificates indicates the CA file contained no certificates.
	ErrNoCACertificates = errors.New("no CA certificates found")

	// ErrTLS indicates a syntactically valid chain/key/policy combination
	// was rejected when assembling the final configuration.
	ErrTLS = errors.New("failed to build TLS config")

	// ErrKeyMismatch indicates the private key does not match the leaf
	// certificate.
	ErrKeyMismatch = errors.New("key does not match certificate")
)
