package trust

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
)

// ALPN preference list advertised by the listener. Advisory only; protocol
// negotiation does not affect the trust model.
var alpnProtocols = []string{"h2", "http/1.1"}

// ClientAuthPolicy is the closed set of peer-authentication policies,
// chosen once at configuration-build time.
type ClientAuthPolicy interface {
	apply(cfg *tls.Config)
}

// NoClientAuth permits any peer to complete the handshake using only
// server-side authentication.
type NoClientAuth struct{}

func (NoClientAuth) apply(cfg *tls.Config) {
	cfg.ClientAuth = tls.NoClientCert
}

// RequireClientAuth rejects any peer that does not present a certificate
// chaining to one of the configured roots. This is the mutual-authentication
// enforcement point: a peer offering no certificate, an expired one, or one
// signed outside the root set fails the handshake before any application
// data is exchanged.
type RequireClientAuth struct {
	Roots *x509.CertPool
}

func (p RequireClientAuth) apply(cfg *tls.Config) {
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	cfg.ClientCAs = p.Roots
}

// Config is an assembled, immutable server trust configuration. It is built
// once at startup and safe for concurrent use by every connection handler.
type Config struct {
	Certificate tls.Certificate
	Policy      ClientAuthPolicy

	tlsConfig *tls.Config
}

// Load builds a mutual-TLS server configuration from PEM files.
//
// certPath must hold the certificate chain, leaf first. keyPath must hold
// the private key, PKCS#8 or legacy PKCS#1 RSA. caPath is optional (""); it
// is read only when requireClientCert is true, in which case every peer must
// present a certificate chaining to one of the CAs in the file.
//
// Every failure is returned synchronously as a *TrustError; the caller is
// expected to fail fast, since starting a listener without verified trust
// material is unsafe.
func Load(certPath, keyPath, caPath string, requireClientCert bool) (*Config, error) {
	chain, err := ReadCertificates(certPath)
	if err != nil {
		return nil, err
	}

	key, err := ReadPrivateKey(keyPath)
	if err != nil {
		return nil, err
	}

	policy, err := buildPolicy(caPath, requireClientCert)
	if err != nil {
		return nil, err
	}

	cert, err := assemble(chain, key, certPath)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   alpnProtocols,
	}
	policy.apply(cfg)

	return &Config{
		Certificate: cert,
		Policy:      policy,
		tlsConfig:   cfg,
	}, nil
}

// buildPolicy selects the peer-authentication policy. Mutual authentication
// is enforced only when a CA file is given and client certificates are
// required; every other combination yields NoClientAuth.
func buildPolicy(caPath string, requireClientCert bool) (ClientAuthPolicy, error) {
	if caPath == "" || !requireClientCert {
		return NoClientAuth{}, nil
	}

	cas, err := ParseCertificates(caPath)
	if err != nil {
		var terr *TrustError
		if errors.As(err, &terr) {
			terr.Op = "load-ca"
			if errors.Is(terr.Err, ErrNoCertificates) {
				terr.Err = ErrNoCACertificates
			}
		}
		return nil, err
	}

	roots := x509.NewCertPool()
	for _, ca := range cas {
		roots.AddCert(ca)
	}
	return RequireClientAuth{Roots: roots}, nil
}

// assemble pairs the chain with the key, rejecting a key that does not
// match the leaf certificate's public key.
func assemble(chain [][]byte, key crypto.PrivateKey, certPath string) (tls.Certificate, error) {
	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return tls.Certificate{}, NewTrustError("assemble", certPath, fmt.Errorf("%w: %v", ErrTLS, err))
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return tls.Certificate{}, NewTrustError("assemble", certPath, fmt.Errorf("%w: key type does not implement crypto.Signer", ErrTLS))
	}

	pub, ok := leaf.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(signer.Public()) {
		return tls.Certificate{}, NewTrustError("assemble", certPath, fmt.Errorf("%w: %w", ErrTLS, ErrKeyMismatch))
	}

	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// TLSConfig returns the assembled tls.Config. Callers must not mutate it.
func (c *Config) TLSConfig() *tls.Config {
	return c.tlsConfig
}

// NewListener wraps inner so every accepted connection performs the TLS
// handshake under this configuration, without re-reading any file.
func (c *Config) NewListener(inner net.Listener) net.Listener {
	return tls.NewListener(inner, c.tlsConfig)
}

// Server wraps a single accepted connection in a server-side TLS conn.
func (c *Config) Server(conn net.Conn) *tls.Conn {
	return tls.Server(conn, c.tlsConfig)
}

// UseReloader replaces the static certificate with the reloader's current
// pair, so a rotated certificate is picked up without rebuilding the
// configuration. The authentication policy is unaffected.
func (c *Config) UseReloader(r *Reloader) {
	c.tlsConfig.Certificates = nil
	c.tlsConfig.GetCertificate = r.GetCertificate
}
