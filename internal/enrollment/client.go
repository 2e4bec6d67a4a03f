package enrollment

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// Enrollment endpoint paths, relative to the server base URL.
const (
	signClientPath = "Marti/api/tls/signClient/v2"
	truststorePath = "Marti/api/tls/truststore"
)

// DefaultTruststorePassword protects the PKCS#12 truststore most server
// deployments ship with.
const DefaultTruststorePassword = "atakatak"

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// Timeout bounds each HTTP request. 0 selects 30 seconds.
	Timeout time.Duration

	// InsecureSkipVerify disables server certificate verification for the
	// enrollment exchange. Enrollment necessarily happens before the
	// device holds the server's trust anchor, so first contact is often
	// made against a certificate the device cannot yet verify.
	InsecureSkipVerify bool

	// TruststorePassword decrypts the server's PKCS#12 truststore. Empty
	// selects DefaultTruststorePassword.
	TruststorePassword string

	// Logger receives exchange diagnostics. nil selects slog.Default().
	Logger *slog.Logger
}

// HTTPClient enrolls against a server over HTTPS: it generates a key pair,
// submits a CSR under HTTP basic authentication, and assembles the signed
// certificate, the key, and the server's trust anchors into a Bundle.
// It is safe for concurrent use.
type HTTPClient struct {
	httpc              *http.Client
	truststorePassword string
	log                *slog.Logger
}

// NewHTTPClient creates an enrollment protocol client.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	password := cfg.TruststorePassword
	if password == "" {
		password = DefaultTruststorePassword
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // first-contact enrollment, see config doc
	}

	return &HTTPClient{
		httpc: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		truststorePassword: password,
		log:                logger,
	}
}

// signResponse is the server's answer to a CSR submission.
type signResponse struct {
	SignedCert string   `json:"signedCert"`
	CA         []string `json:"ca"`
}

// Enroll implements Client.
func (c *HTTPClient) Enroll(ctx context.Context, req Request) (*Bundle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(req.ServerURL)
	if err != nil {
		return nil, &ProtocolError{Op: "request", Err: fmt.Errorf("invalid server URL: %w", err)}
	}
	if base.Scheme == "" {
		base.Scheme = "https"
	}

	port := 0
	if p := base.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, &ProtocolError{Op: "request", Err: fmt.Errorf("invalid server port %q: %w", p, err)}
		}
	}

	commonName := req.CommonName
	if commonName == "" {
		commonName = req.Username
	}
	identity, err := NewIdentity(commonName)
	if err != nil {
		return nil, &ProtocolError{Op: "request", Err: err}
	}

	signed, err := c.submitCSR(ctx, base, req, identity.CSRPEM)
	if err != nil {
		return nil, err
	}

	caPEM := joinCertificates(signed.CA)
	if caPEM == "" {
		// Fall back to the PKCS#12 truststore; its absence is not fatal,
		// the bundle simply carries no trust anchor.
		caPEM = c.fetchTruststore(ctx, base, req)
	}

	bundle := &Bundle{
		CertPEM:    signed.SignedCert,
		KeyPEM:     identity.KeyPEM,
		ServerHost: base.Hostname(),
		ServerPort: port,
	}
	if caPEM != "" {
		bundle.CAPEM = &caPEM
	}
	return bundle, nil
}

// submitCSR posts the CSR under basic authentication and decodes the
// signing response.
func (c *HTTPClient) submitCSR(ctx context.Context, base *url.URL, req Request, csrPEM string) (*signResponse, error) {
	signURL := base.JoinPath(signClientPath)
	query := signURL.Query()
	query.Set("clientUid", req.Username)
	query.Set("version", "2")
	if req.ValidityDays > 0 {
		query.Set("validityDays", strconv.FormatUint(uint64(req.ValidityDays), 10))
	}
	signURL.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, signURL.String(), strings.NewReader(csrPEM))
	if err != nil {
		return nil, &ProtocolError{Op: "sign", Err: err}
	}
	httpReq.SetBasicAuth(req.Username, req.Password)
	httpReq.Header.Set("Content-Type", "application/pkcs10")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, &ProtocolError{Op: "sign", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{Op: "sign", StatusCode: resp.StatusCode, Err: fmt.Errorf("server rejected CSR")}
	}

	var signed signResponse
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return nil, &ProtocolError{Op: "sign", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if signed.SignedCert == "" {
		return nil, &ProtocolError{Op: "sign", Err: fmt.Errorf("response carries no certificate")}
	}
	return &signed, nil
}

// fetchTruststore downloads and decodes the server's PKCS#12 truststore,
// returning the contained certificates as concatenated PEM. Every failure
// is logged and reported as an empty string.
func (c *HTTPClient) fetchTruststore(ctx context.Context, base *url.URL, req Request) string {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base.JoinPath(truststorePath).String(), nil)
	if err != nil {
		return ""
	}
	httpReq.SetBasicAuth(req.Username, req.Password)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		c.log.Warn("truststore fetch failed", "server", base.Host, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("truststore fetch rejected", "server", base.Host, "status", resp.StatusCode)
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.log.Warn("truststore read failed", "server", base.Host, "error", err)
		return ""
	}

	blocks, err := pkcs12.ToPEM(data, c.truststorePassword)
	if err != nil {
		c.log.Warn("truststore decode failed", "server", base.Host, "error", err)
		return ""
	}

	var sb strings.Builder
	for _, block := range blocks {
		if block.Type == "CERTIFICATE" {
			// Re-encode without the PKCS#12 attribute headers.
			sb.Write(pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: block.Bytes}))
		}
	}
	return sb.String()
}

// joinCertificates concatenates the CA entries the signing response carried.
func joinCertificates(entries []string) string {
	var sb strings.Builder
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		sb.WriteString(entry)
		if !strings.HasSuffix(entry, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
