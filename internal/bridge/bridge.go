// Package bridge implements the foreign-function surface of the enrollment
// subsystem on safe Go types. The cgo shim translates C pointers into the
// slices and integers this package consumes, so every bounds and
// termination rule is enforced, and tested, in exactly one place.
package bridge

import (
	"log/slog"
	"unicode/utf8"

	"github.com/remiblancher/tak-trust/internal/enrollment"
)

// Status codes reported across the C boundary.
const (
	// StatusAccepted means init succeeded or an attempt was queued. For
	// enroll it never means the attempt succeeded.
	StatusAccepted int32 = 0

	// StatusAvailable means a completed result was copied out.
	StatusAvailable int32 = 1

	// StatusError means the call was rejected, or no result is available.
	// A failed attempt and "no attempt yet" are deliberately
	// indistinguishable on this surface.
	StatusError int32 = -1
)

// Bridge adapts an enrollment session to the C calling convention's
// contracts: byte-buffer inputs, polled copy-out results, integer statuses.
// Errors never cross the boundary; they are logged and resolved into
// StatusError.
type Bridge struct {
	session   *enrollment.Session
	newClient func() enrollment.Client
	log       *slog.Logger
}

// Config configures a Bridge.
type Config struct {
	// Session tracks the attempts. Required.
	Session *enrollment.Session

	// NewClient constructs the protocol client installed by Init.
	// Required.
	NewClient func() enrollment.Client

	// Logger receives boundary diagnostics. nil selects slog.Default().
	Logger *slog.Logger
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		session:   cfg.Session,
		newClient: cfg.NewClient,
		log:       logger,
	}
}

// Init installs the protocol client if none is present. Always reports
// StatusAccepted; observing "already initialized" is not an error.
func (b *Bridge) Init() int32 {
	b.session.Init(b.newClient())
	return StatusAccepted
}

// Enroll validates the inputs and queues a background enrollment attempt.
// A nil slice models a C null pointer. Each text input must be valid UTF-8;
// that is the whole of the boundary validation. Empty-but-present text is
// accepted and the attempt fails in the background instead.
// validityDays 0 selects the default validity. Returns StatusAccepted the
// moment the attempt is queued; the outcome is only observable through
// GetResult.
func (b *Bridge) Enroll(serverURL, username, password []byte, validityDays uint32) int32 {
	su, ok := textArg("server_url", serverURL, b.log)
	if !ok {
		return StatusError
	}
	user, ok := textArg("username", username, b.log)
	if !ok {
		return StatusError
	}
	pass, ok := textArg("password", password, b.log)
	if !ok {
		return StatusError
	}

	err := b.session.StartDetached(enrollment.Request{
		ServerURL:    su,
		Username:     user,
		Password:     pass,
		ValidityDays: validityDays,
	})
	if err != nil {
		b.log.Error("enroll rejected", "error", err)
		return StatusError
	}
	return StatusAccepted
}

// GetResult copies the last completed result into the caller-owned buffers.
// A nil buffer skips its field. Text fields are truncated silently to
// capacity-1 bytes and always zero-terminated; an absent CA writes an empty
// string rather than skipping; the port is written verbatim. Returns
// StatusAvailable when a result was copied, StatusError when none exists.
// The read is a pure snapshot and never mutates the slot.
func (b *Bridge) GetResult(cert, key, ca, host []byte, port *uint16) int32 {
	res := b.session.Poll()
	if res == nil {
		return StatusError
	}

	CopyAndTerminate(cert, res.CertPEM)
	CopyAndTerminate(key, res.KeyPEM)

	caText := ""
	if res.CAPEM != nil {
		caText = *res.CAPEM
	}
	CopyAndTerminate(ca, caText)

	CopyAndTerminate(host, res.ServerHost)

	if port != nil {
		*port = res.ServerPort
	}
	return StatusAvailable
}

// ClearResult unconditionally resets the result slot. It always succeeds
// and has no effect on in-flight attempts.
func (b *Bridge) ClearResult() {
	b.session.Clear()
}

// CopyAndTerminate is the single audited copy primitive for every text
// buffer crossing the boundary. It copies at most len(dst)-1 bytes of s
// into dst and writes a terminating zero byte immediately after the copied
// bytes. It never writes past len(dst). A nil or empty destination is
// skipped. Returns the number of text bytes copied.
func CopyAndTerminate(dst []byte, s string) int {
	if len(dst) == 0 {
		return 0
	}
	n := copy(dst[:len(dst)-1], s)
	dst[n] = 0
	return n
}

// textArg validates one required text input from the boundary.
func textArg(name string, raw []byte, log *slog.Logger) (string, bool) {
	if raw == nil {
		log.Error("enroll: null parameter", "param", name)
		return "", false
	}
	if !utf8.Valid(raw) {
		log.Error("enroll: invalid UTF-8", "param", name)
		return "", false
	}
	return string(raw), true
}
