package bridge

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remiblancher/tak-trust/internal/enrollment"
)

// =============================================================================
// Helpers
// =============================================================================

type stubClient struct {
	calls  atomic.Int32
	bundle *enrollment.Bundle
	err    error
}

func (c *stubClient) Enroll(context.Context, enrollment.Request) (*enrollment.Bundle, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.bundle, nil
}

func newTestBridge(client enrollment.Client) *Bridge {
	return New(Config{
		Session:   enrollment.NewSession(enrollment.SessionConfig{}),
		NewClient: func() enrollment.Client { return client },
	})
}

func enrollArgs() ([]byte, []byte, []byte) {
	return []byte("https://tak.example.com:8446"), []byte("alice"), []byte("secret")
}

// waitAvailable polls GetResult until it reports an available result.
func waitAvailable(t *testing.T, b *Bridge) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if b.GetResult(nil, nil, nil, nil, nil) == StatusAvailable {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no result became available")
}

func resultBundle() *enrollment.Bundle {
	ca := "CA-PEM-DATA"
	return &enrollment.Bundle{
		CertPEM:    "CERT-PEM-DATA",
		KeyPEM:     "KEY-PEM-DATA",
		CAPEM:      &ca,
		ServerHost: "tak.example.com",
		ServerPort: 8443,
	}
}

// =============================================================================
// Boundary tests
// =============================================================================

func TestU_Bridge_InitIdempotent(t *testing.T) {
	client := &stubClient{bundle: resultBundle()}
	b := newTestBridge(client)

	if got := b.Init(); got != StatusAccepted {
		t.Fatalf("first Init = %d, want %d", got, StatusAccepted)
	}
	if got := b.Init(); got != StatusAccepted {
		t.Fatalf("second Init = %d, want %d", got, StatusAccepted)
	}

	url, user, pass := enrollArgs()
	if got := b.Enroll(url, user, pass, 0); got != StatusAccepted {
		t.Fatalf("Enroll = %d, want %d", got, StatusAccepted)
	}
	waitAvailable(t, b)

	if n := client.calls.Load(); n != 1 {
		t.Errorf("client calls = %d, want 1", n)
	}
}

func TestU_Bridge_EnrollRejectsNullParam(t *testing.T) {
	client := &stubClient{bundle: resultBundle()}
	b := newTestBridge(client)
	b.Init()

	url, user, pass := enrollArgs()
	cases := [][3][]byte{
		{nil, user, pass},
		{url, nil, pass},
		{url, user, nil},
	}
	for _, c := range cases {
		if got := b.Enroll(c[0], c[1], c[2], 0); got != StatusError {
			t.Errorf("Enroll with null param = %d, want %d", got, StatusError)
		}
	}

	// Rejected calls perform no work.
	if n := client.calls.Load(); n != 0 {
		t.Errorf("client calls = %d, want 0", n)
	}
	if got := b.GetResult(nil, nil, nil, nil, nil); got != StatusError {
		t.Errorf("GetResult = %d, want %d", got, StatusError)
	}
}

// Boundary validation is exactly the null-pointer and UTF-8 checks: an
// empty-but-present text argument is accepted and queued, and the attempt
// fails (or not) in the background with the client deciding.
func TestU_Bridge_EnrollAcceptsEmptyText(t *testing.T) {
	client := &stubClient{err: errors.New("authentication failed")}
	b := newTestBridge(client)
	b.Init()

	url, _, pass := enrollArgs()
	if got := b.Enroll(url, []byte(""), pass, 0); got != StatusAccepted {
		t.Fatalf("Enroll with empty username = %d, want %d", got, StatusAccepted)
	}

	deadline := time.Now().Add(5 * time.Second)
	for client.calls.Load() == 0 {
		if !time.Now().Before(deadline) {
			t.Fatal("client never invoked for empty-username attempt")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if got := b.Enroll([]byte(""), []byte(""), []byte(""), 0); got != StatusAccepted {
		t.Errorf("Enroll with all-empty text = %d, want %d", got, StatusAccepted)
	}
}

func TestU_Bridge_EnrollRejectsInvalidUTF8(t *testing.T) {
	b := newTestBridge(&stubClient{bundle: resultBundle()})
	b.Init()

	url, user, pass := enrollArgs()
	bad := []byte{0xff, 0xfe, 0xfd}
	for _, c := range [][3][]byte{
		{bad, user, pass},
		{url, bad, pass},
		{url, user, bad},
	} {
		if got := b.Enroll(c[0], c[1], c[2], 0); got != StatusError {
			t.Errorf("Enroll with invalid UTF-8 = %d, want %d", got, StatusError)
		}
	}
}

func TestU_Bridge_EnrollRequiresInit(t *testing.T) {
	b := newTestBridge(&stubClient{bundle: resultBundle()})

	url, user, pass := enrollArgs()
	if got := b.Enroll(url, user, pass, 0); got != StatusError {
		t.Errorf("Enroll before Init = %d, want %d", got, StatusError)
	}
}

func TestU_Bridge_GetResultBeforeAnyAttempt(t *testing.T) {
	b := newTestBridge(&stubClient{bundle: resultBundle()})

	if got := b.GetResult(nil, nil, nil, nil, nil); got != StatusError {
		t.Errorf("GetResult before init = %d, want %d", got, StatusError)
	}
	b.Init()
	b.ClearResult()
	if got := b.GetResult(nil, nil, nil, nil, nil); got != StatusError {
		t.Errorf("GetResult after init/clear = %d, want %d", got, StatusError)
	}
}

func TestU_Bridge_GetResultCopiesFields(t *testing.T) {
	b := newTestBridge(&stubClient{bundle: resultBundle()})
	b.Init()

	url, user, pass := enrollArgs()
	b.Enroll(url, user, pass, 30)
	waitAvailable(t, b)

	cert := make([]byte, 64)
	host := make([]byte, 64)
	var port uint16

	// Key and CA buffers omitted: those fields are skipped.
	if got := b.GetResult(cert, nil, nil, host, &port); got != StatusAvailable {
		t.Fatalf("GetResult = %d, want %d", got, StatusAvailable)
	}

	wantCert := "CERT-PEM-DATA"
	if string(cert[:len(wantCert)]) != wantCert || cert[len(wantCert)] != 0 {
		t.Errorf("cert buffer = %q", cert)
	}
	wantHost := "tak.example.com"
	if string(host[:len(wantHost)]) != wantHost || host[len(wantHost)] != 0 {
		t.Errorf("host buffer = %q", host)
	}
	if port != 8443 {
		t.Errorf("port = %d, want 8443", port)
	}

	// The read is a snapshot; repeating it returns the same data.
	cert2 := make([]byte, 64)
	if got := b.GetResult(cert2, nil, nil, nil, nil); got != StatusAvailable {
		t.Fatalf("second GetResult = %d", got)
	}
	if !bytes.Equal(cert, cert2) {
		t.Error("repeated reads returned different data")
	}
}

func TestU_Bridge_TruncationContract(t *testing.T) {
	b := newTestBridge(&stubClient{bundle: resultBundle()})
	b.Init()

	url, user, pass := enrollArgs()
	b.Enroll(url, user, pass, 0)
	waitAvailable(t, b)

	// Capacity 8 for a 13-byte field: exactly 7 text bytes, then the
	// terminator, and nothing past the declared capacity.
	raw := bytes.Repeat([]byte{0xAA}, 12)
	if got := b.GetResult(raw[:8], nil, nil, nil, nil); got != StatusAvailable {
		t.Fatalf("GetResult = %d", got)
	}
	if string(raw[:7]) != "CERT-PE" {
		t.Errorf("truncated text = %q, want CERT-PE", raw[:7])
	}
	if raw[7] != 0 {
		t.Errorf("byte 7 = %#x, want terminator", raw[7])
	}
	for i := 8; i < len(raw); i++ {
		if raw[i] != 0xAA {
			t.Fatalf("byte %d past capacity was written: %#x", i, raw[i])
		}
	}
}

func TestU_Bridge_AbsentCAWritesEmptyString(t *testing.T) {
	bundle := resultBundle()
	bundle.CAPEM = nil
	b := newTestBridge(&stubClient{bundle: bundle})
	b.Init()

	url, user, pass := enrollArgs()
	b.Enroll(url, user, pass, 0)
	waitAvailable(t, b)

	ca := bytes.Repeat([]byte{0xAA}, 4)
	if got := b.GetResult(nil, nil, ca, nil, nil); got != StatusAvailable {
		t.Fatalf("GetResult = %d, want %d", got, StatusAvailable)
	}
	if ca[0] != 0 {
		t.Errorf("ca[0] = %#x, want empty string terminator", ca[0])
	}
	for i := 1; i < len(ca); i++ {
		if ca[i] != 0xAA {
			t.Errorf("ca[%d] was written: %#x", i, ca[i])
		}
	}
}

func TestU_Bridge_FailedAttemptIndistinguishable(t *testing.T) {
	client := &stubClient{err: errors.New("exchange failed")}
	b := newTestBridge(client)
	b.Init()

	url, user, pass := enrollArgs()
	if got := b.Enroll(url, user, pass, 0); got != StatusAccepted {
		t.Fatalf("Enroll = %d, want accepted (failure is only visible via polling)", got)
	}

	// The worker fails; polling keeps reporting the same status as before
	// any attempt.
	deadline := time.Now().Add(5 * time.Second)
	for client.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	if got := b.GetResult(nil, nil, nil, nil, nil); got != StatusError {
		t.Errorf("GetResult after failed attempt = %d, want %d", got, StatusError)
	}
}

// =============================================================================
// Copy primitive
// =============================================================================

func TestU_CopyAndTerminate(t *testing.T) {
	tests := []struct {
		name string
		cap  int
		s    string
		want []byte
		n    int
	}{
		{"empty destination", 0, "abc", nil, 0},
		{"capacity one", 1, "abc", []byte{0}, 0},
		{"exact fit", 4, "abc", []byte{'a', 'b', 'c', 0}, 3},
		{"truncated", 3, "abcdef", []byte{'a', 'b', 0}, 2},
		{"empty source", 3, "", []byte{0, 0xAA, 0xAA}, 0},
		{"short source", 5, "ab", []byte{'a', 'b', 0, 0xAA, 0xAA}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := bytes.Repeat([]byte{0xAA}, tt.cap)
			n := CopyAndTerminate(dst, tt.s)
			if n != tt.n {
				t.Errorf("copied %d bytes, want %d", n, tt.n)
			}
			if !bytes.Equal(dst, tt.want) && tt.cap > 0 {
				t.Errorf("dst = %v, want %v", dst, tt.want)
			}
		})
	}

	if n := CopyAndTerminate(nil, "abc"); n != 0 {
		t.Errorf("nil destination copied %d bytes", n)
	}
}
