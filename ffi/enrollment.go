// Command ffi builds the enrollment bridge as a C shared library
// (go build -buildmode=c-shared). The exported functions follow C calling
// conventions: null-terminated UTF-8 text in, caller-owned output buffers,
// integer statuses, and no exceptions across the boundary.
//
// All contract enforcement lives in internal/bridge; this file only
// translates C pointers to Go slices.
package main

/*
#include <stddef.h>
#include <stdint.h>
*/
import "C"

import (
	"log/slog"
	"os"
	"unsafe"

	"github.com/remiblancher/tak-trust/internal/bridge"
	"github.com/remiblancher/tak-trust/internal/enrollment"
)

// The library host owns one process-wide bridge. Entry points may be called
// from any thread, concurrently; the underlying session serializes access
// to its state.
var enrollmentBridge = newBridge()

func newBridge() *bridge.Bridge {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return bridge.New(bridge.Config{
		Session: enrollment.NewSession(enrollment.SessionConfig{
			MaxConcurrent: 4,
			Logger:        logger,
		}),
		NewClient: func() enrollment.Client {
			return enrollment.NewHTTPClient(enrollment.HTTPClientConfig{
				InsecureSkipVerify: true,
				Logger:             logger,
			})
		},
		Logger: logger,
	})
}

// enrollment_init initializes the enrollment client. It must be called
// before any enrollment operation and is safe to call more than once.
// Returns 0.
//
//export enrollment_init
func enrollment_init() C.int {
	return C.int(enrollmentBridge.Init())
}

// enroll starts a background enrollment attempt against server_url using
// username/password. validity_days 0 selects the default (365 days).
// Returns 0 when the attempt was queued, -1 when an argument was null or
// not valid UTF-8, or the client is uninitialized. The outcome is observed
// by polling enrollment_get_result.
//
//export enroll
func enroll(serverURL, username, password *C.char, validityDays C.uint32_t) C.int {
	return C.int(enrollmentBridge.Enroll(
		cText(serverURL),
		cText(username),
		cText(password),
		uint32(validityDays),
	))
}

// enrollment_get_result copies the last completed enrollment result into
// the provided buffers. Every buffer pointer may be null to skip that
// field; when non-null, the paired length is the buffer's exact capacity
// and at most that many bytes are written, the last always a terminator.
// Returns 1 when a result was copied, -1 when no attempt has completed
// (or the most recent one failed).
//
//export enrollment_get_result
func enrollment_get_result(
	certBuf *C.char, certLen C.size_t,
	keyBuf *C.char, keyLen C.size_t,
	caBuf *C.char, caLen C.size_t,
	hostBuf *C.char, hostLen C.size_t,
	portOut *C.uint16_t,
) C.int {
	return C.int(enrollmentBridge.GetResult(
		cBuffer(certBuf, certLen),
		cBuffer(keyBuf, keyLen),
		cBuffer(caBuf, caLen),
		cBuffer(hostBuf, hostLen),
		(*uint16)(portOut),
	))
}

// enrollment_clear_result clears the last enrollment result. Always
// succeeds.
//
//export enrollment_clear_result
func enrollment_clear_result() {
	enrollmentBridge.ClearResult()
}

// cText copies a null-terminated C string into Go memory. A null pointer
// stays nil so the bridge can distinguish absent from empty.
func cText(p *C.char) []byte {
	if p == nil {
		return nil
	}
	return []byte(C.GoString(p))
}

// cBuffer views a caller-owned C buffer as a Go slice without copying. The
// slice aliases C memory and must not escape the call.
func cBuffer(p *C.char, n C.size_t) []byte {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(n))
}

func main() {}
