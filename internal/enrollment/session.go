package enrollment

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// AttemptStatus is the lifecycle state of one enrollment attempt.
type AttemptStatus int

const (
	// StatusPending means the attempt's worker has not finished.
	StatusPending AttemptStatus = iota

	// StatusDone means the attempt completed and produced a result.
	StatusDone

	// StatusFailed means the attempt completed without a result.
	StatusFailed
)

// String returns the status name.
func (s AttemptStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attempt is a snapshot of one tracked enrollment attempt.
type Attempt struct {
	ID     uuid.UUID
	Status AttemptStatus

	// Result is set only when Status is StatusDone.
	Result *Result

	// Err is set only when Status is StatusFailed.
	Err error
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// MaxConcurrent bounds the number of enrollment workers running at
	// once; further attempts queue. 0 means unbounded, matching the
	// legacy one-thread-per-attempt behavior.
	MaxConcurrent int

	// Logger receives worker diagnostics. nil selects slog.Default().
	Logger *slog.Logger
}

// Session tracks enrollment attempts against one protocol client. It
// replaces the process-wide singleton of the original bridge with an
// injectable object: hosts own exactly one Session, tests may own many.
//
// Two read surfaces coexist. Poll exposes the legacy single-slot "last
// completed result", where concurrent attempts race and the last writer
// wins. Attempt disambiguates by ID and additionally distinguishes pending
// from failed, which the slot cannot.
type Session struct {
	mu         sync.Mutex
	client     Client
	lastResult *Result
	attempts   map[uuid.UUID]*Attempt

	sem chan struct{}
	log *slog.Logger
}

// NewSession creates an empty session. Init must install a client before
// attempts can start.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sem chan struct{}
	if cfg.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.MaxConcurrent)
	}

	return &Session{
		attempts: make(map[uuid.UUID]*Attempt),
		sem:      sem,
		log:      logger,
	}
}

// Init installs the protocol client if none is present. It is idempotent;
// a concurrent caller observing "already initialized" is not an error, and
// the first installed client is reused by every subsequent attempt.
func (s *Session) Init(client Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		s.client = client
	}
}

// Initialized reports whether a protocol client has been installed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Start hands the request to a background worker, returning immediately
// with the attempt ID. The ID only means the attempt was queued, never that
// it succeeded; semantically invalid requests (empty fields, bad URL) are
// still queued and fail inside the worker, where the protocol client
// rejects them.
//
// On success the worker installs a fresh Result as the session's last
// result, replacing whatever was there; on failure it installs "absent",
// which Poll cannot distinguish from "no attempt has completed yet". Callers
// needing deterministic outcomes across concurrent attempts must read by
// attempt ID or serialize their calls.
func (s *Session) Start(req Request) (uuid.UUID, error) {
	return s.start(req, true)
}

// StartDetached starts an attempt without recording it in the tracking
// table, for callers that cannot retain the ID (the C surface discards it).
// The outcome is observable only through Poll; nothing is left behind for
// Forget to collect.
func (s *Session) StartDetached(req Request) error {
	_, err := s.start(req, false)
	return err
}

func (s *Session) start(req Request, track bool) (uuid.UUID, error) {
	if req.ValidityDays == 0 {
		req.ValidityDays = DefaultValidityDays
	}

	s.mu.Lock()
	client := s.client
	if client == nil {
		s.mu.Unlock()
		return uuid.Nil, ErrNotInitialized
	}
	id := uuid.New()
	if track {
		s.attempts[id] = &Attempt{ID: id, Status: StatusPending}
	}
	s.mu.Unlock()

	go s.run(id, client, req)
	return id, nil
}

// run is the background worker for one attempt. It owns its own goroutine
// and context; entry points never block on network I/O.
func (s *Session) run(id uuid.UUID, client Client, req Request) {
	if s.sem != nil {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
	}

	bundle, err := client.Enroll(context.Background(), req)

	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := s.attempts[id]
	if err != nil {
		s.lastResult = nil
		if attempt != nil {
			attempt.Status = StatusFailed
			attempt.Err = err
		}
		s.log.Error("enrollment failed", "attempt", id, "server", req.ServerURL, "error", err)
		return
	}

	result := ResultFromBundle(bundle)
	s.lastResult = result
	if attempt != nil {
		attempt.Status = StatusDone
		attempt.Result = result
	}
	s.log.Info("enrollment successful", "attempt", id, "server", req.ServerURL, "host", result.ServerHost, "port", result.ServerPort)
}

// Poll returns the most recent completed result, or nil when no attempt has
// completed since the last clear (or the most recent one failed). It is a
// pure snapshot read and may be called any number of times.
func (s *Session) Poll() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// Attempt returns a snapshot of the attempt with the given ID.
func (s *Session) Attempt(id uuid.UUID) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return Attempt{}, ErrUnknownAttempt
	}
	return *attempt, nil
}

// Forget drops a finished attempt from the session's tracking table. A
// pending attempt is left in place so its worker can still record the
// outcome.
func (s *Session) Forget(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt, ok := s.attempts[id]; ok && attempt.Status != StatusPending {
		delete(s.attempts, id)
	}
}

// Clear unconditionally resets the last result to absent. It has no effect
// on in-flight workers; a worker finishing after a clear still overwrites
// the slot with its own outcome.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = nil
}
