/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const networkErrorMessage = "Network error. Please try again."

// Phase is the request lifecycle of a session.
type Phase int

const (
	Uninitialized Phase = iota
	Idle
	Requesting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	default:
		return "uninitialized"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type identityProvider interface {
	GetOrCreate() (string, error)
}

// Snapshot is a committed, read-only view of a session. State and Feedback
// are replaced wholesale on every reply and never modified afterwards.
type Snapshot struct {
	Identity string
	Phase    Phase
	State    *GameState
	Feedback *Feedback
	Err      string
}

func (s Snapshot) View() View {
	return deriveView(s.State, s.Feedback, s.Phase, s.Err)
}

// Session owns the authoritative game state for one identity and makes sure
// at most one authority request is outstanding at a time.
type Session struct {
	cfg       *Config
	ids       identityProvider
	authority Authority
	metrics   *metrics
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	phase    Phase
	closed   bool
	identity string
	state    *GameState
	feedback *Feedback
	err      string

	notifyMu  sync.Mutex
	listeners map[int]func(Snapshot)
	nextID    int
}

func newSession(ctx context.Context, cfg *Config, ids identityProvider, authority Authority, m *metrics) *Session {
	ctx, cancel := context.WithCancel(ctx)

	return &Session{
		cfg:       cfg,
		ids:       ids,
		authority: authority,
		metrics:   m,
		timeout:   cfg.requestTimeout,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func(Snapshot)),
	}
}

// Init resolves the identity and starts the first game. Only an identity
// failure is returned; a failed start is recorded as the session error.
func (s *Session) Init() error {
	id, err := s.begin()
	if err != nil {
		return err
	}

	s.start(id)

	return nil
}

// InitAsync is Init with the first start running in the background, so the
// caller can serve the Requesting phase while it is outstanding. Identity
// failures are still returned.
func (s *Session) InitAsync() error {
	id, err := s.begin()
	if err != nil {
		return err
	}

	go s.start(id)

	return nil
}

// begin resolves the identity and enters Requesting for the first start.
func (s *Session) begin() (string, error) {
	s.mu.Lock()
	if s.phase != Uninitialized || s.closed {
		s.mu.Unlock()

		return "", errors.New("session already initialized")
	}
	s.mu.Unlock()

	id, err := s.ids.GetOrCreate()
	if err != nil {
		return "", fmt.Errorf("resolve identity: %w", err)
	}

	logf(s.cfg, "IDENT: Using identity %s", id)

	s.mu.Lock()
	if s.phase != Uninitialized || s.closed {
		s.mu.Unlock()

		return "", errors.New("session already initialized")
	}
	s.identity = id
	s.phase = Requesting
	s.wg.Add(1)
	s.mu.Unlock()

	s.notify()

	return id, nil
}

// RequestMove submits a move if the game is running, nothing is in flight
// and the authority listed the move as legal. It reports whether a request
// was sent; ignored moves are not errors.
func (s *Session) RequestMove(global, local int) bool {
	mv := Move{Global: global, Local: local}

	s.mu.Lock()
	if !s.moveAllowedLocked(mv) {
		s.mu.Unlock()
		s.metrics.rejected()
		logf(s.cfg, "GAMES: Ignored move %d/%d", global, local)

		return false
	}
	id := s.identity
	s.phase = Requesting
	s.wg.Add(1)
	s.mu.Unlock()

	s.notify()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	reply, err := s.authority.Move(ctx, id, mv)

	s.mu.Lock()
	if err != nil {
		s.err = s.describe("move", err)
	} else {
		s.state, s.feedback, s.err = &reply.State, &reply.Feedback, ""
		logf(s.cfg, "GAMES: Played %d/%d", global, local)
	}
	s.phase = Idle
	s.mu.Unlock()

	s.notify()

	return true
}

func (s *Session) moveAllowedLocked(mv Move) bool {
	if s.closed || s.feedback == nil {
		return false
	}

	return s.feedback.GlobalWin == InProgress &&
		s.phase == Idle &&
		s.feedback.Allows(mv)
}

// Reset abandons the current game and starts a new one for the same
// identity. It is ignored while a request is outstanding.
func (s *Session) Reset() bool {
	s.mu.Lock()
	if s.closed || s.phase != Idle {
		s.mu.Unlock()
		s.metrics.rejected()

		return false
	}
	id := s.identity
	s.state, s.feedback, s.err = nil, nil, ""
	s.phase = Requesting
	s.wg.Add(1)
	s.mu.Unlock()

	s.notify()
	s.start(id)

	return true
}

// start runs a start request; the caller has already entered Requesting.
func (s *Session) start(id string) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	reply, err := s.authority.Start(ctx, id)

	s.mu.Lock()
	if err != nil {
		s.err = s.describe("start", err)
	} else {
		s.state, s.feedback, s.err = &reply.State, &reply.Feedback, ""
		logf(s.cfg, "GAMES: Started game for %s", id)
	}
	s.phase = Idle
	s.mu.Unlock()

	s.notify()
}

// describe turns a client error into the message shown to the player.
func (s *Session) describe(op string, err error) string {
	var ae *AuthorityError
	if errors.As(err, &ae) {
		logf(s.cfg, "GAMES: Authority rejected %s: %s", op, ae.Message)

		return ae.Message
	}

	logf(s.cfg, "GAMES: %s failed: %v", op, err)

	return networkErrorMessage
}

// AcknowledgeError clears the recorded error.
func (s *Session) AcknowledgeError() {
	s.mu.Lock()
	changed := s.err != ""
	s.err = ""
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Identity: s.identity,
		Phase:    s.phase,
		State:    s.state,
		Feedback: s.feedback,
		Err:      s.err,
	}
}

// Subscribe registers fn to receive the latest snapshot after every change.
// fn must not block.
func (s *Session) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.notifyMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.notifyMu.Unlock()

	return func() {
		s.notifyMu.Lock()
		delete(s.listeners, id)
		s.notifyMu.Unlock()
	}
}

func (s *Session) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	snap := s.Snapshot()
	for _, fn := range s.listeners {
		fn(snap)
	}
}

// Close cancels any outstanding request and waits for it to unwind.
// Further intents are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
