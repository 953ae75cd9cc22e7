/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type staticIdentity struct {
	id  string
	err error
}

func (s staticIdentity) GetOrCreate() (string, error) { return s.id, s.err }

// fakeAuthority records calls. Moves place a player mark and drop the cell
// from possible_moves unless move is set.
type fakeAuthority struct {
	mu       sync.Mutex
	starts   int
	moves    []Move
	userIDs  []string
	current  *Reply
	startErr error
	move     func(Move) (*Reply, error)

	entered chan struct{}
	release chan struct{}

	holdStart chan struct{}
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{}
}

func (f *fakeAuthority) Start(ctx context.Context, userID string) (*Reply, error) {
	f.mu.Lock()
	f.starts++
	f.userIDs = append(f.userIDs, userID)
	err := f.startErr
	f.current = openingReply()
	reply := *f.current
	hold := f.holdStart
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, &TransportError{Op: "start", Err: ctx.Err()}
		}
	}

	if err != nil {
		return nil, err
	}

	return &reply, nil
}

func (f *fakeAuthority) Move(ctx context.Context, userID string, m Move) (*Reply, error) {
	f.mu.Lock()
	f.moves = append(f.moves, m)
	f.userIDs = append(f.userIDs, userID)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, &TransportError{Op: "move", Err: ctx.Err()}
		}
	}

	if f.move != nil {
		return f.move(m)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	next := *f.current
	next.State.Cells[m.Global][m.Local] = Player
	next.Feedback.NextBoard = BoardAt(m.Local)
	next.Feedback.PossibleMoves = nil
	for _, p := range f.current.Feedback.PossibleMoves {
		if p != m {
			next.Feedback.PossibleMoves = append(next.Feedback.PossibleMoves, p)
		}
	}
	f.current = &next

	reply := next

	return &reply, nil
}

func (f *fakeAuthority) calls() (starts, moves int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.starts, len(f.moves)
}

func allMoves() []Move {
	var out []Move
	for g := 0; g < boardCount; g++ {
		for l := 0; l < boardCount; l++ {
			out = append(out, Move{Global: g, Local: l})
		}
	}
	return out
}

func openingReply() *Reply {
	return &Reply{Feedback: Feedback{PossibleMoves: allMoves()}}
}

func testConfig() *Config {
	return &Config{requestTimeout: time.Second}
}

func startedSession(t *testing.T, fa *fakeAuthority) *Session {
	t.Helper()

	s := newSession(context.Background(), testConfig(), staticIdentity{id: "device-1"}, fa, newMetrics())
	t.Cleanup(s.Close)

	if err := s.Init(); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	return s
}

func TestInitStartsGame(t *testing.T) {
	fa := newFakeAuthority()
	s := startedSession(t, fa)

	snap := s.Snapshot()
	if snap.Phase != Idle {
		t.Fatalf("phase = %s, want idle", snap.Phase)
	}
	if snap.State == nil || snap.Feedback == nil {
		t.Fatal("expected state and feedback after start")
	}
	if snap.Identity != "device-1" {
		t.Fatalf("identity = %q", snap.Identity)
	}
	if starts, _ := fa.calls(); starts != 1 {
		t.Fatalf("starts = %d, want 1", starts)
	}
	if fa.userIDs[0] != "device-1" {
		t.Fatalf("start sent user id %q", fa.userIDs[0])
	}
}

func TestInitIdentityFailureIsFatal(t *testing.T) {
	fa := newFakeAuthority()
	s := newSession(context.Background(), testConfig(), staticIdentity{err: errors.New("disk gone")}, fa, nil)
	defer s.Close()

	if err := s.Init(); err == nil {
		t.Fatal("expected identity error")
	}
	if starts, _ := fa.calls(); starts != 0 {
		t.Fatalf("start called %d times without identity", starts)
	}
	if s.Snapshot().Phase != Uninitialized {
		t.Fatal("session should stay uninitialized")
	}
}

func TestInitAsyncServesRequestingPhase(t *testing.T) {
	fa := newFakeAuthority()
	fa.holdStart = make(chan struct{})

	s := newSession(context.Background(), testConfig(), staticIdentity{id: "device-1"}, fa, nil)
	t.Cleanup(s.Close)

	idle := make(chan struct{}, 1)
	s.Subscribe(func(snap Snapshot) {
		if snap.Phase == Idle {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})

	if err := s.InitAsync(); err != nil {
		t.Fatalf("InitAsync() failed: %v", err)
	}

	if snap := s.Snapshot(); snap.Phase != Requesting || snap.Identity != "device-1" {
		t.Fatalf("phase = %s identity = %q, want requesting device-1", snap.Phase, snap.Identity)
	}
	if v := s.Snapshot().View(); !v.Requesting || len(v.Boards) != 0 {
		t.Fatalf("view during first start = %+v", v)
	}

	close(fa.holdStart)

	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("first start never completed")
	}

	if s.Snapshot().State == nil {
		t.Fatal("expected a board after the first start")
	}
}

func TestInitAsyncIdentityFailureIsFatal(t *testing.T) {
	fa := newFakeAuthority()
	s := newSession(context.Background(), testConfig(), staticIdentity{err: errors.New("disk gone")}, fa, nil)
	t.Cleanup(s.Close)

	if err := s.InitAsync(); err == nil {
		t.Fatal("expected identity failure to be returned")
	}
	if starts, _ := fa.calls(); starts != 0 {
		t.Fatalf("starts = %d, want 0", starts)
	}
}

func TestInitTwice(t *testing.T) {
	s := startedSession(t, newFakeAuthority())

	if err := s.Init(); err == nil {
		t.Fatal("second Init should fail")
	}
}

func TestStartFailureLeavesBoardEmpty(t *testing.T) {
	fa := newFakeAuthority()
	fa.startErr = &AuthorityError{Op: "start", Status: 404, Message: "session not found"}
	s := startedSession(t, fa)

	snap := s.Snapshot()
	if snap.Phase != Idle {
		t.Fatalf("phase = %s, want idle", snap.Phase)
	}
	if snap.State != nil {
		t.Fatal("state should be absent after failed start")
	}
	if snap.Err != "session not found" {
		t.Fatalf("err = %q", snap.Err)
	}
	if s.RequestMove(0, 0) {
		t.Fatal("move must be ignored without feedback")
	}
}

func TestRequestMoveIgnoredWhenGameOver(t *testing.T) {
	for _, win := range []Outcome{PlayerWon, OpponentWon, Drawn} {
		t.Run(win.String(), func(t *testing.T) {
			fa := newFakeAuthority()
			fa.move = func(Move) (*Reply, error) {
				r := openingReply()
				r.Feedback.GlobalWin = win
				return r, nil
			}
			s := startedSession(t, fa)

			if !s.RequestMove(0, 0) {
				t.Fatal("first move should be sent")
			}

			for _, m := range allMoves() {
				if s.RequestMove(m.Global, m.Local) {
					t.Fatalf("move %v sent after game ended", m)
				}
			}
			if _, moves := fa.calls(); moves != 1 {
				t.Fatalf("moves = %d, want 1", moves)
			}
			if !s.Reset() {
				t.Fatal("reset should remain available after game over")
			}
		})
	}
}

func TestRequestMoveIgnoredWhenNotPossible(t *testing.T) {
	fa := newFakeAuthority()
	s := startedSession(t, fa)

	cases := []struct {
		name          string
		global, local int
	}{
		{"already played", 4, 4},
		{"out of range", 9, 0},
		{"negative", -1, 3},
	}

	if !s.RequestMove(4, 4) {
		t.Fatal("opening move should be sent")
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if s.RequestMove(tc.global, tc.local) {
				t.Fatalf("move %d/%d should be ignored", tc.global, tc.local)
			}
		})
	}

	if _, moves := fa.calls(); moves != 1 {
		t.Fatalf("moves = %d, want 1", moves)
	}
}

func TestSingleFlight(t *testing.T) {
	fa := newFakeAuthority()
	s := startedSession(t, fa)

	fa.entered = make(chan struct{}, 1)
	fa.release = make(chan struct{})

	done := make(chan bool, 1)
	go func() {
		done <- s.RequestMove(0, 0)
	}()
	<-fa.entered

	if s.Snapshot().Phase != Requesting {
		t.Fatal("expected requesting phase while move is outstanding")
	}
	if s.RequestMove(0, 1) {
		t.Fatal("second move sent while one was outstanding")
	}
	if s.Reset() {
		t.Fatal("reset sent while a move was outstanding")
	}

	close(fa.release)
	if !<-done {
		t.Fatal("first move should report as sent")
	}

	starts, moves := fa.calls()
	if starts != 1 || moves != 1 {
		t.Fatalf("starts=%d moves=%d, want 1 and 1", starts, moves)
	}
	if s.Snapshot().Phase != Idle {
		t.Fatal("expected idle after reply")
	}
}

func TestMoveRejectedKeepsState(t *testing.T) {
	fa := newFakeAuthority()
	s := startedSession(t, fa)

	if !s.RequestMove(2, 2) {
		t.Fatal("move should be sent")
	}
	before := s.Snapshot()

	fa.move = func(Move) (*Reply, error) {
		return nil, &AuthorityError{Op: "move", Status: 400, Message: "illegal move"}
	}
	if !s.RequestMove(2, 3) {
		t.Fatal("move should be sent")
	}

	after := s.Snapshot()
	if after.Phase != Idle {
		t.Fatalf("phase = %s, want idle", after.Phase)
	}
	if after.Err != "illegal move" {
		t.Fatalf("err = %q, want %q", after.Err, "illegal move")
	}
	if after.State != before.State || after.Feedback != before.Feedback {
		t.Fatal("state must be unchanged after a rejected move")
	}
}

func TestTransportErrorMessage(t *testing.T) {
	fa := newFakeAuthority()
	s := startedSession(t, fa)

	fa.move = func(Move) (*Reply, error) {
		return nil, &TransportError{Op: "move", Err: errors.New("connection refused")}
	}
	s.RequestMove(0, 0)

	if got := s.Snapshot().Err; got != networkErrorMessage {
		t.Fatalf("err = %q, want %q", got, networkErrorMessage)
	}
}

func TestSuccessClearsError(t *testing.T) {
	fa := newFakeAuthority()
	s := startedSession(t, fa)

	fa.move = func(Move) (*Reply, error) {
		return nil, &AuthorityError{Op: "move", Status: 400, Message: "illegal move"}
	}
	s.RequestMove(0, 0)

	fa.move = nil
	s.RequestMove(0, 0)

	if got := s.Snapshot().Err; got != "" {
		t.Fatalf("err = %q after successful move", got)
	}
}

func TestAcknowledgeError(t *testing.T) {
	fa := newFakeAuthority()
	fa.startErr = &AuthorityError{Op: "start", Status: 500, Message: "boom"}
	s := startedSession(t, fa)

	s.AcknowledgeError()

	if got := s.Snapshot().Err; got != "" {
		t.Fatalf("err = %q after acknowledge", got)
	}
}

func TestResetRestartsWithSameIdentity(t *testing.T) {
	fa := newFakeAuthority()
	s := startedSession(t, fa)

	s.RequestMove(0, 0)

	if !s.Reset() {
		t.Fatal("reset should be sent")
	}

	snap := s.Snapshot()
	if snap.State.At(0, 0) != Empty {
		t.Fatal("reset should replace the board")
	}
	if starts, _ := fa.calls(); starts != 2 {
		t.Fatalf("starts = %d, want 2", starts)
	}
	for _, id := range fa.userIDs {
		if id != "device-1" {
			t.Fatalf("request sent with identity %q", id)
		}
	}
}

func TestRequestTimeoutUnlocks(t *testing.T) {
	fa := newFakeAuthority()
	cfg := testConfig()
	cfg.requestTimeout = 50 * time.Millisecond

	s := newSession(context.Background(), cfg, staticIdentity{id: "device-1"}, fa, nil)
	defer s.Close()
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	fa.release = make(chan struct{})

	if !s.RequestMove(1, 1) {
		t.Fatal("move should be sent")
	}

	snap := s.Snapshot()
	if snap.Phase != Idle {
		t.Fatalf("phase = %s, want idle after timeout", snap.Phase)
	}
	if snap.Err != networkErrorMessage {
		t.Fatalf("err = %q", snap.Err)
	}
}

func TestCloseCancelsOutstandingRequest(t *testing.T) {
	fa := newFakeAuthority()
	cfg := testConfig()
	cfg.requestTimeout = time.Minute

	s := newSession(context.Background(), cfg, staticIdentity{id: "device-1"}, fa, nil)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	fa.entered = make(chan struct{}, 1)
	fa.release = make(chan struct{})

	go s.RequestMove(0, 0)
	<-fa.entered

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the outstanding request")
	}

	if s.Reset() || s.RequestMove(1, 1) {
		t.Fatal("closed session must ignore intents")
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	fa := newFakeAuthority()
	s := startedSession(t, fa)

	var (
		mu     sync.Mutex
		phases []Phase
	)
	cancel := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		phases = append(phases, snap.Phase)
		mu.Unlock()
	})

	s.RequestMove(0, 0)
	cancel()
	s.RequestMove(0, 1)

	mu.Lock()
	defer mu.Unlock()

	if len(phases) != 2 || phases[0] != Requesting || phases[1] != Idle {
		t.Fatalf("phases = %v, want [requesting idle]", phases)
	}
}
