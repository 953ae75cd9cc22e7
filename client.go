/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxReplySize = 1 << 20

// Authority is the remote rules engine.
type Authority interface {
	Start(ctx context.Context, userID string) (*Reply, error)
	Move(ctx context.Context, userID string, m Move) (*Reply, error)
}

// TransportError covers unreachable hosts, timeouts and malformed responses.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthorityError is a well-formed rejection from the authority.
type AuthorityError struct {
	Op      string
	Status  int
	Message string
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
}

func isAuthorityError(err error) bool {
	var ae *AuthorityError

	return errors.As(err, &ae)
}

// GameClient talks JSON to the authority. It holds no session state.
type GameClient struct {
	base    string
	http    *http.Client
	metrics *metrics
}

func newGameClient(base string, timeout time.Duration, m *metrics) *GameClient {
	return &GameClient{
		base:    strings.TrimSuffix(base, "/"),
		http:    &http.Client{Timeout: timeout},
		metrics: m,
	}
}

type startRequest struct {
	UserID string `json:"user_id"`
}

type moveRequest struct {
	UserID string `json:"user_id"`
	Move   Move   `json:"move"`
}

func (c *GameClient) Start(ctx context.Context, userID string) (*Reply, error) {
	return c.post(ctx, "start", startRequest{UserID: userID})
}

func (c *GameClient) Move(ctx context.Context, userID string, m Move) (*Reply, error) {
	return c.post(ctx, "move", moveRequest{UserID: userID, Move: m})
}

func (c *GameClient) post(ctx context.Context, op string, payload any) (reply *Reply, err error) {
	started := time.Now()
	defer func() {
		c.metrics.observe(op, started, err)
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ultimate/"+releaseVersion)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, rejection(op, resp.StatusCode, data)
	}

	reply, err = decodeReply(data)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	return reply, nil
}

func rejection(op string, status int, data []byte) error {
	var body struct {
		Error string `json:"error"`
	}

	if json.Unmarshal(data, &body) != nil || strings.TrimSpace(body.Error) == "" {
		return &TransportError{Op: op, Err: fmt.Errorf("unexpected status %d %s", status, http.StatusText(status))}
	}

	return &AuthorityError{Op: op, Status: status, Message: strings.TrimSpace(body.Error)}
}

func decodeReply(data []byte) (*Reply, error) {
	var wire struct {
		State    json.RawMessage `json:"state"`
		Feedback json.RawMessage `json:"feedback"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if isNull(wire.State) || isNull(wire.Feedback) {
		return nil, errors.New("decode reply: missing state or feedback")
	}

	var reply Reply
	if err := json.Unmarshal(wire.State, &reply.State); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(wire.Feedback, &reply.Feedback); err != nil {
		return nil, err
	}

	return &reply, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)

	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
