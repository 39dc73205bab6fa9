// Package local implements an in-memory authorization backend backed by a
// static token list.
package local

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/chargenet/core/authz"
	"github.com/kilianp07/chargenet/core/factory"
	"github.com/kilianp07/chargenet/core/model"
)

const (
	DescUnknownToken   = "unknown token"
	DescBlockedToken   = "token is blocked"
	DescInvalidSession = "invalid session"
	DescTokenMismatch  = "invalid token for session"
	DescSessionExists  = "session already exists"
	defaultID          = "local"
	tokenAuthorized    = "authorized"
	tokenBlocked       = "blocked"
)

// Config lists the tokens known to the backend. Values are "authorized" or
// "blocked".
type Config struct {
	ID     string            `json:"id"`
	Tokens map[string]string `json:"tokens"`
}

// Backend answers authorization requests from a token table and tracks the
// sessions it started.
type Backend struct {
	id string

	mu       sync.RWMutex
	tokens   map[model.AuthToken]model.AuthorizationResult
	sessions map[model.SessionID]model.Session
	now      func() time.Time
}

// New creates a backend from cfg.
func New(cfg Config) (*Backend, error) {
	id := cfg.ID
	if id == "" {
		id = defaultID
	}
	b := &Backend{
		id:       id,
		tokens:   make(map[model.AuthToken]model.AuthorizationResult, len(cfg.Tokens)),
		sessions: make(map[model.SessionID]model.Session),
		now:      time.Now,
	}
	for tok, status := range cfg.Tokens {
		res, err := parseStatus(status)
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", tok, err)
		}
		b.tokens[model.AuthToken(tok)] = res
	}
	return b, nil
}

func parseStatus(s string) (model.AuthorizationResult, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case tokenAuthorized:
		return model.Authorized, nil
	case tokenBlocked:
		return model.Blocked, nil
	default:
		return model.NotAuthorized, fmt.Errorf("invalid token status %q", s)
	}
}

// ID returns the backend identifier.
func (b *Backend) ID() string { return b.id }

// AddToken sets the status of a token. Only Authorized and Blocked are stored.
func (b *Backend) AddToken(tok model.AuthToken, res model.AuthorizationResult) error {
	if !res.IsDecisive() {
		return fmt.Errorf("token status must be Authorized or Blocked, got %s", res)
	}
	b.mu.Lock()
	b.tokens[tok] = res
	b.mu.Unlock()
	return nil
}

// RemoveToken forgets a token. Open sessions remain valid.
func (b *Backend) RemoveToken(tok model.AuthToken) {
	b.mu.Lock()
	delete(b.tokens, tok)
	b.mu.Unlock()
}

// Sessions returns the open sessions ordered by creation time.
func (b *Backend) Sessions() []model.Session {
	b.mu.RLock()
	out := make([]model.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AuthorizeStart opens a session for an authorized token.
func (b *Backend) AuthorizeStart(_ context.Context, req model.AuthStartRequest) (model.AuthStartResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := model.AuthStartResult{BackendID: b.id, SessionID: req.SessionID}
	status, ok := b.tokens[req.Token]
	switch {
	case !ok:
		res.Result = model.NotAuthorized
		res.Description = DescUnknownToken
	case status == model.Blocked:
		res.Result = model.Blocked
		res.Description = DescBlockedToken
	default:
		sid := req.SessionID
		if sid == "" {
			sid = model.SessionID(uuid.NewString())
		}
		if _, open := b.sessions[sid]; open {
			res.Result = model.NotAuthorized
			res.Description = DescSessionExists
			return res, nil
		}
		b.sessions[sid] = model.Session{ID: sid, Token: req.Token, CreatedAt: b.now()}
		res.Result = model.Authorized
		res.SessionID = sid
	}
	return res, nil
}

// AuthorizeStop accepts the stop when the token matches the session.
func (b *Backend) AuthorizeStop(_ context.Context, req model.AuthStopRequest) (model.AuthStopResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := model.AuthStopResult{BackendID: b.id, SessionID: req.SessionID, Result: model.NotAuthorized}
	s, ok := b.sessions[req.SessionID]
	switch {
	case !ok:
		res.Description = DescInvalidSession
	case s.Token != req.Token:
		res.Description = DescTokenMismatch
	default:
		res.Result = model.Authorized
	}
	return res, nil
}

// SendChargeDetailRecord closes the session referenced by cdr.
func (b *Backend) SendChargeDetailRecord(_ context.Context, cdr model.ChargeDetailRecord) (model.CDRResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := model.CDRResult{BackendID: b.id, SessionID: cdr.SessionID, Status: model.CDRRejected}
	s, ok := b.sessions[cdr.SessionID]
	switch {
	case !ok:
		res.Description = DescInvalidSession
	case s.Token != cdr.Token:
		res.Description = DescTokenMismatch
	default:
		delete(b.sessions, cdr.SessionID)
		res.Status = model.CDRForwarded
	}
	return res, nil
}

func init() {
	_ = authz.RegisterBackend("local", func(conf map[string]any) (authz.Backend, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return New(c)
	})
}
