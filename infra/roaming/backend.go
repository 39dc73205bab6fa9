// Package roaming implements an authorization backend talking JSON over HTTP
// to a roaming hub, authenticated with OAuth2 client credentials.
package roaming

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

	"github.com/kilianp07/chargenet/auth"
	"github.com/kilianp07/chargenet/core/authz"
	"github.com/kilianp07/chargenet/core/factory"
	"github.com/kilianp07/chargenet/core/logger"
	"github.com/kilianp07/chargenet/core/model"
	infralogger "github.com/kilianp07/chargenet/infra/logger"
)

const (
	pathStart = "/authorize/start"
	pathStop  = "/authorize/stop"
	pathCDR   = "/cdr"

	defaultTimeoutMS = 10000
)

// Config defines the remote hub.
type Config struct {
	ID        string    `json:"id"`
	BaseURL   string    `json:"base_url"`
	TimeoutMS int       `json:"timeout_ms"`
	Auth      auth.Conf `json:"auth"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ID == "" {
		c.ID = "roaming"
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = defaultTimeoutMS
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("roaming backend %s: base_url is required", c.ID)
	}
	return nil
}

// rejectedError marks a persistent 401 or 403 from the hub.
type rejectedError struct{ status int }

func (e rejectedError) Error() string {
	return fmt.Sprintf("upstream rejected credentials (%d)", e.status)
}

type wireResult struct {
	Result      string `json:"result"`
	Status      string `json:"status"`
	SessionID   string `json:"session_id"`
	Description string `json:"description"`
}

// Backend calls a roaming hub.
type Backend struct {
	cfg    Config
	client *http.Client
	cred   *auth.ClientCred
	log    logger.Logger
}

// New creates a backend. A configured auth block enables bearer tokens.
func New(cfg Config) (*Backend, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		log:    infralogger.New("roaming_backend"),
	}
	if cfg.Auth.Enabled() {
		b.cred = auth.NewClientCred(cfg.Auth)
	}
	return b, nil
}

// ID returns the backend identifier.
func (b *Backend) ID() string { return b.cfg.ID }

// AuthorizeStart asks the hub to authorize a session start.
func (b *Backend) AuthorizeStart(ctx context.Context, req model.AuthStartRequest) (model.AuthStartResult, error) {
	var out wireResult
	err := b.post(ctx, pathStart, req, &out)
	var rej rejectedError
	if errors.As(err, &rej) {
		return model.AuthStartResult{Result: model.NotAuthorized, BackendID: b.cfg.ID, Description: rej.Error()}, nil
	}
	if err != nil {
		return model.AuthStartResult{}, err
	}
	res, err := model.ParseAuthorizationResult(out.Result)
	if err != nil {
		return model.AuthStartResult{}, err
	}
	return model.AuthStartResult{Result: res, SessionID: model.SessionID(out.SessionID), BackendID: b.cfg.ID, Description: out.Description}, nil
}

// AuthorizeStop asks the hub to authorize a session stop.
func (b *Backend) AuthorizeStop(ctx context.Context, req model.AuthStopRequest) (model.AuthStopResult, error) {
	var out wireResult
	err := b.post(ctx, pathStop, req, &out)
	var rej rejectedError
	if errors.As(err, &rej) {
		return model.AuthStopResult{Result: model.NotAuthorized, SessionID: req.SessionID, BackendID: b.cfg.ID, Description: rej.Error()}, nil
	}
	if err != nil {
		return model.AuthStopResult{}, err
	}
	res, err := model.ParseAuthorizationResult(out.Result)
	if err != nil {
		return model.AuthStopResult{}, err
	}
	sid := model.SessionID(out.SessionID)
	if sid == "" {
		sid = req.SessionID
	}
	return model.AuthStopResult{Result: res, SessionID: sid, BackendID: b.cfg.ID, Description: out.Description}, nil
}

// SendChargeDetailRecord forwards a record to the hub.
func (b *Backend) SendChargeDetailRecord(ctx context.Context, cdr model.ChargeDetailRecord) (model.CDRResult, error) {
	var out wireResult
	err := b.post(ctx, pathCDR, cdr, &out)
	var rej rejectedError
	if errors.As(err, &rej) {
		return model.CDRResult{Status: model.CDRNotForwarded, SessionID: cdr.SessionID, BackendID: b.cfg.ID, Description: rej.Error()}, nil
	}
	if err != nil {
		return model.CDRResult{}, err
	}
	st, err := model.ParseCDRStatus(out.Status)
	if err != nil {
		return model.CDRResult{}, err
	}
	return model.CDRResult{Status: st, SessionID: cdr.SessionID, BackendID: b.cfg.ID, Description: out.Description}, nil
}

// post sends in as JSON and decodes the reply into out. A 401 triggers one
// token refresh and retry.
func (b *Backend) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	status, data, err := b.do(ctx, path, body, false)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized && b.cred != nil {
		b.log.Warnf("%s%s returned 401, refreshing token", b.cfg.BaseURL, path)
		status, data, err = b.do(ctx, path, body, true)
		if err != nil {
			return err
		}
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		b.log.Errorw("roaming hub rejected credentials", map[string]any{"backend": b.cfg.ID, "path": path, "status": status})
		return rejectedError{status: status}
	case status < 200 || status > 299:
		return fmt.Errorf("%s%s: unexpected status %d: %s", b.cfg.BaseURL, path, status, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (b *Backend) do(ctx context.Context, path string, body []byte, refresh bool) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.cred != nil {
		if refresh {
			if _, err := b.cred.ForceRefresh(ctx); err != nil {
				return 0, nil, err
			}
		}
		if err := b.cred.SetAuthHeader(ctx, req); err != nil {
			return 0, nil, err
		}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

func init() {
	_ = authz.RegisterBackend("roaming", func(conf map[string]any) (authz.Backend, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return New(c)
	})
}
