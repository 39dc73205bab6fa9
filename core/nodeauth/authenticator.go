package nodeauth

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kilianp07/chargenet/core/logger"
	"github.com/kilianp07/chargenet/core/model"
)

var (
	// ErrNoSubprotocol is returned when the client offers no supported subprotocol.
	ErrNoSubprotocol = errors.New("no supported subprotocol")
	// ErrUnidentified is returned when no node identity could be resolved.
	ErrUnidentified = errors.New("node identity not resolved")
	// ErrUnauthorized is returned when every authentication scheme failed.
	ErrUnauthorized = errors.New("unauthorized")
)

// Outcome is the verdict on a handshake.
type Outcome int

const (
	Accepted Outcome = iota
	RejectedBadRequest
	RejectedPolicyViolation
	RejectedUnauthorized
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedBadRequest:
		return "bad_request"
	case RejectedPolicyViolation:
		return "policy_violation"
	case RejectedUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Scheme names the mechanism that identified or authenticated a node.
type Scheme string

const (
	SchemeNone          Scheme = "none"
	SchemeTLSCert       Scheme = "tls_certificate"
	SchemeBasic         Scheme = "basic"
	SchemePath          Scheme = "path"
	SchemeQueryUser     Scheme = "query_user"
	SchemeTOTPHeader    Scheme = "totp_header"
	SchemeQueryPassword Scheme = "query_password"
	SchemeQueryTOTP     Scheme = "query_totp"
)

// Handshake is the part of an inbound upgrade request the authenticator
// looks at.
type Handshake struct {
	URL        *url.URL
	Header     http.Header
	TLS        *tls.ConnectionState
	RemoteAddr string
}

// FromRequest extracts the handshake from an HTTP upgrade request.
func FromRequest(r *http.Request) Handshake {
	return Handshake{URL: r.URL, Header: r.Header, TLS: r.TLS, RemoteAddr: r.RemoteAddr}
}

// Decision is the complete verdict on a handshake.
type Decision struct {
	Outcome         Outcome
	NodeID          model.NodeID
	Subprotocol     string
	Mode            string
	IdentifiedBy    Scheme
	AuthenticatedBy Scheme
	Err             error
}

// Authenticator evaluates the fixed identification and authentication chain.
type Authenticator struct {
	cfg   Config
	creds *CredentialStore
	totp  *TOTP
	now   func() time.Time
	log   logger.Logger
}

// New creates an Authenticator. cfg is copied and defaulted.
func New(cfg Config, log logger.Logger) (*Authenticator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	totp, err := NewTOTP(cfg.TOTP)
	if err != nil {
		return nil, err
	}
	return &Authenticator{
		cfg:   cfg,
		creds: NewCredentialStore(cfg.Credentials),
		totp:  totp,
		now:   time.Now,
		log:   logger.OrNop(log),
	}, nil
}

// Credentials exposes the credential store for runtime administration.
func (a *Authenticator) Credentials() *CredentialStore { return a.creds }

// TOTP returns the one-time-code generator.
func (a *Authenticator) TOTP() *TOTP { return a.totp }

// Subprotocols returns the supported subprotocols in preference order.
func (a *Authenticator) Subprotocols() []string {
	return append([]string(nil), a.cfg.Subprotocols...)
}

// NegotiateSubprotocol picks the first supported subprotocol the client
// offered.
func (a *Authenticator) NegotiateSubprotocol(h Handshake) (string, error) {
	offered := map[string]bool{}
	for _, v := range h.Header.Values("Sec-Websocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				offered[p] = true
			}
		}
	}
	for _, p := range a.cfg.Subprotocols {
		if offered[p] {
			return p, nil
		}
	}
	return "", ErrNoSubprotocol
}

// Identify resolves the node id: TLS peer certificate common name, Basic
// Authentication username, last path segment, then query parameter u. The
// first source that yields a value decides; a reserved id there means the
// node is unidentified.
func (a *Authenticator) Identify(h Handshake) (model.NodeID, Scheme, bool) {
	id, by := a.identity(h)
	if by == SchemeNone || id.IsZero() || id.IsBroadcast() {
		return model.ZeroNode, SchemeNone, false
	}
	return id, by, true
}

func (a *Authenticator) identity(h Handshake) (model.NodeID, Scheme) {
	if h.TLS != nil && len(h.TLS.PeerCertificates) > 0 {
		if cn := h.TLS.PeerCertificates[0].Subject.CommonName; cn != "" {
			return model.NodeID(cn), SchemeTLSCert
		}
	}
	if user, _, ok := basicAuth(h.Header); ok && user != "" {
		return model.NodeID(user), SchemeBasic
	}
	if seg := a.pathIdentity(h.URL); seg != "" {
		return model.NodeID(seg), SchemePath
	}
	if h.URL != nil {
		if u := h.URL.Query().Get("u"); u != "" {
			return model.NodeID(u), SchemeQueryUser
		}
	}
	return model.ZeroNode, SchemeNone
}

// Authenticate tries Basic Authentication, the one-time-code header, query
// username/password and query username/one-time-code in this order. Nodes
// identified by a TLS client certificate are trusted without further checks.
func (a *Authenticator) Authenticate(h Handshake, id model.NodeID, identifiedBy Scheme) (Scheme, bool) {
	if identifiedBy == SchemeTLSCert {
		return SchemeTLSCert, true
	}
	if user, pass, ok := basicAuth(h.Header); ok && model.NodeID(user) == id {
		if a.creds.CheckPassword(id, pass) {
			return SchemeBasic, true
		}
	}
	now := a.now()
	if code := h.Header.Get(a.cfg.TOTPHeader); code != "" {
		if secret, ok := a.creds.TOTPSecret(id); ok && a.totp.Verify(secret, code, now) {
			return SchemeTOTPHeader, true
		}
	}
	if h.URL != nil {
		q := h.URL.Query()
		if model.NodeID(q.Get("u")) == id {
			if p := q.Get("p"); p != "" && a.creds.CheckPassword(id, p) {
				return SchemeQueryPassword, true
			}
			if code := q.Get("totp"); code != "" {
				if secret, ok := a.creds.TOTPSecret(id); ok && a.totp.Verify(secret, code, now) {
					return SchemeQueryTOTP, true
				}
			}
		}
	}
	return SchemeNone, false
}

// Evaluate runs subprotocol negotiation, identification and, when required,
// authentication.
func (a *Authenticator) Evaluate(h Handshake) Decision {
	d := Decision{Mode: h.Header.Get(a.cfg.ModeHeader)}
	proto, err := a.NegotiateSubprotocol(h)
	if err != nil {
		d.Outcome, d.Err = RejectedBadRequest, err
		a.log.Warnf("handshake from %s rejected: %v", h.RemoteAddr, err)
		return d
	}
	d.Subprotocol = proto

	id, by, ok := a.Identify(h)
	if !ok {
		d.Outcome, d.Err = RejectedPolicyViolation, ErrUnidentified
		a.log.Warnf("handshake from %s rejected: %v", h.RemoteAddr, ErrUnidentified)
		return d
	}
	d.NodeID, d.IdentifiedBy = id, by

	if !a.cfg.RequireAuth {
		d.AuthenticatedBy = SchemeNone
		return d
	}
	scheme, ok := a.Authenticate(h, id, by)
	if !ok {
		d.Outcome, d.Err = RejectedUnauthorized, ErrUnauthorized
		a.log.Warnf("handshake of %s from %s rejected: %v", id, h.RemoteAddr, ErrUnauthorized)
		return d
	}
	d.AuthenticatedBy = scheme
	a.log.Debugf("node %s identified by %s, authenticated by %s", id, by, scheme)
	return d
}

func (a *Authenticator) pathIdentity(u *url.URL) string {
	if u == nil {
		return ""
	}
	prefix := strings.TrimSuffix(a.cfg.PathPrefix, "/")
	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return ""
	}
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		rest = rest[i+1:]
	}
	if seg, err := url.PathUnescape(rest); err == nil {
		return seg
	}
	return rest
}

func basicAuth(h http.Header) (user, pass string, ok bool) {
	r := http.Request{Header: h}
	return r.BasicAuth()
}
