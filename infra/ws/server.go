// Package ws accepts node connections over websockets, authenticates them
// and plugs them into the connection registry and the dispatcher.
package ws

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/chargenet/core/logger"
	"github.com/kilianp07/chargenet/core/metrics"
	"github.com/kilianp07/chargenet/core/network"
	"github.com/kilianp07/chargenet/core/nodeauth"
)

const (
	reasonPolicyViolation = "policy violation"
	reasonShutdown        = "server shutting down"
	authRealm             = `Basic realm="chargenet"`
)

// Server upgrades node handshakes into registered connections.
type Server struct {
	cfg        Config
	auth       *nodeauth.Authenticator
	registry   *network.Registry
	dispatcher *network.Dispatcher
	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	baseCtx    context.Context
	log        logger.Logger
	metrics    metrics.Sink
}

// NewServer creates a websocket server. Handshakes are served on the subtree
// rooted at path.
func NewServer(cfg Config, path string, auth *nodeauth.Authenticator, reg *network.Registry, d *network.Dispatcher, log logger.Logger, sink metrics.Sink) *Server {
	cfg.SetDefaults()
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	s := &Server{
		cfg:        cfg,
		auth:       auth,
		registry:   reg,
		dispatcher: d,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.WriteTimeout(),
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		mux:     http.NewServeMux(),
		baseCtx: context.Background(),
		log:     logger.OrNop(log),
		metrics: metrics.OrNop(sink),
	}
	s.mux.Handle(path, s)
	return s
}

// Handle registers an additional HTTP handler next to the websocket endpoint.
func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.mux }

// ServeHTTP evaluates the handshake and, when accepted, runs the connection
// until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d := s.auth.Evaluate(nodeauth.FromRequest(r))
	switch d.Outcome {
	case nodeauth.RejectedBadRequest:
		s.reject(d)
		http.Error(w, d.Err.Error(), http.StatusBadRequest)
		return
	case nodeauth.RejectedUnauthorized:
		s.reject(d)
		w.Header().Set("WWW-Authenticate", authRealm)
		http.Error(w, d.Err.Error(), http.StatusUnauthorized)
		return
	case nodeauth.RejectedPolicyViolation:
		s.reject(d)
		s.closeUnidentified(w, r, d.Subprotocol)
		return
	}

	hdr := http.Header{}
	hdr.Set("Sec-Websocket-Protocol", d.Subprotocol)
	wsc, err := s.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		s.log.Warnf("upgrade for %s failed: %v", d.NodeID, err)
		return
	}
	c := newConn(wsc, d.NodeID, d.Mode, s.cfg, s.log)
	go c.writeLoop()
	s.registry.Register(d.NodeID, c)
	s.log.Infow("node connected", map[string]any{
		"node": d.NodeID, "connection": c.ID(), "remote": c.RemoteAddr(),
		"subprotocol": d.Subprotocol, "mode": d.Mode, "auth": string(d.AuthenticatedBy),
	})
	s.readLoop(c)
}

func (s *Server) reject(d nodeauth.Decision) {
	ev := metrics.ConnectionEvent{NodeID: d.NodeID, Action: metrics.ConnRejected, Reason: d.Outcome.String(), Time: time.Now()}
	if err := s.metrics.RecordConnection(ev); err != nil {
		s.log.Errorf("connection metrics error: %v", err)
	}
}

func (s *Server) closeUnidentified(w http.ResponseWriter, r *http.Request, proto string) {
	hdr := http.Header{}
	hdr.Set("Sec-Websocket-Protocol", proto)
	wsc, err := s.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(int(network.ClosePolicyViolation), reasonPolicyViolation)
	_ = wsc.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout()))
	_ = wsc.Close()
}

func (s *Server) readLoop(c *conn) {
	defer func() {
		c.markDead()
		if s.registry.Release(c) {
			s.log.Infof("node %s disconnected (%s)", c.NodeID(), c.ID())
		}
	}()
	wsc := c.ws
	wsc.SetReadLimit(s.cfg.ReadLimitBytes)
	deadline := func() {
		if c.pingInterval > 0 {
			_ = wsc.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
		}
	}
	deadline()
	wsc.SetPongHandler(func(string) error { deadline(); return nil })
	for {
		mt, data, err := wsc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.Alive() {
				s.log.Warnf("read from %s (%s): %v", c.NodeID(), c.ID(), err)
			}
			return
		}
		deadline()
		var f network.Frame
		switch mt {
		case websocket.TextMessage:
			f, err = network.NewJSONFrame(data)
			if err != nil {
				s.log.Warnf("dropping frame from %s: %v", c.NodeID(), err)
				continue
			}
		case websocket.BinaryMessage:
			f = network.NewBinaryFrame(data)
		default:
			continue
		}
		s.dispatcher.Receive(s.baseCtx, c, f)
	}
}

// ListenAndServe serves until ctx is cancelled, then closes every registered
// connection with a going-away status.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{Addr: s.cfg.Address, Handler: s.mux, ReadHeaderTimeout: s.cfg.WriteTimeout()}
	if s.cfg.TLSCertFile != "" {
		tc, err := s.tlsConfig()
		if err != nil {
			return err
		}
		srv.TLSConfig = tc
	}
	go func() {
		<-ctx.Done()
		s.registry.CloseAll(reasonShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("websocket server shutdown: %v", err)
		}
		cancel()
	}()
	s.log.Infof("listening for nodes on %s", s.cfg.Address)
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.cfg.ClientCAFile == "" {
		return tc, nil
	}
	pem, err := os.ReadFile(s.cfg.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client CA %s: no certificates found", s.cfg.ClientCAFile)
	}
	tc.ClientCAs = pool
	tc.ClientAuth = tls.VerifyClientCertIfGiven
	return tc, nil
}
