package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/chargenet/api/frames"
	"github.com/kilianp07/chargenet/api/nodes"
	"github.com/kilianp07/chargenet/config"
	"github.com/kilianp07/chargenet/core/audit"
	"github.com/kilianp07/chargenet/core/authz"
	coremetrics "github.com/kilianp07/chargenet/core/metrics"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/monitoring"
	"github.com/kilianp07/chargenet/core/network"
	"github.com/kilianp07/chargenet/core/nodeauth"
	"github.com/kilianp07/chargenet/core/reservation"
	"github.com/kilianp07/chargenet/infra/logger"
	"github.com/kilianp07/chargenet/infra/metrics"
	infamon "github.com/kilianp07/chargenet/infra/monitoring"
	"github.com/kilianp07/chargenet/infra/ws"

	// Authorization backends available from configuration.
	_ "github.com/kilianp07/chargenet/core/authz/local"
	_ "github.com/kilianp07/chargenet/infra/mqtt"
	_ "github.com/kilianp07/chargenet/infra/roaming"
)

// Service wires the node endpoint, the network core and the authorization
// router together.
type Service struct {
	Registry   *network.Registry
	Routes     *network.RoutingTable
	Dispatcher *network.Dispatcher
	Auth       *nodeauth.Authenticator
	Router     *authz.Router
	Server     *ws.Server

	audit    audit.Store
	stops    []func()
	promAddr string
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.SetLevel(cfg.Logging.Level)
	logg := logger.New("service")

	mon, err := infamon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	if cfg.Metrics.PrometheusAddress != "" && !hasSink(cfg.Metrics, "prometheus") {
		prom, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sink = coremetrics.NewMultiSink(sink, prom)
	}

	registry := network.NewRegistry(logger.New("registry"), sink)
	routes := network.NewRoutingTable(registry)
	for _, r := range cfg.Routing.Routes {
		if err := routes.SetNextHop(model.NodeID(r.Destination), model.NodeID(r.NextHop)); err != nil {
			return nil, err
		}
	}
	dispatcher := network.NewDispatcher(routes, cfg.Server.SendTimeout(), logger.New("dispatcher"), sink)

	auth, err := nodeauth.New(cfg.NodeAuth, logger.New("node-auth"))
	if err != nil {
		return nil, fmt.Errorf("node auth: %w", err)
	}

	router := authz.NewRouter(
		reservation.NewStore(cfg.Reservations.MaxDuration()),
		cfg.Authz.CallTimeout(),
		logger.New("authz"),
		sink,
	)
	if err := router.RegisterAll(cfg.Authz.Backends); err != nil {
		_ = router.Close()
		return nil, err
	}

	svc := &Service{
		Registry:   registry,
		Routes:     routes,
		Dispatcher: dispatcher,
		Auth:       auth,
		Router:     router,
		promAddr:   cfg.Metrics.PrometheusAddress,
		log:        logg,
	}
	svc.stops = append(svc.stops, metrics.StartFrameCollector(dispatcher, sink, logger.New("metrics")))

	store, err := audit.Open(cfg.Audit)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("audit store: %w", err)
	}
	if store != nil {
		svc.audit = store
		svc.stops = append(svc.stops, audit.NewRecorder(store, logger.New("audit")).Attach(dispatcher))
	}

	svc.Server = ws.NewServer(cfg.Server, cfg.NodeAuth.PathPrefix, auth, registry, dispatcher, logger.New("ws"), sink)
	if cfg.API.Enabled {
		svc.mountAPI(cfg.API.Token)
	}
	return svc, nil
}

func hasSink(cfg coremetrics.Config, typ string) bool {
	for _, s := range cfg.Sinks {
		if s.Type == typ {
			return true
		}
	}
	return false
}

func (s *Service) mountAPI(token string) {
	s.Server.Handle("/api/nodes", bearer(token, nodes.NewStatusHandler(s.Registry)))
	s.Server.Handle("/api/routes", bearer(token, nodes.NewRoutesHandler(s.Routes)))
	s.Server.Handle("/api/reservations", bearer(token, nodes.NewReservationsHandler(s.Router.Reservations())))
	s.Server.Handle("/api/authz/backends", bearer(token, nodes.NewBackendsHandler(s.Router)))
	if s.audit != nil {
		s.Server.Handle("/api/frames", frames.NewHandler(s.audit, token))
	}
}

func bearer(token string, h http.Handler) http.Handler {
	if token == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !frames.Authorized(r, token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// Run serves nodes, and metrics when configured, until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Server.ListenAndServe(ctx) })
	if s.promAddr != "" {
		g.Go(func() error { return metrics.StartPromServer(ctx, s.promAddr) })
	}
	return g.Wait()
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	for _, stop := range s.stops {
		stop()
	}
	s.stops = nil
	var errs []error
	if err := s.Router.Close(); err != nil {
		errs = append(errs, err)
	}
	s.Dispatcher.Close()
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}
