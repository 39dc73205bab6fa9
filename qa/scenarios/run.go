package scenarios

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/chargenet/core/authz"
	"github.com/kilianp07/chargenet/core/authz/local"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/reservation"
	"github.com/kilianp07/chargenet/infra/logger"
	"github.com/kilianp07/chargenet/infra/metrics"
)

const (
	opStart = "start"
	opStop  = "stop"
	opCDR   = "cdr"
)

var errUnavailable = errors.New("backend unavailable")

// failingBackend stands for an authorization service that cannot be reached.
type failingBackend struct{ id string }

func (f failingBackend) ID() string { return f.id }

func (f failingBackend) AuthorizeStart(context.Context, model.AuthStartRequest) (model.AuthStartResult, error) {
	return model.AuthStartResult{}, errUnavailable
}

func (f failingBackend) AuthorizeStop(context.Context, model.AuthStopRequest) (model.AuthStopResult, error) {
	return model.AuthStopResult{}, errUnavailable
}

func (f failingBackend) SendChargeDetailRecord(context.Context, model.ChargeDetailRecord) (model.CDRResult, error) {
	return model.CDRResult{}, errUnavailable
}

func RunScenario(t *testing.T, sc *Scenario) {
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}

	router := authz.NewRouter(reservation.NewStore(0), time.Second, logger.NopLogger{}, sink)
	for _, def := range sc.Backends {
		var b authz.Backend = failingBackend{id: def.ID}
		if !def.Fail {
			lb, err := local.New(local.Config{ID: def.ID, Tokens: def.Tokens})
			if err != nil {
				t.Fatalf("backend %s: %v", def.ID, err)
			}
			b = lb
		}
		if err := router.Register(def.Priority, b); err != nil {
			t.Fatalf("register %s: %v", def.ID, err)
		}
	}

	ctx := context.Background()
	sessions := map[string]model.SessionID{}
	for i, st := range sc.Steps {
		token := model.AuthToken(st.Token)
		var result, status, backend string
		switch st.Op {
		case opStart:
			res := router.AuthorizeStart(ctx, model.AuthStartRequest{Token: token})
			result, backend = res.Result.String(), res.BackendID
			if st.SaveSession != "" {
				sessions[st.SaveSession] = res.SessionID
			}
		case opStop:
			res := router.AuthorizeStop(ctx, model.AuthStopRequest{Token: token, SessionID: sessions[st.Session]})
			result, backend = res.Result.String(), res.BackendID
		case opCDR:
			res := router.SendChargeDetailRecord(ctx, model.ChargeDetailRecord{Token: token, SessionID: sessions[st.Session]})
			status, backend = res.Status.String(), res.BackendID
		}
		if st.Expect.Result != "" && result != st.Expect.Result {
			t.Errorf("step %d (%s %s): expected result %s, got %s", i, st.Op, st.Token, st.Expect.Result, result)
		}
		if st.Expect.Status != "" && status != st.Expect.Status {
			t.Errorf("step %d (%s %s): expected status %s, got %s", i, st.Op, st.Token, st.Expect.Status, status)
		}
		if st.Expect.Backend != "" && backend != st.Expect.Backend {
			t.Errorf("step %d (%s %s): expected backend %s, got %s", i, st.Op, st.Token, st.Expect.Backend, backend)
		}
	}

	if got := authorizedDecisions(t, reg); got != sc.Expected.Authorized {
		t.Errorf("scenario %s expected %d authorized decisions, got %d", sc.Name, sc.Expected.Authorized, got)
	}
}

// authorizedDecisions sums the Authorized samples of the decision counter.
func authorizedDecisions(t *testing.T, reg *prometheus.Registry) int {
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	total := 0
	for _, mf := range families {
		if mf.GetName() != "chargenet_authorization_decisions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == model.Authorized.String() {
					total += int(m.GetCounter().GetValue())
				}
			}
		}
	}
	return total
}
