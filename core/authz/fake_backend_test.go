package authz

import (
	"context"
	"sync"

	"github.com/kilianp07/chargenet/core/model"
)

type fakeBackend struct {
	id string

	start model.AuthorizationResult
	stop  model.AuthorizationResult
	cdr   model.CDRStatus
	err   error
	panic bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeBackend) ID() string { return f.id }

func (f *fakeBackend) note(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) fail() error {
	if f.panic {
		panic("backend exploded")
	}
	return f.err
}

func (f *fakeBackend) AuthorizeStart(_ context.Context, req model.AuthStartRequest) (model.AuthStartResult, error) {
	f.note("start")
	if err := f.fail(); err != nil {
		return model.AuthStartResult{}, err
	}
	sid := req.SessionID
	if sid == "" && f.start == model.Authorized {
		sid = model.SessionID("S-" + f.id)
	}
	return model.AuthStartResult{Result: f.start, SessionID: sid}, nil
}

func (f *fakeBackend) AuthorizeStop(_ context.Context, req model.AuthStopRequest) (model.AuthStopResult, error) {
	f.note("stop")
	if err := f.fail(); err != nil {
		return model.AuthStopResult{}, err
	}
	return model.AuthStopResult{Result: f.stop, SessionID: req.SessionID}, nil
}

func (f *fakeBackend) SendChargeDetailRecord(_ context.Context, cdr model.ChargeDetailRecord) (model.CDRResult, error) {
	f.note("cdr")
	if err := f.fail(); err != nil {
		return model.CDRResult{}, err
	}
	return model.CDRResult{Status: f.cdr, SessionID: cdr.SessionID}, nil
}
