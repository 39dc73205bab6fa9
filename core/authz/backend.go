package authz

import (
	"context"

	"github.com/kilianp07/chargenet/core/model"
)

// Backend is an authority able to answer authorization and charge detail
// record requests. Implementations may perform network I/O and must honour
// ctx.
type Backend interface {
	ID() string
	AuthorizeStart(ctx context.Context, req model.AuthStartRequest) (model.AuthStartResult, error)
	AuthorizeStop(ctx context.Context, req model.AuthStopRequest) (model.AuthStopResult, error)
	SendChargeDetailRecord(ctx context.Context, cdr model.ChargeDetailRecord) (model.CDRResult, error)
}

// BackendInfo describes a registered backend.
type BackendInfo struct {
	Priority int    `json:"priority"`
	ID       string `json:"id"`
}

// CDRFilter may answer a charge detail record before any backend is asked.
// Returning handled=false lets the record through.
type CDRFilter func(ctx context.Context, cdr model.ChargeDetailRecord) (res model.CDRResult, handled bool)
