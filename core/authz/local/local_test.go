package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargenet/core/authz"
	"github.com/kilianp07/chargenet/core/model"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{Tokens: map[string]string{"T-OK": "authorized", "T-BLK": "Blocked"}})
	require.NoError(t, err)
	return b
}

func TestAuthorizeStart(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	res, err := b.AuthorizeStart(ctx, model.AuthStartRequest{Token: "nope"})
	require.NoError(t, err)
	assert.Equal(t, model.NotAuthorized, res.Result)
	assert.Equal(t, DescUnknownToken, res.Description)

	res, err = b.AuthorizeStart(ctx, model.AuthStartRequest{Token: "T-BLK"})
	require.NoError(t, err)
	assert.Equal(t, model.Blocked, res.Result)
	assert.Equal(t, DescBlockedToken, res.Description)

	res, err = b.AuthorizeStart(ctx, model.AuthStartRequest{Token: "T-OK"})
	require.NoError(t, err)
	assert.Equal(t, model.Authorized, res.Result)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "local", res.BackendID)

	sessions := b.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, res.SessionID, sessions[0].ID)
	assert.Equal(t, model.AuthToken("T-OK"), sessions[0].Token)
}

func TestAuthorizeStartKeepsGivenSessionID(t *testing.T) {
	b := newBackend(t)
	res, err := b.AuthorizeStart(context.Background(), model.AuthStartRequest{Token: "T-OK", SessionID: "S-42"})
	require.NoError(t, err)
	assert.Equal(t, model.SessionID("S-42"), res.SessionID)
}

func TestAuthorizeStartDoesNotReplaceOpenSession(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	require.NoError(t, b.AddToken("T-OTHER", model.Authorized))

	first, err := b.AuthorizeStart(ctx, model.AuthStartRequest{Token: "T-OK", SessionID: "S-1"})
	require.NoError(t, err)
	require.Equal(t, model.Authorized, first.Result)

	second, err := b.AuthorizeStart(ctx, model.AuthStartRequest{Token: "T-OTHER", SessionID: "S-1"})
	require.NoError(t, err)
	assert.Equal(t, model.NotAuthorized, second.Result)
	assert.Equal(t, DescSessionExists, second.Description)

	stop, err := b.AuthorizeStop(ctx, model.AuthStopRequest{SessionID: "S-1", Token: "T-OK"})
	require.NoError(t, err)
	assert.Equal(t, model.Authorized, stop.Result)
}

func TestAuthorizeStop(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	start, _ := b.AuthorizeStart(ctx, model.AuthStartRequest{Token: "T-OK"})

	res, _ := b.AuthorizeStop(ctx, model.AuthStopRequest{SessionID: "unknown", Token: "T-OK"})
	assert.Equal(t, model.NotAuthorized, res.Result)
	assert.Equal(t, DescInvalidSession, res.Description)

	res, _ = b.AuthorizeStop(ctx, model.AuthStopRequest{SessionID: start.SessionID, Token: "T-BLK"})
	assert.Equal(t, model.NotAuthorized, res.Result)
	assert.Equal(t, DescTokenMismatch, res.Description)

	res, _ = b.AuthorizeStop(ctx, model.AuthStopRequest{SessionID: start.SessionID, Token: "T-OK"})
	assert.Equal(t, model.Authorized, res.Result)
	assert.Len(t, b.Sessions(), 1, "stop keeps the session until the record arrives")
}

func TestSendChargeDetailRecord(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	start, _ := b.AuthorizeStart(ctx, model.AuthStartRequest{Token: "T-OK"})

	res, _ := b.SendChargeDetailRecord(ctx, model.ChargeDetailRecord{SessionID: "unknown", Token: "T-OK"})
	assert.Equal(t, model.CDRRejected, res.Status)
	assert.Equal(t, DescInvalidSession, res.Description)

	res, _ = b.SendChargeDetailRecord(ctx, model.ChargeDetailRecord{SessionID: start.SessionID, Token: "other"})
	assert.Equal(t, model.CDRRejected, res.Status)
	assert.Equal(t, DescTokenMismatch, res.Description)

	res, _ = b.SendChargeDetailRecord(ctx, model.ChargeDetailRecord{SessionID: start.SessionID, Token: "T-OK"})
	assert.Equal(t, model.CDRForwarded, res.Status)
	assert.Empty(t, b.Sessions())

	res, _ = b.SendChargeDetailRecord(ctx, model.ChargeDetailRecord{SessionID: start.SessionID, Token: "T-OK"})
	assert.Equal(t, model.CDRRejected, res.Status)
}

func TestTokenManagement(t *testing.T) {
	b := newBackend(t)
	require.Error(t, b.AddToken("x", model.NotAuthorized))
	require.NoError(t, b.AddToken("x", model.Blocked))
	res, _ := b.AuthorizeStart(context.Background(), model.AuthStartRequest{Token: "x"})
	assert.Equal(t, model.Blocked, res.Result)

	b.RemoveToken("x")
	res, _ = b.AuthorizeStart(context.Background(), model.AuthStartRequest{Token: "x"})
	assert.Equal(t, model.NotAuthorized, res.Result)
}

func TestSessionsOrdered(t *testing.T) {
	b := newBackend(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	b.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }
	for _, id := range []model.SessionID{"c", "a", "b"} {
		_, err := b.AuthorizeStart(context.Background(), model.AuthStartRequest{Token: "T-OK", SessionID: id})
		require.NoError(t, err)
	}
	var ids []model.SessionID
	for _, s := range b.Sessions() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []model.SessionID{"c", "a", "b"}, ids)
}

func TestNewRejectsInvalidStatus(t *testing.T) {
	_, err := New(Config{Tokens: map[string]string{"T": "maybe"}})
	require.Error(t, err)
}

func TestFactoryRegistration(t *testing.T) {
	b, err := authz.NewBackend(authz.BackendConfig{
		Type: "local",
		Conf: map[string]any{"id": "fallback", "tokens": map[string]any{"T": "authorized"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", b.ID())
}

// Hubject-like remote blocks, local authorizes: the router answers Blocked
// without asking the local backend.
func TestRouterBlockedBeforeLocal(t *testing.T) {
	remote, err := New(Config{ID: "remote", Tokens: map[string]string{"T": "blocked"}})
	require.NoError(t, err)
	lb, err := New(Config{Tokens: map[string]string{"T": "authorized"}})
	require.NoError(t, err)

	r := authz.NewRouter(nil, time.Second, nil, nil)
	require.NoError(t, r.Register(1, remote))
	require.NoError(t, r.Register(2, lb))

	res := r.AuthorizeStart(context.Background(), model.AuthStartRequest{Token: "T"})
	assert.Equal(t, model.Blocked, res.Result)
	assert.Equal(t, "remote", res.BackendID)
	assert.Empty(t, lb.Sessions())
}

func TestRouterFullSessionLifecycle(t *testing.T) {
	lb := newBackend(t)
	r := authz.NewRouter(nil, time.Second, nil, nil)
	require.NoError(t, r.Register(1, lb))
	ctx := context.Background()

	start := r.AuthorizeStart(ctx, model.AuthStartRequest{Token: "T-OK"})
	require.Equal(t, model.Authorized, start.Result)
	id, ok := r.StickyBackend(start.SessionID)
	require.True(t, ok)
	assert.Equal(t, "local", id)

	stop := r.AuthorizeStop(ctx, model.AuthStopRequest{SessionID: start.SessionID, Token: "T-OK"})
	assert.Equal(t, model.Authorized, stop.Result)

	cdr := r.SendChargeDetailRecord(ctx, model.ChargeDetailRecord{SessionID: start.SessionID, Token: "T-OK", EnergyKWh: 12.5})
	assert.Equal(t, model.CDRForwarded, cdr.Status)
	_, ok = r.StickyBackend(start.SessionID)
	assert.False(t, ok)
}
