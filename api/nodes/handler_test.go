package nodes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargenet/core/authz"
	"github.com/kilianp07/chargenet/core/authz/local"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/core/network"
	"github.com/kilianp07/chargenet/core/reservation"
)

type stubConn struct {
	id, node string
	created  time.Time
}

func (c stubConn) ID() string                                { return c.id }
func (c stubConn) NodeID() model.NodeID                      { return model.NodeID(c.node) }
func (c stubConn) RemoteAddr() string                        { return "10.0.0.1:5000" }
func (c stubConn) Mode() string                              { return "" }
func (c stubConn) CreatedAt() time.Time                      { return c.created }
func (c stubConn) Alive() bool                               { return true }
func (c stubConn) Send(context.Context, network.Frame) error { return nil }
func (c stubConn) Close(network.CloseCode, string) error     { return nil }

func serve(t *testing.T, h http.Handler, method string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, "/", nil))
	return rr
}

func TestStatusHandler(t *testing.T) {
	reg := network.NewRegistry(nil, nil)
	reg.Register("CS002", stubConn{id: "b", node: "CS002", created: time.Now()})
	reg.Register("CS001", stubConn{id: "a", node: "CS001", created: time.Now()})

	rr := serve(t, NewStatusHandler(reg), http.MethodGet)
	require.Equal(t, http.StatusOK, rr.Code)
	var out []NodeStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, model.NodeID("CS001"), out[0].NodeID)
	assert.Equal(t, "a", out[0].ConnectionID)
	assert.Equal(t, "10.0.0.1:5000", out[1].RemoteAddr)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, NewStatusHandler(reg), http.MethodPost).Code)
}

func TestRoutesHandler(t *testing.T) {
	routes := network.NewRoutingTable(network.NewRegistry(nil, nil))
	require.NoError(t, routes.SetNextHop("CS010", "HUB1"))

	rr := serve(t, NewRoutesHandler(routes), http.MethodGet)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"destination":"CS010","next_hop":"HUB1"}]`, rr.Body.String())
}

func TestReservationsHandler(t *testing.T) {
	store := reservation.NewStore(time.Hour)
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	d := 30 * time.Minute
	_, err := store.Reserve(model.ReservationRequest{ReservationID: "r1", ProviderID: "emp", StartTime: &start, Duration: &d})
	require.NoError(t, err)

	rr := serve(t, NewReservationsHandler(store), http.MethodGet)
	require.Equal(t, http.StatusOK, rr.Code)
	var out []ReservationStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)
	assert.True(t, out[0].EndTime.Equal(start.Add(d)))
}

func TestBackendsHandler(t *testing.T) {
	router := authz.NewRouter(nil, 0, nil, nil)
	b, err := local.New(local.Config{ID: "local"})
	require.NoError(t, err)
	require.NoError(t, router.Register(5, b))

	rr := serve(t, NewBackendsHandler(router), http.MethodGet)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"priority":5,"id":"local"}]`, rr.Body.String())
}
