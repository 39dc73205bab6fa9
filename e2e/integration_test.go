//go:build integration

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/chargenet/core/authz"
	"github.com/kilianp07/chargenet/core/factory"
	"github.com/kilianp07/chargenet/core/metrics"
	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/internal/testutil"
)

const (
	influxOrg    = "e2e_org"
	influxBucket = "e2e_bucket"
	influxToken  = "e2e-admin-token"
)

// startInflux starts an InfluxDB 2.7 container initialised with an
// organisation, bucket and admin token.
func startInflux(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         influxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      influxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": influxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "8086")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

// startAuthority answers every authorization request published under prefix.
func startAuthority(t *testing.T, broker, prefix string) {
	t.Helper()
	remote := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("e2e-authority"))
	tok := remote.Connect()
	require.True(t, tok.WaitTimeout(testutil.MosquittoReadyTimeout))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { remote.Disconnect(100) })

	sub := remote.Subscribe(prefix+"/request/#", 1, func(c paho.Client, m paho.Message) {
		var req struct {
			RequestID string `json:"request_id"`
			Operation string `json:"operation"`
		}
		if err := json.Unmarshal(m.Payload(), &req); err != nil {
			return
		}
		resp := map[string]string{"request_id": req.RequestID, "result": "Authorized", "session_id": "E2E-1"}
		if req.Operation == "cdr" {
			resp = map[string]string{"request_id": req.RequestID, "status": "Forwarded"}
		}
		out, _ := json.Marshal(resp)
		c.Publish(prefix+"/response", 1, false, out)
	})
	require.True(t, sub.WaitTimeout(testutil.MosquittoReadyTimeout))
	require.NoError(t, sub.Error())
}

func countPoints(ctx context.Context, t *testing.T, url, measurement string) int {
	t.Helper()
	client := influxdb2.NewClient(url, influxToken)
	defer client.Close()
	flux := fmt.Sprintf(`from(bucket:"%s") |> range(start:-5m) |> filter(fn: (r) => r._measurement == "%s")`, influxBucket, measurement)
	res, err := client.QueryAPI(influxOrg).Query(ctx, flux)
	if err != nil {
		return 0
	}
	defer res.Close()
	n := 0
	for res.Next() {
		n++
	}
	return n
}

// TestE2E_BrokerAuthorityAndInflux authorizes a session through an MQTT
// authority and checks the decisions land in InfluxDB.
func TestE2E_BrokerAuthorityAndInflux(t *testing.T) {
	if !testutil.DockerAvailable() {
		t.Skip("docker not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	broker, cleanup, err := testutil.StartMosquitto(ctx)
	require.NoError(t, err)
	defer cleanup()
	influxURL := startInflux(ctx, t)

	prefix := "e2e/authz"
	startAuthority(t, broker, prefix)

	cfg := baseConfig(t)
	cfg.Authz.Backends = append(cfg.Authz.Backends, authz.BackendConfig{
		Type:     "mqtt",
		Priority: 1,
		Conf: map[string]any{
			"id":           "broker",
			"broker":       broker,
			"client_id":    "chargenet-e2e",
			"topic_prefix": prefix,
		},
	})
	cfg.Metrics = metrics.Config{Sinks: []factory.ModuleConfig{{
		Type: "influx",
		Conf: map[string]any{"url": influxURL, "token": influxToken, "org": influxOrg, "bucket": influxBucket},
	}}}
	svc := startService(t, cfg)
	time.Sleep(200 * time.Millisecond)

	start := svc.Router.AuthorizeStart(ctx, model.AuthStartRequest{Token: "REMOTE"})
	require.Equal(t, model.Authorized, start.Result)
	assert.Equal(t, "broker", start.BackendID)
	assert.Equal(t, model.SessionID("E2E-1"), start.SessionID)

	cdr := svc.Router.SendChargeDetailRecord(ctx, model.ChargeDetailRecord{SessionID: start.SessionID, Token: "REMOTE"})
	assert.Equal(t, model.CDRForwarded, cdr.Status)

	require.Eventually(t, func() bool {
		return countPoints(ctx, t, influxURL, "authorization_event") >= 2
	}, 20*time.Second, 500*time.Millisecond)
}
