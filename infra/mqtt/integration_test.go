//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargenet/core/model"
	"github.com/kilianp07/chargenet/internal/testutil"
)

// TestBackendAgainstMosquitto runs a request/response exchange through a real
// broker with a scripted remote authority.
func TestBackendAgainstMosquitto(t *testing.T) {
	if !testutil.DockerAvailable() {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	broker, cleanup, err := testutil.StartMosquitto(ctx)
	require.NoError(t, err)
	defer cleanup()

	prefix := "it/authz"
	remote := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("authority"))
	tok := remote.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	defer remote.Disconnect(100)

	sub := remote.Subscribe(prefix+"/request/#", 1, func(c paho.Client, m paho.Message) {
		var req struct {
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(m.Payload(), &req); err != nil {
			return
		}
		out, _ := json.Marshal(map[string]string{"request_id": req.RequestID, "result": "Authorized", "session_id": "IT-1"})
		c.Publish(prefix+"/response", 1, false, out)
	})
	require.True(t, sub.WaitTimeout(5*time.Second))
	require.NoError(t, sub.Error())

	b, err := NewBackend(Config{ID: "it", Broker: broker, ClientID: "chargenet-it", TopicPrefix: prefix, TimeoutMS: 5000})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	// Give the subscription on connect time to settle.
	time.Sleep(200 * time.Millisecond)
	res, err := b.AuthorizeStart(ctx, model.AuthStartRequest{Token: "T"})
	require.NoError(t, err)
	assert.Equal(t, model.Authorized, res.Result)
	assert.Equal(t, model.SessionID("IT-1"), res.SessionID)
}
