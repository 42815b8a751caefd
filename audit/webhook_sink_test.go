package audit_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-sso-broker/audit"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
}

func (c *capture) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		if c.status != 0 {
			w.WriteHeader(c.status)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sampleEntry() *audit.Entry {
	return &audit.Entry{
		ID: "e-1", UserID: "u-1", IP: "10.0.0.1", Object: audit.ObjectPage, Action: audit.ActionLogin,
		Attribute: "Page1", Page: "Page1", Created: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSinkSendsEvent(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	sink, err := audit.NewWebhookSink(audit.WebhookSinkConfig{Name: "Page1", URL: srv.URL}, srv.Client())
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), sampleEntry()))

	require.Len(t, c.bodies, 1)
	require.Equal(t, "event", c.bodies[0]["type"])
	require.Equal(t, "login", c.bodies[0]["action"])
}

func TestWebhookSinkProjection(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	sink, err := audit.NewWebhookSink(audit.WebhookSinkConfig{
		Name: "Page1", URL: srv.URL, Projection: "{who: user, what: join('/', [object, action])}",
	}, srv.Client())
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), sampleEntry()))

	require.Equal(t, map[string]any{"who": "u-1", "what": "page/login"}, c.bodies[0])
}

func TestWebhookSinkInvalidProjection(t *testing.T) {
	_, err := audit.NewWebhookSink(audit.WebhookSinkConfig{Name: "x", URL: "http://localhost", Projection: "{{"}, nil)
	require.Error(t, err)
}

func TestWebhookSinkAccepts(t *testing.T) {
	sink, err := audit.NewWebhookSink(audit.WebhookSinkConfig{
		Name: "Page1", URL: "http://localhost", Page: "Page1", Objects: []audit.Object{audit.ObjectPage},
	}, nil)
	require.NoError(t, err)

	e := sampleEntry()
	require.True(t, sink.Accepts(e))
	e.Page = "Page2"
	require.False(t, sink.Accepts(e))
	e.Page = "Page1"
	e.Object = audit.ObjectLogin
	require.False(t, sink.Accepts(e))
}

func TestWebhookSinkUpstreamFailure(t *testing.T) {
	c := &capture{status: http.StatusBadGateway}
	srv := c.server(t)

	sink, err := audit.NewWebhookSink(audit.WebhookSinkConfig{Name: "Page1", URL: srv.URL}, srv.Client())
	require.NoError(t, err)
	require.ErrorIs(t, sink.Heartbeat(context.Background()), apperrors.ErrUpstreamUnavailable)
	require.Equal(t, "heartbeat", c.bodies[0]["type"])
}
