package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
)

type stubSource struct {
	status    core.StatusReport
	positions []core.Position
	posErr    error
	plans     []core.Plan
	rules     []core.ExitRule
	events    []core.Event
	gotLimit  int
}

func (s *stubSource) Health() core.StatusReport { return s.status }

func (s *stubSource) Positions(context.Context) ([]core.Position, error) {
	return s.positions, s.posErr
}

func (s *stubSource) Plans() []core.Plan         { return s.plans }
func (s *stubSource) ExitRules() []core.ExitRule { return s.rules }

func (s *stubSource) RecentEvents(_ context.Context, limit int) ([]core.Event, error) {
	s.gotLimit = limit
	return s.events, nil
}

func serve(t *testing.T, src Source, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(config.APIConfig{Addr: ":0"}, src, logger.Nop())
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthReportsStatus(t *testing.T) {
	src := &stubSource{status: core.StatusReport{Healthy: true, GeneratedAt: time.Now()}}

	rec := serve(t, src, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var got core.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Healthy)
}

func TestHealthDegradedReturns503(t *testing.T) {
	src := &stubSource{status: core.StatusReport{Healthy: false, ExitsOnly: []string{"XAUUSD"}}}

	rec := serve(t, src, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPositionsEndpoint(t *testing.T) {
	src := &stubSource{positions: []core.Position{
		{Ticket: 101, Symbol: "XAUUSD", Side: core.SideBuy, Volume: 0.04},
	}}

	rec := serve(t, src, http.MethodGet, "/positions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "XAUUSD")
}

func TestPositionsBrokerFailure(t *testing.T) {
	src := &stubSource{posErr: errors.New("gateway down")}

	rec := serve(t, src, http.MethodGet, "/positions")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "gateway down")
}

func TestEventsLimitValidation(t *testing.T) {
	src := &stubSource{}

	rec := serve(t, src, http.MethodGet, "/events?limit=5000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, src, http.MethodGet, "/events?limit=25")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, src.gotLimit)

	rec = serve(t, src, http.MethodGet, "/events")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, src.gotLimit)
}

func TestPlansAndExitsEndpoints(t *testing.T) {
	src := &stubSource{
		plans: []core.Plan{{PlanID: "p1", Symbol: "BTCUSD", State: core.PlanPending}},
		rules: []core.ExitRule{{Ticket: 101, Symbol: "XAUUSD", State: core.ExitStateInit}},
	}

	rec := serve(t, src, http.MethodGet, "/plans")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "p1")

	rec = serve(t, src, http.MethodGet, "/exits")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "XAUUSD")
}

func TestHubDropsSlowClients(t *testing.T) {
	hub := NewHub(logger.Nop())
	client := &wsClient{send: make(chan []byte, 1)}
	hub.clients[client] = struct{}{}

	e := core.NewEvent(time.Now(), "exit", core.EventExitTransition, core.SeverityInfo)
	hub.OnEvent(e)
	assert.Equal(t, 1, hub.ClientCount())

	// Second event overflows the stuffed queue and evicts the client.
	hub.OnEvent(e)
	assert.Equal(t, 0, hub.ClientCount())
	_, open := <-client.send
	assert.True(t, open)
	_, open = <-client.send
	assert.False(t, open)
}

func TestHubCloseIsIdempotent(t *testing.T) {
	hub := NewHub(logger.Nop())
	client := &wsClient{send: make(chan []byte, 1)}
	hub.clients[client] = struct{}{}

	hub.Close()
	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())
}
