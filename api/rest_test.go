package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syslogcore/engine/action"
	"github.com/syslogcore/engine/executor"
	"github.com/syslogcore/engine/queue"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()

	q, err := queue.New(queue.Config{Name: "main", Type: queue.Direct}, nil)
	require.NoError(t, err)

	qr := NewQueueRegistry()
	qr.Register("main", q)

	a := action.New(action.Config{Name: "audit-sink", Module: &executor.RecordingModule{}})
	ar := NewActionRegistry()
	ar.Register("audit-sink", a)

	return &Handlers{Queues: qr, Actions: ar}
}

func TestGetQueueStatsReturnsSnapshot(t *testing.T) {
	h := newTestHandlers(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/stats/queues/main", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("main")

	require.NoError(t, h.GetQueueStats(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Name":"main"`)
}

func TestGetQueueStatsUnknownQueueReturns404(t *testing.T) {
	h := newTestHandlers(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/stats/queues/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("missing")

	err := h.GetQueueStats(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestGetActionStatsReturnsSnapshot(t *testing.T) {
	h := newTestHandlers(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/stats/actions/audit-sink", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("audit-sink")

	require.NoError(t, h.GetActionStats(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"audit-sink"`)
	assert.Contains(t, rec.Body.String(), `"state":"rdy"`)
}

func TestSetupRoutesMountsJWTGuardOnlyWhenSigningKeyConfigured(t *testing.T) {
	h := newTestHandlers(t)
	e := echo.New()
	SetupRoutes(e, h, nil)

	req := httptest.NewRequest(http.MethodGet, "/stats/queues/main", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetupRoutesRejectsMissingTokenWhenSigningKeyConfigured(t *testing.T) {
	h := newTestHandlers(t)
	e := echo.New()
	SetupRoutes(e, h, []byte("secret"))

	req := httptest.NewRequest(http.MethodGet, "/stats/queues/main", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
