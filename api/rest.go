package api

import (
	"net/http"
	"sync"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/syslogcore/engine/action"
	"github.com/syslogcore/engine/queue"
	"github.com/syslogcore/engine/statemanager"
)

// QueueRegistry maps queue names to the live *queue.Queue instances backing
// them, so the stats endpoint can look one up by name without the api
// package needing to know how queues were constructed.
type QueueRegistry struct {
	mu     sync.RWMutex
	queues map[string]*queue.Queue
}

// NewQueueRegistry returns an empty QueueRegistry.
func NewQueueRegistry() *QueueRegistry {
	return &QueueRegistry{queues: make(map[string]*queue.Queue)}
}

// Register binds name to q, overwriting any prior binding.
func (r *QueueRegistry) Register(name string, q *queue.Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[name] = q
}

// Get looks up a queue by name.
func (r *QueueRegistry) Get(name string) (*queue.Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	return q, ok
}

// ActionRegistry maps action names to live *action.Action instances.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]*action.Action
}

// NewActionRegistry returns an empty ActionRegistry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string]*action.Action)}
}

// Register binds name to a, overwriting any prior binding.
func (r *ActionRegistry) Register(name string, a *action.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = a
}

// Get looks up an action by name.
func (r *ActionRegistry) Get(name string) (*action.Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Handlers holds the dependencies the admin surface's routes read from.
// JWT is optional and SetupRoutes does not read it: whether the /stats
// routes are guarded depends only on the signingKey SetupRoutes is given.
// Ops is optional too: when set, every /stats
// request is tracked as an operation and the daemon's own recent-request
// history becomes visible under /admin.
type Handlers struct {
	Queues  *QueueRegistry
	Actions *ActionRegistry
	JWT     *JWTService
	Ops     *statemanager.Manager
}

// ActionStats is the JSON shape returned by GET /stats/actions/:name. It is
// assembled from Action's accessor methods rather than exposing the action's
// internal mutex-guarded fields directly.
type ActionStats struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	SubmitMode       string    `json:"submit_mode"`
	LastExec         time.Time `json:"last_exec"`
	FailedResumes    int       `json:"failed_resumes"`
	RecentHistoryLen int       `json:"recent_history_len"`
}

// SetupRoutes registers the read-only admin surface (spec.md §6.5) on e.
// Both endpoints sit under /stats and are mounted behind a JWT guard only
// when signingKey is non-empty; otherwise they are open,
// matching the teacher's pattern of degrading gracefully rather than
// refusing to start when a security feature is left unconfigured. When
// h.Ops is set, /stats requests are tracked as operations and their
// history is exposed read-only under /admin.
func SetupRoutes(e *echo.Echo, h *Handlers, signingKey []byte) {
	group := e.Group("/stats")
	if len(signingKey) > 0 {
		group.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey:  signingKey,
			TokenLookup: "header:Authorization:Bearer ",
		}))
	}
	if h.Ops != nil {
		group.Use(h.Ops.Middleware("stats-read"))
		h.Ops.RegisterRoutes(e.Group("/admin"))
	}

	group.GET("/queues/:name", h.GetQueueStats)
	group.GET("/actions/:name", h.GetActionStats)
}

// GetQueueStats handles GET /stats/queues/:name, returning a queue.Stats
// snapshot.
func (h *Handlers) GetQueueStats(c echo.Context) error {
	name := c.Param("name")
	q, ok := h.Queues.Get(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown queue: "+name)
	}
	return c.JSON(http.StatusOK, q.Stats())
}

// GetActionStats handles GET /stats/actions/:name, returning the action's
// current state, last-execution time, and resume-retry count.
func (h *Handlers) GetActionStats(c echo.Context) error {
	name := c.Param("name")
	a, ok := h.Actions.Get(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown action: "+name)
	}
	return c.JSON(http.StatusOK, ActionStats{
		Name:             a.Name(),
		State:            a.State().String(),
		SubmitMode:       a.SubmitMode().String(),
		LastExec:         a.LastExec(),
		FailedResumes:    a.FailedResumes(),
		RecentHistoryLen: len(a.History().Recent()),
	})
}
