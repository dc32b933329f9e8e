package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"styleforge/internal/adapter/repo"
	"styleforge/internal/infra"
	"styleforge/internal/notify"
	"styleforge/internal/poll"
	"styleforge/internal/providers/runpod"
	"styleforge/internal/storage"
	"styleforge/internal/workflow"
)

// App bundles the capabilities the handlers need. Everything is injected so
// tests can swap the store, provider and notifier for in-process fakes.
type App struct {
	Store      repo.Store
	Provider   runpod.Provider
	Builder    *workflow.Builder
	Templates  *workflow.TemplateResolver
	Objects    *storage.Client
	Poller     *poll.Poller
	Dispatcher *notify.Dispatcher
	Config     *infra.Config
	Logger     infra.Logger

	pending sync.WaitGroup
}

// Drain blocks until deferred submissions kicked off by webhook handlers
// have finished. Shutdown and tests use it.
func (a *App) Drain() {
	a.pending.Wait()
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    infra.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code infra.ErrorCode, message string) {
	a.json(w, status, errorBody{Code: code, Message: message})
}
