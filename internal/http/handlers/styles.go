package handlers

import (
	"net/http"

	"styleforge/internal/infra"
	"styleforge/internal/workflow"
)

// Styles lists the installed style presets.
func (a *App) Styles(w http.ResponseWriter, r *http.Request) {
	styles, err := a.Templates.ListStyles()
	if err != nil {
		a.error(w, http.StatusInternalServerError, infra.CodeInternal, "failed to list styles")
		return
	}
	if styles == nil {
		styles = []workflow.Style{}
	}
	a.json(w, http.StatusOK, map[string]any{"styles": styles})
}
