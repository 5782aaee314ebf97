// Package api exposes the Guard to collaborators over JSON/HTTP.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/animus-labs/dataguard/internal/audit"
	"github.com/animus-labs/dataguard/internal/catalog"
	"github.com/animus-labs/dataguard/internal/governance"
	"github.com/animus-labs/dataguard/internal/logstore"
	"github.com/animus-labs/dataguard/internal/platform/httpserver"
	"github.com/animus-labs/dataguard/internal/risk"
)

type API struct {
	logger *slog.Logger
	guard  *governance.Guard
}

func New(logger *slog.Logger, guard *governance.Guard) *API {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &API{logger: logger, guard: guard}
}

func (api *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/validate/insert", api.handleValidateInsert)
	mux.HandleFunc("POST /v1/validate/update", api.handleValidateUpdate)
	mux.HandleFunc("POST /v1/assess", api.handleAssess)
	mux.HandleFunc("GET /v1/risk/warnings", api.handleListWarnings)
	mux.HandleFunc("POST /v1/risk/warnings/{warning_id}/resolve", api.handleResolveWarning)
	mux.HandleFunc("POST /v1/audit/{operation}", api.handleAudit)
	mux.HandleFunc("GET /v1/audit/pending", api.handleAuditPending)
	mux.HandleFunc("POST /v1/flush", api.handleFlush)
	mux.HandleFunc("GET /v1/logs", api.handleListStreams)
	mux.HandleFunc("GET /v1/catalog", api.handleCatalog)
}

type validateInsertRequest struct {
	EntityType string           `json:"entity_type"`
	Records    []map[string]any `json:"records"`
}

type validateUpdateRequest struct {
	EntityType string         `json:"entity_type"`
	Record     map[string]any `json:"record"`
	Filter     map[string]any `json:"filter"`
}

// Verdicts are always 200: an invalid record is an answer, not a failed request.
func (api *API) handleValidateInsert(w http.ResponseWriter, r *http.Request) {
	var req validateInsertRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	entityType := strings.TrimSpace(req.EntityType)
	if entityType == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "entity_type_required", "entity_type is required")
		return
	}
	v := api.guard.ValidateBeforeInsert(r.Context(), entityType, req.Records...)
	httpserver.WriteJSON(w, http.StatusOK, v)
}

func (api *API) handleValidateUpdate(w http.ResponseWriter, r *http.Request) {
	var req validateUpdateRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	entityType := strings.TrimSpace(req.EntityType)
	if entityType == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "entity_type_required", "entity_type is required")
		return
	}
	if req.Record == nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "record_required", "record is required")
		return
	}
	v := api.guard.ValidateBeforeUpdate(r.Context(), entityType, req.Record, req.Filter)
	httpserver.WriteJSON(w, http.StatusOK, v)
}

// assessRequest accepts field names directly, or payload/filter objects
// whose keys are used as field names.
type assessRequest struct {
	risk.OperationDescriptor
	Payload map[string]any `json:"payload,omitempty"`
	Filter  map[string]any `json:"filter,omitempty"`
}

func (api *API) handleAssess(w http.ResponseWriter, r *http.Request) {
	var req assessRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	kind, ok := risk.ParseKind(string(req.Kind))
	if !ok {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_kind", "kind must be one of INSERT, UPDATE, DELETE, SELECT")
		return
	}
	d := req.OperationDescriptor
	d.Kind = kind
	d.EntityType = strings.TrimSpace(d.EntityType)
	if d.EntityType == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "entity_type_required", "entity_type is required")
		return
	}
	if req.Payload != nil || req.Filter != nil {
		derived := risk.Describe(kind, d.EntityType, req.Payload, req.Filter)
		d.PayloadFields = append(d.PayloadFields, derived.PayloadFields...)
		d.FilterFields = append(d.FilterFields, derived.FilterFields...)
	}

	warnings := api.guard.AssessOperation(d)
	if warnings == nil {
		warnings = []risk.Warning{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

func (api *API) handleListWarnings(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"warnings": api.guard.Risk().Recent()})
}

func (api *API) handleResolveWarning(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("warning_id"))
	if !api.guard.Risk().Resolve(id) {
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found", "warning is unknown or no longer retained")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	var record func(*http.Request, audit.Event) *audit.Record
	switch r.PathValue("operation") {
	case "create":
		record = func(r *http.Request, ev audit.Event) *audit.Record { return api.guard.RecordCreate(r.Context(), ev) }
	case "update":
		record = func(r *http.Request, ev audit.Event) *audit.Record { return api.guard.RecordUpdate(r.Context(), ev) }
	case "delete":
		record = func(r *http.Request, ev audit.Event) *audit.Record { return api.guard.RecordDelete(r.Context(), ev) }
	default:
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found", "operation must be create, update or delete")
		return
	}

	var ev audit.Event
	if err := httpserver.DecodeJSON(r, &ev); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := ev.Validate(); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}

	rec := record(r, ev)
	if rec == nil {
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{
			"recorded": false,
			"pending":  len(api.guard.Audit().Pending()),
		})
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, map[string]any{
		"recorded": true,
		"record":   rec,
	})
}

func (api *API) handleAuditPending(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"pending": api.guard.Audit().Pending()})
}

func (api *API) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := api.guard.FlushAll(r.Context()); err != nil {
		api.logger.Error("flush failed", "error", err)
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "flush_failed", err.Error())
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"status": "flushed"})
}

func (api *API) handleListStreams(w http.ResponseWriter, r *http.Request) {
	store := api.guard.Log()
	keys := store.Keys()
	streams := make([]logstore.Status, 0, len(keys))
	for _, k := range keys {
		if st, ok := store.Stat(k); ok {
			streams = append(streams, st)
		}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

func (api *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat := api.guard.Catalog()
	sets := make([]catalog.RuleSet, 0)
	for _, name := range cat.EntityTypes() {
		if rs, ok := cat.Lookup(name); ok {
			sets = append(sets, rs)
		}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"schema": catalog.SchemaV1, "rule_sets": sets})
}
