package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pantryhq/pantry/internal/crud"
	"github.com/pantryhq/pantry/internal/dietlog"
	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/schema"
)

// maxBodyBytes bounds request bodies. A full bulk batch fits comfortably.
const maxBodyBytes = 4 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	store   domain.Store
	cache   domain.Cache
	engine  *crud.Engine
	diets   *dietlog.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(store domain.Store, cache domain.Cache, engine *crud.Engine, diets *dietlog.Service, version string) *Handler {
	return &Handler{
		store:   store,
		cache:   cache,
		engine:  engine,
		diets:   diets,
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check store health
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// EntityInfo describes one registered entity.
type EntityInfo struct {
	Name       string `json:"name"`
	TenantMode string `json:"tenantMode"`
	Visibility string `json:"visibility"`
}

// ListEntities handles GET /v1/entities.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	names := h.engine.Names()
	infos := make([]EntityInfo, 0, len(names))
	for _, name := range names {
		ops, _ := h.engine.Entity(name)
		e := ops.Entity()
		infos = append(infos, EntityInfo{
			Name:       name,
			TenantMode: string(e.TenantMode),
			Visibility: string(e.Visibility),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entities": infos,
		"count":    len(infos),
	})
}

// SchemaResponse describes the accepted input of an entity.
type SchemaResponse struct {
	Entity        string             `json:"entity"`
	IdentityField string             `json:"identityField"`
	TenantMode    string             `json:"tenantMode"`
	Create        []schema.FieldInfo `json:"create"`
	Update        []schema.FieldInfo `json:"update"`
}

// Schema handles GET /v1/{entity}/_schema.
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	ops, ok := h.operations(w, r)
	if !ok {
		return
	}
	e := ops.Entity()
	writeJSON(w, http.StatusOK, SchemaResponse{
		Entity:        e.Name,
		IdentityField: e.IdentityField,
		TenantMode:    string(e.TenantMode),
		Create:        e.Contracts.Create.Fields(),
		Update:        e.Contracts.Update.Fields(),
	})
}

// List handles GET /v1/{entity}. Query parameters other than limit and
// offset filter by field equality.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ops, ok := h.operations(w, r)
	if !ok {
		return
	}

	opts := crud.ListOptions{Filters: make(map[string]string)}
	problems := make(map[string]string)
	for key, values := range r.URL.Query() {
		switch key {
		case "limit", "offset":
			n, err := strconv.Atoi(values[0])
			if err != nil {
				problems[key] = "must be an integer"
				continue
			}
			if key == "limit" {
				// Zero means "default" to the engine, so an explicit zero is
				// rejected here.
				if n < 1 || n > crud.MaxLimit {
					problems[key] = fmt.Sprintf("must be between 1 and %d", crud.MaxLimit)
					continue
				}
				opts.Limit = n
			} else {
				opts.Offset = n
			}
		default:
			opts.Filters[key] = values[0]
		}
	}
	if len(problems) > 0 {
		writeError(w, &domain.ValidationError{Entity: ops.Entity().Name, Fields: problems})
		return
	}

	rows, err := ops.List(r.Context(), GetTenant(r.Context()), opts)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := opts.Limit
	if limit == 0 {
		limit = crud.DefaultLimit
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   rows,
		"count":  len(rows),
		"limit":  limit,
		"offset": opts.Offset,
	})
}

// Get handles GET /v1/{entity}/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ops, ok := h.operations(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	rec, err := ops.GetByID(r.Context(), GetTenant(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeError(w, &domain.NotFoundError{Entity: ops.Entity().Name, ID: id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": rec})
}

// Create handles POST /v1/{entity}.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ops, ok := h.operations(w, r)
	if !ok {
		return
	}
	var fields domain.Record
	if !decodeBody(w, r, &fields) {
		return
	}

	rec, err := ops.Create(r.Context(), GetTenant(r.Context()), fields)
	writeRecord(w, http.StatusCreated, rec, err)
}

// Update handles PATCH /v1/{entity}/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ops, ok := h.operations(w, r)
	if !ok {
		return
	}
	var fields domain.Record
	if !decodeBody(w, r, &fields) {
		return
	}

	rec, err := ops.Update(r.Context(), GetTenant(r.Context()), chi.URLParam(r, "id"), fields)
	writeRecord(w, http.StatusOK, rec, err)
}

// Delete handles DELETE /v1/{entity}/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ops, ok := h.operations(w, r)
	if !ok {
		return
	}

	result, err := ops.Delete(r.Context(), GetTenant(r.Context()), chi.URLParam(r, "id"))
	if err != nil && !domain.IsCommitted(err) {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"success": result.Success, "id": result.ID}
	if err != nil {
		resp["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// BulkCreateRequest is the request body for POST /v1/{entity}/_bulk.
type BulkCreateRequest struct {
	Rows    []domain.Record    `json:"rows"`
	Options domain.BulkOptions `json:"options"`
}

// BulkCreate handles POST /v1/{entity}/_bulk.
func (h *Handler) BulkCreate(w http.ResponseWriter, r *http.Request) {
	ops, ok := h.operations(w, r)
	if !ok {
		return
	}
	var req BulkCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := ops.BulkCreate(r.Context(), GetTenant(r.Context()), req.Rows, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BulkDeleteRequest is the request body for POST /v1/{entity}/_bulk-delete.
type BulkDeleteRequest struct {
	IDs     []string           `json:"ids"`
	Options domain.BulkOptions `json:"options"`
}

// BulkDelete handles POST /v1/{entity}/_bulk-delete.
func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	ops, ok := h.operations(w, r)
	if !ok {
		return
	}
	var req BulkDeleteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := ops.BulkDelete(r.Context(), GetTenant(r.Context()), req.IDs, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AssignDietRequest is the request body for POST /v1/diners/{id}/diet.
type AssignDietRequest struct {
	DietID        string `json:"dietId"`
	EffectiveDate string `json:"effectiveDate,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// AssignDiet handles POST /v1/diners/{id}/diet.
func (h *Handler) AssignDiet(w http.ResponseWriter, r *http.Request) {
	var req AssignDietRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := h.diets.Assign(r.Context(), GetTenant(r.Context()), dietlog.AssignRequest{
		DinerID:       chi.URLParam(r, "id"),
		DietID:        req.DietID,
		EffectiveDate: req.EffectiveDate,
		Reason:        req.Reason,
	})
	writeRecord(w, http.StatusOK, rec, err)
}

// DischargeRequest is the optional request body for
// POST /v1/diners/{id}/discharge.
type DischargeRequest struct {
	AsOf string `json:"asOf,omitempty"`
}

// Discharge handles POST /v1/diners/{id}/discharge.
func (h *Handler) Discharge(w http.ResponseWriter, r *http.Request) {
	var req DischargeRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	rec, err := h.diets.CloseAll(r.Context(), GetTenant(r.Context()), chi.URLParam(r, "id"), req.AsOf)
	writeRecord(w, http.StatusOK, rec, err)
}

// DietHistory handles GET /v1/diners/{id}/diet-history.
func (h *Handler) DietHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.diets.History(r.Context(), GetTenant(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  rows,
		"count": len(rows),
	})
}

func (h *Handler) operations(w http.ResponseWriter, r *http.Request) (*crud.Operations, bool) {
	name := chi.URLParam(r, "entity")
	ops, ok := h.engine.Entity(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("unknown entity %q", name),
		})
		return nil, false
	}
	return ops, true
}

// decodeBody decodes a JSON body into dst. Numbers stay json.Number so
// integer columns are not routed through float64.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "request body too large",
		})
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// writeRecord writes a single-record result. A hook failure after commit
// still returns the record, with a warning.
func writeRecord(w http.ResponseWriter, status int, rec domain.Record, err error) {
	if err != nil && !domain.IsCommitted(err) {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"data": rec}
	if err != nil {
		resp["warning"] = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var hookErr *domain.HookError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case domain.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case domain.IsConflict(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrTenantRequired), errors.Is(err, domain.ErrBatchInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.As(err, &hookErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
