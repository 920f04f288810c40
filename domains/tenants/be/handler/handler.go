package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 200
)

// Handler serves the tenant admin and billing endpoints.
type Handler struct {
	svc    *service.Service
	orch   *service.Orchestrator
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, orch *service.Orchestrator, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if orch == nil {
		panic("provisioning orchestrator is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, orch: orch, logger: logger}
}

// RegisterAdmin mounts the admin routes under /admin/tenants.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Route("/admin/tenants", func(r chi.Router) {
		r.Get("/", h.TenantsList)
		r.Post("/", h.TenantsCreate)
		r.Route("/{tenantId}", func(r chi.Router) {
			r.Get("/", h.TenantsGet)
			r.Post("/provision", h.TenantsProvision)
			r.Get("/provision-status", h.TenantsProvisionStatus)
			r.Post("/suspend", h.lifecycle(h.svc.Suspend))
			r.Post("/reactivate", h.lifecycle(h.svc.Reactivate))
			r.Post("/deactivate", h.lifecycle(h.svc.Deactivate))
			r.Post("/delete", h.lifecycle(h.svc.Delete))
		})
	})
}

// TenantsList implements GET /admin/tenants
func (h *Handler) TenantsList(w http.ResponseWriter, r *http.Request) {
	opts, errs := buildListOptions(r)
	if len(errs) > 0 {
		writeProblem(w, validationProblem("invalid query parameters", errs))
		return
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		writeProblem(w, problemForError(r, h.logger, err))
		return
	}

	items := make([]Tenant, 0, len(result.Tenants))
	for _, t := range result.Tenants {
		items = append(items, toAPITenant(t))
	}

	writeJSON(w, http.StatusOK, tenantList{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

type createRequest struct {
	Identifier  string  `json:"identifier"`
	DisplayName *string `json:"displayName,omitempty"`
}

// TenantsCreate implements POST /admin/tenants
func (h *Handler) TenantsCreate(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, validationProblem("request body is required", nil))
		return
	}
	if body.Identifier == "" {
		writeProblem(w, validationProblem("identifier is required", map[string][]string{"identifier": {"required"}}))
		return
	}

	t, err := h.svc.Create(r.Context(), service.CreateInput{
		Identifier:  body.Identifier,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		writeProblem(w, problemForError(r, h.logger, err))
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/admin/tenants/%s", t.ID))
	writeJSON(w, http.StatusCreated, toAPITenant(t))
}

// TenantsGet implements GET /admin/tenants/{tenantId}
func (h *Handler) TenantsGet(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeProblem(w, problemForError(r, h.logger, err))
		return
	}
	writeJSON(w, http.StatusOK, toAPITenant(t))
}

// TenantsProvision implements POST /admin/tenants/{tenantId}/provision.
// It waits for the run; a dropped connection does not stop it.
func (h *Handler) TenantsProvision(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	t, err := h.orch.Provision(r.Context(), id)
	if err != nil {
		writeProblem(w, problemForError(r, h.logger, err))
		return
	}
	writeJSON(w, http.StatusOK, toAPITenant(t))
}

// TenantsProvisionStatus implements GET /admin/tenants/{tenantId}/provision-status
func (h *Handler) TenantsProvisionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	status, err := h.orch.Status(r.Context(), id)
	if err != nil {
		writeProblem(w, problemForError(r, h.logger, err))
		return
	}
	writeJSON(w, http.StatusOK, toAPIProvisioningStatus(status))
}

func (h *Handler) lifecycle(apply func(context.Context, uuid.UUID) (service.Tenant, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := tenantIDParam(w, r)
		if !ok {
			return
		}
		t, err := apply(r.Context(), id)
		if err != nil {
			writeProblem(w, problemForError(r, h.logger, err))
			return
		}
		writeJSON(w, http.StatusOK, toAPITenant(t))
	}
}

func tenantIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "tenantId")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeProblem(w, validationProblem("tenantId must be a UUID", map[string][]string{"tenantId": {"invalid uuid"}}))
		return uuid.Nil, false
	}
	return id, true
}

func buildListOptions(r *http.Request) (service.ListOptions, map[string][]string) {
	opts := service.ListOptions{Page: defaultPage, PageSize: defaultPageSize}
	errs := map[string][]string{}
	q := r.URL.Query()

	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			errs["page"] = append(errs["page"], "must be a positive integer")
		} else {
			opts.Page = page
		}
	}
	if raw := q.Get("pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 || size > maxPageSize {
			errs["pageSize"] = append(errs["pageSize"], fmt.Sprintf("must be between 1 and %d", maxPageSize))
		} else {
			opts.PageSize = size
		}
	}
	if raw := q.Get("state"); raw != "" {
		state, err := tenant.ParseState(raw)
		if err != nil {
			errs["state"] = append(errs["state"], "unknown lifecycle state")
		} else {
			opts.State = &state
		}
	}
	return opts, errs
}
