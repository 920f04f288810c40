package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

const (
	problemTypeValidation   = "https://palmyra.pro/problems/validation-error"
	problemTypeNotFound     = "https://palmyra.pro/problems/not-found"
	problemTypeConflict     = "https://palmyra.pro/problems/conflict"
	problemTypeTransition   = "https://palmyra.pro/problems/invalid-transition"
	problemTypeProvisioning = "https://palmyra.pro/problems/provisioning-failed"
	problemTypeTimeout      = "https://palmyra.pro/problems/timeout"
	problemTypeInternal     = "https://palmyra.pro/problems/internal-error"

	contentTypeProblem = "application/problem+json"
	contentTypeJSON    = "application/json"
)

// ProblemDetails is an RFC 7807 body extended with the tenancy error kind,
// the failed provisioning step and whether the call may be repeated.
type ProblemDetails struct {
	Type      string              `json:"type"`
	Title     string              `json:"title"`
	Status    int                 `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	Kind      tenant.Kind         `json:"kind,omitempty"`
	Step      tenant.Step         `json:"step,omitempty"`
	RetrySafe bool                `json:"retrySafe"`
	Errors    map[string][]string `json:"errors,omitempty"`
}

func buildProblem(title, detail, problemType string, status int, errs map[string][]string) ProblemDetails {
	return ProblemDetails{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
		Errors: errs,
	}
}

func validationProblem(detail string, errs map[string][]string) ProblemDetails {
	return buildProblem("Invalid request", detail, problemTypeValidation, http.StatusBadRequest, errs)
}

// problemForError maps service and tenancy failures onto problem details.
// Unclassified failures are logged and answered with a generic body.
func problemForError(r *http.Request, fallback *zap.Logger, err error) ProblemDetails {
	var te *tenant.Error
	switch {
	case errors.Is(err, service.ErrInvalidIdentifier), errors.Is(err, service.ErrInvalidDescriptor):
		return validationProblem(err.Error(), nil)
	case errors.Is(err, service.ErrConflictIdentifier):
		return buildProblem("Conflict", err.Error(), problemTypeConflict, http.StatusConflict, nil)
	case errors.As(err, &te):
		return tenantProblem(te)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		p := buildProblem("Timed out", "the operation continues in the background; retrying is safe", problemTypeTimeout, http.StatusGatewayTimeout, nil)
		p.RetrySafe = true
		return p
	default:
		logging.FromRequest(r, fallback).Error("tenant operation failed", zap.Error(err))
		return buildProblem("Internal error", "internal error", problemTypeInternal, http.StatusInternalServerError, nil)
	}
}

func tenantProblem(te *tenant.Error) ProblemDetails {
	var p ProblemDetails
	switch te.Kind {
	case tenant.KindTenantNotFound:
		p = buildProblem("Not found", te.Error(), problemTypeNotFound, http.StatusNotFound, nil)
	case tenant.KindInvalidState, tenant.KindIdentifierMissing:
		p = validationProblem(te.Error(), nil)
	case tenant.KindInvalidTransition, tenant.KindTenantNotActive:
		p = buildProblem("Invalid lifecycle transition", te.Error(), problemTypeTransition, http.StatusConflict, nil)
	case tenant.KindAlreadyProvisioning:
		p = buildProblem("Provisioning in progress", te.Error(), problemTypeConflict, http.StatusConflict, nil)
	case tenant.KindDirectoryUpdateConflict:
		p = buildProblem("Conflict", te.Error(), problemTypeConflict, http.StatusConflict, nil)
	case tenant.KindProvisioningStepFailed:
		p = buildProblem("Provisioning failed", te.Error(), problemTypeProvisioning, http.StatusBadGateway, nil)
		p.Step = te.Step
	case tenant.KindConnectionBuildFailed:
		p = buildProblem("Tenant temporarily unavailable", te.Error(), problemTypeInternal, http.StatusServiceUnavailable, nil)
	default:
		p = buildProblem("Internal error", "internal error", problemTypeInternal, http.StatusInternalServerError, nil)
	}
	p.Kind = te.Kind
	p.RetrySafe = te.Retryable()
	return p
}

func writeProblem(w http.ResponseWriter, problem ProblemDetails) {
	w.Header().Set("Content-Type", contentTypeProblem)
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
