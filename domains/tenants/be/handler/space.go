package handler

import (
	"net/http"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/session"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

// Space is the data-plane probe response.
type Space struct {
	TenantID   string   `json:"tenantId"`
	Identifier string   `json:"identifier"`
	Roles      []string `json:"roles"`
}

// SpaceProbe implements GET /space. It must run behind the tenant session
// middleware and reads the seeded roles through the request's session.
func SpaceProbe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromRequest(r, zap.NewNop())

	resolved, ok := tenant.FromContext(ctx)
	sess, hasSession := session.FromContext(ctx)
	if !ok || !hasSession {
		logger.Error("space probe served without tenant session")
		writeProblem(w, buildProblem("Internal error", "internal error", problemTypeInternal, http.StatusInternalServerError, nil))
		return
	}

	roles := make([]string, 0, 4)
	err := sess.ReadOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT role_key FROM roles ORDER BY role_key`)
		if err != nil {
			return err
		}
		keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		roles = append(roles, keys...)
		return nil
	})
	if err != nil {
		logger.Error("read tenant roles", zap.Error(err))
		writeProblem(w, buildProblem("Internal error", "internal error", problemTypeInternal, http.StatusInternalServerError, nil))
		return
	}

	writeJSON(w, http.StatusOK, Space{
		TenantID:   resolved.TenantID.String(),
		Identifier: resolved.Identifier,
		Roles:      roles,
	})
}
