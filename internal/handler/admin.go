package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/cliplru/internal/apperror"
	"github.com/sakif/cliplru/internal/service"
)

// AdminHandler exposes the retention sweep and instance-wide stats. Every
// route requires the is_admin flag on the calling user.
type AdminHandler struct {
	retention *service.RetentionService
	accounts  *service.AccountService
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(retention *service.RetentionService, accounts *service.AccountService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{retention: retention, accounts: accounts, logger: logger}
}

// adminUser resolves the principal and rejects non-admins.
func (h *AdminHandler) adminUser(r *http.Request) error {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		return err
	}
	if !user.IsAdmin {
		return apperror.Forbidden("admin access required")
	}
	return nil
}

// HandleCleanup runs a full retention sweep on demand.
//
// HTTP: POST /api/admin/cleanup
//
// The sweep is idempotent, so an operator (or a cron hitting this route)
// can fire it as often as they like. Per-user failures come back in the
// report rather than failing the request.
func (h *AdminHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if err := h.adminUser(r); err != nil {
		writeError(w, err)
		return
	}

	report, err := h.retention.Sweep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleStats returns instance-wide counts.
//
// HTTP: GET /api/admin/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if err := h.adminUser(r); err != nil {
		writeError(w, err)
		return
	}

	stats, err := h.retention.SystemStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
