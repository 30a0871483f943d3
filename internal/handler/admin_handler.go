package handler

import (
	"net/http"

	"github.com/evyataryagoni/geoprobe/internal/logger"
)

// WhitelistReloader is the whitelist capability the admin endpoint needs
type WhitelistReloader interface {
	Reload() error
	Len() int
}

// AdminHandler handles operational endpoints
type AdminHandler struct {
	whitelist WhitelistReloader
	logger    *logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(whitelist WhitelistReloader, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		whitelist: whitelist,
		logger:    logger.OrNop(log).WithComponent("AdminHandler"),
	}
}

// whitelistReloadResponse reports the size of the reloaded whitelist
type whitelistReloadResponse struct {
	Entries int `json:"entries"`
}

// ReloadWhitelist handles POST /v1/admin/whitelist/reload
// On failure the previous whitelist stays active
func (h *AdminHandler) ReloadWhitelist(w http.ResponseWriter, r *http.Request) {
	if err := h.whitelist.Reload(); err != nil {
		h.logger.Error().Err(err).Msg("Whitelist reload failed")
		respondError(w, http.StatusInternalServerError, "Whitelist reload failed")
		return
	}

	respondJSON(w, http.StatusOK, whitelistReloadResponse{Entries: h.whitelist.Len()})
}
