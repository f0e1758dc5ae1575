package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/cliplru/internal/apperror"
	"github.com/sakif/cliplru/internal/model"
	"github.com/sakif/cliplru/internal/service"
)

// ClipHandler manages clip CRUD, pinning, and the shared-link endpoints.
//
// The shared endpoints (HandleGetShared, HandleAccessEncrypted) sit outside
// the identity requirement: a share link must work for someone with no
// account and no session at all.
type ClipHandler struct {
	clips     *service.ClipService
	accounts  *service.AccountService
	retention *service.RetentionService
	logger    *slog.Logger
}

// NewClipHandler creates a ClipHandler.
func NewClipHandler(
	clips *service.ClipService,
	accounts *service.AccountService,
	retention *service.RetentionService,
	logger *slog.Logger,
) *ClipHandler {
	return &ClipHandler{
		clips:     clips,
		accounts:  accounts,
		retention: retention,
		logger:    logger,
	}
}

// HandleCreate creates a clip.
//
// HTTP: POST /api/clips
// REQUEST BODY: {"title": "...", "content": "...", "clipType": "text",
//                "accessLevel": "private", "password": "...", "expiresAt": "...",
//                "fileIds": ["..."]}
func (h *ClipHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	var in service.CreateClipInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	clip, err := h.clips.Create(r.Context(), user, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clip)
}

// HandleList returns the caller's clips, paginated.
//
// HTTP: GET /api/clips?page=1&perPage=20&clipType=text&search=foo
func (h *ClipHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))

	result, err := h.clips.List(r.Context(), user, page, perPage,
		model.ClipType(q.Get("clipType")), q.Get("search"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGet returns one owned clip. Reading it counts as an access and
// refreshes its LRU position.
//
// HTTP: GET /api/clips/{id}
func (h *ClipHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	clip, err := h.clips.Get(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

// HandleUpdate applies a partial update to an owned clip.
//
// HTTP: PUT /api/clips/{id}
func (h *ClipHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	var in service.UpdateClipInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	clip, err := h.clips.Update(r.Context(), user, r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

// HandleDelete removes an owned clip.
//
// HTTP: DELETE /api/clips/{id}
func (h *ClipHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.clips.Delete(r.Context(), user, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePin marks a clip as pinned, exempting it from LRU eviction.
//
// HTTP: POST /api/clips/{id}/pin
func (h *ClipHandler) HandlePin(w http.ResponseWriter, r *http.Request) {
	h.setPin(w, r, true)
}

// HandleUnpin clears the pin flag.
//
// HTTP: DELETE /api/clips/{id}/pin
func (h *ClipHandler) HandleUnpin(w http.ResponseWriter, r *http.Request) {
	h.setPin(w, r, false)
}

func (h *ClipHandler) setPin(w http.ResponseWriter, r *http.Request, pinned bool) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	clip, err := h.clips.Pin(r.Context(), user, r.PathValue("id"), pinned)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

// HandleGetShared resolves a clip by share token without any identity.
//
// HTTP: GET /api/shared/{token}
//
// Encrypted clips answer 401 password_required here; the client then
// retries through HandleAccessEncrypted.
func (h *ClipHandler) HandleGetShared(w http.ResponseWriter, r *http.Request) {
	clip, err := h.clips.GetShared(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

// HandleAccessEncrypted resolves an encrypted clip with its password.
//
// HTTP: POST /api/shared/{token}/access
// REQUEST BODY: {"password": "..."}
func (h *ClipHandler) HandleAccessEncrypted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	clip, err := h.clips.AccessEncrypted(r.Context(), r.PathValue("token"), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

// HandleStats returns the caller's quota usage.
//
// HTTP: GET /api/stats
func (h *ClipHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := h.retention.Stats(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
