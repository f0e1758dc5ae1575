package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sakif/cliplru/internal/apperror"
	"github.com/sakif/cliplru/internal/service"
)

// FileHandler manages uploads, downloads, and file metadata.
//
// Uploads arrive as multipart/form-data with the file under the "file"
// field; the service streams the part straight to disk, so the handler
// never buffers the whole body.
type FileHandler struct {
	files    *service.FileService
	accounts *service.AccountService
	logger   *slog.Logger
}

// NewFileHandler creates a FileHandler.
func NewFileHandler(files *service.FileService, accounts *service.AccountService, logger *slog.Logger) *FileHandler {
	return &FileHandler{files: files, accounts: accounts, logger: logger}
}

// HandleUpload stores an uploaded file.
//
// HTTP: POST /api/files  (multipart/form-data, field "file", optional
// field "clipId" before it — or ?clipId=xxx)
//
// MultipartReader walks the body part by part instead of parsing the whole
// form up front, so the size ceiling is enforced while bytes arrive — a
// 2GB upload dies at the cap, not after landing on disk. That streaming
// is why the clipId field must precede the file part: once the file part
// starts we hand it to the service without reading ahead.
func (h *FileHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, apperror.ValidationFailed("body", "expected multipart/form-data"))
		return
	}

	clipID := r.URL.Query().Get("clipId")
	var part io.Reader
	var filename, mimeType string
	for part == nil {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, apperror.ValidationFailed("body", "malformed multipart body"))
			return
		}
		switch p.FormName() {
		case "clipId":
			id, err := io.ReadAll(io.LimitReader(p, 64))
			if err != nil {
				writeError(w, apperror.ValidationFailed("clipId", "unreadable clipId field"))
				return
			}
			clipID = strings.TrimSpace(string(id))
		case "file":
			part = p
			filename = p.FileName()
			mimeType = p.Header.Get("Content-Type")
		}
	}
	if part == nil {
		writeError(w, apperror.ValidationFailed("file", "missing file field"))
		return
	}
	if mimeType == "" {
		if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
			mimeType = byExt
		}
	}

	file, err := h.files.Upload(r.Context(), user, part, filename, mimeType, clipID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

// HandleList returns the caller's files, paginated.
//
// HTTP: GET /api/files?page=1&perPage=20
func (h *FileHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))

	result, err := h.files.List(r.Context(), user, page, perPage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGet returns one owned file's metadata.
//
// HTTP: GET /api/files/{id}
func (h *FileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	file, err := h.files.Get(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// HandleDownload streams a file's bytes.
//
// HTTP: GET /api/files/{id}/download
//
// Unlike the rest of the file routes this one tolerates an absent
// identity: a file hanging off a shared clip is downloadable by anyone
// holding the link. http.ServeContent handles Range requests and
// conditional gets for free since blobs are immutable.
func (h *FileHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		if !errors.Is(err, apperror.ErrUnauthorized) {
			writeError(w, err)
			return
		}
		user = nil // fall through to the shared-clip path
	}

	file, rc, err := h.files.Download(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s", strconv.Quote(file.OriginalFilename)))
	http.ServeContent(w, r, file.OriginalFilename, file.UpdatedAt, rc)
}

// HandleDelete removes an owned file.
//
// HTTP: DELETE /api/files/{id}
func (h *FileHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r, h.accounts)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.files.Delete(r.Context(), user, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

