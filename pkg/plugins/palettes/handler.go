// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package palettes serves the command palette API.
package palettes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/palette"
)

const (
	maxBody        = 1 << 20
	uploadField    = "palette_file"
	jsonType       = "application/json"
	attachmentHead = "attachment; filename=\"%s.json\""
)

type Handler struct {
	cache  *palette.Cache
	logger *slog.Logger
}

func New(cache *palette.Cache, logger *slog.Logger) *Handler {
	return &Handler{cache: cache, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/palettes", h.handleList)
	mux.HandleFunc("POST /api/palettes", h.handleCreate)
	mux.HandleFunc("POST /api/palettes/import", h.handleImport)
	mux.HandleFunc("GET /api/palettes/{name}", h.handleGet)
	mux.HandleFunc("PUT /api/palettes/{name}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/palettes/{name}", h.handleDelete)
	mux.HandleFunc("GET /api/palettes/{name}/export", h.handleExport)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := h.cache.List(r.Context())
	if err != nil {
		h.writeError(w, "list", "", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := decodePalette(w, r)
	if !ok {
		return
	}
	if err := h.cache.Save(r.Context(), p); err != nil {
		h.writeError(w, "save", p.Name, err)
		return
	}
	h.logger.Info("palette saved", "name", p.Name, "commands", len(p.Commands))
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	p, err := h.cache.Get(r.Context(), name)
	if err != nil {
		h.writeError(w, "load", name, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	p, ok := decodePalette(w, r)
	if !ok {
		return
	}
	updated, err := h.cache.Update(r.Context(), name, p)
	if err != nil {
		h.writeError(w, "update", name, err)
		return
	}
	h.logger.Info("palette updated", "name", name, "commands", len(updated.Commands))
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.cache.Delete(r.Context(), name); err != nil {
		h.writeError(w, "delete", name, err)
		return
	}
	h.logger.Info("palette deleted", "name", name)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Palette '%s' deleted successfully.", name)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(maxBody); err != nil {
		http.Error(w, "invalid multipart upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile(uploadField)
	if err != nil {
		http.Error(w, "No palette file uploaded or field name is not 'palette_file'.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.cache.Import(r.Context(), data)
	if err != nil {
		h.writeError(w, "import", "", err)
		return
	}
	h.logger.Info("palette imported", "name", p.Name, "commands", len(p.Commands))
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	p, err := h.cache.Get(r.Context(), name)
	if err != nil {
		h.writeError(w, "export", name, err)
		return
	}
	data, err := palette.Encode(p)
	if err != nil {
		h.writeError(w, "export", name, err)
		return
	}
	w.Header().Set("Content-Type", jsonType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(attachmentHead, p.Name))
	_, _ = w.Write(data)
}

func (h *Handler) writeError(w http.ResponseWriter, op, name string, err error) {
	switch {
	case errors.Is(err, core.ErrPaletteNotFound):
		http.Error(w, fmt.Sprintf("Palette '%s' not found.", name), http.StatusNotFound)
	case errors.Is(err, core.ErrInvalidPalette):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("palette operation failed", "op", op, "name", name, "error", err)
		http.Error(w, fmt.Sprintf("Failed to %s palette: %v", op, err), http.StatusInternalServerError)
	}
}

func decodePalette(w http.ResponseWriter, r *http.Request) (palette.Palette, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return palette.Palette{}, false
	}
	p, err := palette.Decode(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return palette.Palette{}, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
