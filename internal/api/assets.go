package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/natefinch/atomic"
)

const maxUploadBytes = 50 << 20 // 50 MB

// imageExts are the extensions accepted for image() fields.
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".avif": true, ".svg": true,
}

// AssetHandler serves and accepts image assets referenced by image() fields.
type AssetHandler struct {
	root string // project root
	dir  string // assets directory relative to root, slash-separated
}

// NewAssetHandler creates a handler storing files in dir under the project root.
func NewAssetHandler(root, dir string) *AssetHandler {
	return &AssetHandler{root: root, dir: path.Clean(filepath.ToSlash(dir))}
}

func (h *AssetHandler) dirPath() string {
	return filepath.Join(h.root, filepath.FromSlash(h.dir))
}

// safeName validates that the filename is a plain image name (no path
// separators, no traversal) and returns the absolute path under the assets dir.
func (h *AssetHandler) safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	if !imageExts[strings.ToLower(filepath.Ext(cleaned))] {
		return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(cleaned))
	}
	abs := filepath.Join(h.dirPath(), cleaned)
	if !strings.HasPrefix(abs, h.dirPath()+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes assets directory")
	}
	return abs, nil
}

// ServeFile handles GET /assets/{filename}.
func (h *AssetHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	abs, err := h.safeName(filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, statErr := os.Stat(abs); os.IsNotExist(statErr) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}

// Upload handles POST /api/assets (multipart/form-data, field "file").
//
//	@Summary		Upload an image for use in image() fields
//	@Tags			assets
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Image file"
//	@Success		201		{object}	AssetUploadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/assets [post]
func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	abs, err := h.safeName(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if _, err := os.Stat(abs); err == nil {
		writeJSON(w, http.StatusConflict, errorBody("asset already exists"))
		return
	}

	if err := os.MkdirAll(h.dirPath(), 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create assets dir"))
		return
	}

	cr := &countingReader{r: file}
	if err := atomic.WriteFile(abs, cr); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}

	name := filepath.Base(abs)
	writeJSON(w, http.StatusCreated, AssetUploadResponse{
		Filename: name,
		Path:     path.Join(h.dir, name),
		Size:     cr.n,
		URL:      "/assets/" + name,
	})
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
