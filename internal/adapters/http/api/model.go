package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
)

const maxModelBodyBytes = 256 << 20

// ModelDependencies defines the interface for model installation.
type ModelDependencies interface {
	UpdateModelRange(data []byte, offset, length int) (string, error)
}

type modelResponse struct {
	ModelVersion string `json:"model_version"`
	Bytes        int    `json:"bytes"`
}

// ModelHandler handles model uploads.
type ModelHandler struct {
	deps ModelDependencies
}

// NewModelHandler creates a new model handler.
func NewModelHandler(deps ModelDependencies) *ModelHandler {
	return &ModelHandler{deps: deps}
}

// HandlePutModel handles PUT /model requests. The body is the raw model; the
// optional offset and length query parameters select a sub-range of it.
func (h *ModelHandler) HandlePutModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.NotFound(w, r)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxModelBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	length, err := intParam(q.Get("length"), len(data)-offset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	version, err := h.deps.UpdateModelRange(data, offset, length)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{ModelVersion: version, Bytes: length})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrBadRequest, raw)
	}
	return v, nil
}
