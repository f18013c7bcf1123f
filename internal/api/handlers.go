package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"faceindex/internal/extractor"
	"faceindex/internal/identity"
	"faceindex/internal/imagestore"
	"faceindex/internal/index"

	"github.com/google/uuid"
)

// maxUploadBytes bounds the multipart form held in memory per request.
const maxUploadBytes = 10 << 20 // 10 MiB

// Handler holds the dependencies for HTTP handlers.
type Handler struct {
	service   *identity.Service
	extractor extractor.Extractor
	images    imagestore.Store
}

// NewHandler creates a new Handler.
func NewHandler(service *identity.Service, ext extractor.Extractor, images imagestore.Store) *Handler {
	return &Handler{service: service, extractor: ext, images: images}
}

// HandleUpload handles POST /upload. Multipart form fields: file (image),
// name (person's name), company_id (tenant).
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	name := r.FormValue("name")
	tenantID := r.FormValue("company_id")
	if name == "" || tenantID == "" {
		writeJSONError(w, http.StatusBadRequest, "name and company_id are required")
		return
	}

	image, err := readUpload(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	vector, err := h.extractor.Extract(r.Context(), image)
	if errors.Is(err, extractor.ErrNoFace) {
		writeJSONError(w, http.StatusBadRequest, "no face detected")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "embedding extraction failed: "+err.Error())
		return
	}

	handle, err := h.images.Save(r.Context(), image, uuid.NewString())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "image save failed: "+err.Error())
		return
	}

	pointID, err := h.service.EnrollIdentity(r.Context(), identity.Enrollment{
		TenantID:    tenantID,
		Name:        name,
		Vector:      vector,
		ImageHandle: handle,
	})
	if err != nil {
		var enrollErr *identity.EnrollError
		if errors.As(err, &enrollErr) {
			// Include the attempted point ID so the caller can retry
			// idempotently.
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":    "enrollment failed: " + enrollErr.Err.Error(),
				"point_id": enrollErr.PointID,
			})
			return
		}
		if errors.Is(err, index.ErrDimensionMismatch) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"point_id":   pointID,
		"image_path": handle,
	})
}

// HandleSearch handles POST /search. Multipart form fields: file (image),
// company_id (tenant), optional k and min_score.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	tenantID := r.FormValue("company_id")
	if tenantID == "" {
		writeJSONError(w, http.StatusBadRequest, "company_id is required")
		return
	}

	k := 0
	if v := r.FormValue("k"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid k: "+v)
			return
		}
		k = parsed
	}
	var minScore float32
	if v := r.FormValue("min_score"); v != "" {
		parsed, err := strconv.ParseFloat(v, 32)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid min_score: "+v)
			return
		}
		minScore = float32(parsed)
	}

	image, err := readUpload(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	vector, err := h.extractor.Extract(r.Context(), image)
	if errors.Is(err, extractor.ErrNoFace) {
		// Empty-match response with a reason, distinguishing "no face in
		// the query image" from "no matches found".
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"matches": []identity.Match{},
			"reason":  "no face found in query image",
		})
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "embedding extraction failed: "+err.Error())
		return
	}

	matches, err := h.service.SearchIdentity(r.Context(), tenantID, vector, k, minScore)
	if err != nil {
		if errors.Is(err, index.ErrDimensionMismatch) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if matches == nil {
		matches = []identity.Match{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func readUpload(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, errors.New("failed to read file: " + err.Error())
	}
	if len(data) == 0 {
		return nil, errors.New("file is empty")
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
