package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"faceindex/internal/extractor"
	"faceindex/internal/identity"
	"faceindex/internal/index"
	"faceindex/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor maps image content to canned vectors. An image containing
// "noface" signals a missing face.
var fakeExtractor = extractor.Func(func(ctx context.Context, image []byte) ([]float32, error) {
	if bytes.Contains(image, []byte("noface")) {
		return nil, extractor.ErrNoFace
	}
	vec := make([]float32, 4)
	vec[int(image[0])%4] = 1
	return vec, nil
})

type memImageStore struct{ saved int }

func (m *memImageStore) Save(ctx context.Context, data []byte, name string) (string, error) {
	m.saved++
	return "images/" + name + ".jpg", nil
}

func newTestRouter(t *testing.T) (*httptest.Server, *memImageStore) {
	t.Helper()
	svc := identity.NewService(index.NewRegistry(), ledger.NewMemory(), nil)
	images := &memImageStore{}
	server := httptest.NewServer(NewRouter(NewHandler(svc, fakeExtractor, images)))
	t.Cleanup(server.Close)
	return server, images
}

func multipartBody(t *testing.T, image []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if image != nil {
		fw, err := mw.CreateFormFile("file", "face.jpg")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postForm(t *testing.T, url string, body *bytes.Buffer, contentType string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestUploadAndSearch(t *testing.T) {
	server, images := newTestRouter(t)

	body, ct := multipartBody(t, []byte{0}, map[string]string{"name": "alice", "company_id": "T1"})
	resp, decoded := postForm(t, server.URL+"/upload", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decoded["status"])
	assert.NotEmpty(t, decoded["point_id"])
	assert.NotEmpty(t, decoded["image_path"])
	assert.Equal(t, 1, images.saved)

	body, ct = multipartBody(t, []byte{0}, map[string]string{"company_id": "T1", "k": "1"})
	resp, decoded = postForm(t, server.URL+"/search", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	matches := decoded["matches"].([]any)
	require.Len(t, matches, 1)
	match := matches[0].(map[string]any)
	assert.Equal(t, "alice", match["name"])
	assert.InDelta(t, 1.0, match["score"].(float64), 1e-6)
}

func TestUploadNoFace(t *testing.T) {
	server, images := newTestRouter(t)

	body, ct := multipartBody(t, []byte("noface"), map[string]string{"name": "alice", "company_id": "T1"})
	resp, decoded := postForm(t, server.URL+"/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no face detected", decoded["error"])
	assert.Equal(t, 0, images.saved, "nothing is persisted without a face")
}

func TestUploadMissingFields(t *testing.T) {
	server, _ := newTestRouter(t)

	body, ct := multipartBody(t, []byte{0}, map[string]string{"name": "alice"})
	resp, decoded := postForm(t, server.URL+"/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decoded["error"], "company_id")

	body, ct = multipartBody(t, nil, map[string]string{"name": "alice", "company_id": "T1"})
	resp, decoded = postForm(t, server.URL+"/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decoded["error"], "file")
}

func TestSearchNoFaceIsEmptyWithReason(t *testing.T) {
	server, _ := newTestRouter(t)

	body, ct := multipartBody(t, []byte("noface"), map[string]string{"company_id": "T1"})
	resp, decoded := postForm(t, server.URL+"/search", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no face found in query image", decoded["reason"])
	assert.Empty(t, decoded["matches"])
}

func TestSearchEmptyTenantReturnsNoMatches(t *testing.T) {
	server, _ := newTestRouter(t)

	body, ct := multipartBody(t, []byte{1}, map[string]string{"company_id": "nobody"})
	resp, decoded := postForm(t, server.URL+"/search", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decoded["matches"])
	assert.NotContains(t, decoded, "reason")
}

func TestSearchTenantIsolation(t *testing.T) {
	server, _ := newTestRouter(t)

	body, ct := multipartBody(t, []byte{2}, map[string]string{"name": "alice", "company_id": "T1"})
	resp, _ := postForm(t, server.URL+"/upload", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, ct = multipartBody(t, []byte{2}, map[string]string{"company_id": "T2"})
	resp, decoded := postForm(t, server.URL+"/search", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decoded["matches"])
}

func TestHealth(t *testing.T) {
	server, _ := newTestRouter(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
