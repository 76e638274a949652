package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReload(t *testing.T) {
	var got reloadRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/configs", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(0)
	require.NoError(t, c.Reload(context.Background(), server.URL, "/data/instances/a/config.yaml"))
	assert.Equal(t, "/data/instances/a/config.yaml", got.Path)
}

func TestReloadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Body invalid"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	err := New(0).Reload(context.Background(), server.URL, "/nope.yaml")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Body, "Body invalid")
}

func TestVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/version", r.URL.Path)
		_, _ = w.Write([]byte(`{"version":"v1.18.0","premium":true}`))
	}))
	defer server.Close()

	v, err := New(0).Version(context.Background(), server.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "v1.18.0", v)
}

func TestUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	_, err := New(0).Version(context.Background(), base)
	assert.Error(t, err)
}
