package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"branchline/internal/authn"
	"branchline/internal/store"
)

func TestRouter_Healthz(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWithAuth_DisabledPassesThrough(t *testing.T) {
	s := &Server{Auth: authn.New("")}
	called := false
	h := s.withAuth(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	require.True(t, called)
}

func TestWithAuth_EnabledRejectsMissingBearer(t *testing.T) {
	s := &Server{Auth: authn.New("s3cr3t")}
	called := false
	h := s.withAuth(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStoreStatus_MapsKindsToHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusNotFound, storeStatus(store.NotFound("op", errors.New("x"))))
	require.Equal(t, http.StatusConflict, storeStatus(store.Conflict("op", errors.New("x"))))
	require.Equal(t, http.StatusBadRequest, storeStatus(store.Malformed("op", errors.New("x"))))
	require.Equal(t, http.StatusServiceUnavailable, storeStatus(store.Unavailable("op", errors.New("x"))))
	require.Equal(t, http.StatusInternalServerError, storeStatus(errors.New("plain")))
}
