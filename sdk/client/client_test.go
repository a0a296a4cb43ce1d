package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag-dev/stardag-registry/sdk/client"
)

func TestClient_GetDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"oidc_issuer": "https://idp.example"})
	}))
	defer srv.Close()

	c := client.New(srv.URL, "tok")
	cfg, err := client.FetchAuthConfig(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example", cfg.OIDCIssuer)
}

func TestClient_NonOKStatusReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not allowed"})
	}))
	defer srv.Close()

	c := client.New(srv.URL, "tok")
	_, err := client.FetchAuthConfig(context.Background(), c)
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "not allowed", apiErr.Message)
}
