package dashboardapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/overblick/agentcore/internal/orchestrator"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	status orchestrator.Status
}

func (s stubProvider) Status() orchestrator.Status { return s.status }

func TestHealthz_ReturnsOK(t *testing.T) {
	r := NewRouter(map[string]StatusProvider{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestIdentityStatus_KnownIdentityReturnsStatus(t *testing.T) {
	providers := map[string]StatusProvider{
		"nyx": stubProvider{status: orchestrator.Status{
			Identity: "nyx",
			State:    orchestrator.StateRunning,
		}},
	}
	r := NewRouter(providers)

	req := httptest.NewRequest(http.MethodGet, "/v1/identities/nyx/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "nyx", status.Identity)
	require.Equal(t, orchestrator.StateRunning, status.State)
}

func TestIdentityStatus_UnknownIdentityReturns404(t *testing.T) {
	r := NewRouter(map[string]StatusProvider{})

	req := httptest.NewRequest(http.MethodGet, "/v1/identities/ghost/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["error"], "ghost")
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	t.Setenv("AGENTCORE_CORS_ORIGINS", "https://dashboard.example.com")

	origins := corsOrigins()
	require.Equal(t, []string{"https://dashboard.example.com"}, origins)
}

func TestCORS_DefaultsToWildcard(t *testing.T) {
	t.Setenv("AGENTCORE_CORS_ORIGINS", "")
	require.Equal(t, []string{"*"}, corsOrigins())
}
