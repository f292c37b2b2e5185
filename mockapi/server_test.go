package mockapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openhms/hms-client/mockapi"
	"github.com/openhms/hms-client/token"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("mock-test-secret")

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := mockapi.New(mockapi.WithSecret(testSecret))
	require.NoError(t, srv.SeedAccounts())
	server := httptest.NewServer(srv)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]string) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	out := map[string]string{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func login(t *testing.T, server *httptest.Server, username, password string) map[string]string {
	t.Helper()
	resp, body := postJSON(t, server.URL+"/login/", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["access"])
	require.NotEmpty(t, body["refresh"])
	return body
}

func TestLoginIssuesDecodablePair(t *testing.T) {
	server := setupTestServer(t)

	pair := login(t, server, "doc1", "doctorpass")

	claims, err := token.Decode(pair["access"])
	require.NoError(t, err)
	require.Equal(t, "doc1", claims.Username)
	require.Equal(t, "DOCTOR", claims.Role)
	require.Equal(t, []string{"cardiology"}, claims.Groups)
	require.False(t, claims.Expired(time.Now()))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	server := setupTestServer(t)

	resp, body := postJSON(t, server.URL+"/login/", map[string]string{
		"username": "doc1",
		"password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "invalid username or password", body["detail"])

	resp, _ = postJSON(t, server.URL+"/login/", map[string]string{
		"username": "nobody",
		"password": "whatever",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshRotatesAndConsumes(t *testing.T) {
	server := setupTestServer(t)
	pair := login(t, server, "nurse1", "nursepass")

	resp, rotated := postJSON(t, server.URL+"/refresh/", map[string]string{"refresh": pair["refresh"]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, rotated["access"])
	require.NotEqual(t, pair["refresh"], rotated["refresh"])

	// The presented refresh token is single use.
	resp, body := postJSON(t, server.URL+"/refresh/", map[string]string{"refresh": pair["refresh"]})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "refresh token invalid", body["detail"])

	// The rotated token works.
	resp, _ = postJSON(t, server.URL+"/refresh/", map[string]string{"refresh": rotated["refresh"]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginRevokesPreviousRefreshToken(t *testing.T) {
	server := setupTestServer(t)

	first := login(t, server, "admin", "adminpass")
	_ = login(t, server, "admin", "adminpass")

	resp, _ := postJSON(t, server.URL+"/refresh/", map[string]string{"refresh": first["refresh"]})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMeReturnsProfile(t *testing.T) {
	server := setupTestServer(t)
	pair := login(t, server, "doc1", "doctorpass")

	req, err := http.NewRequest(http.MethodGet, server.URL+"/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+pair["access"])

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var profile struct {
		ID       int64    `json:"id"`
		Username string   `json:"username"`
		Email    string   `json:"email"`
		Role     string   `json:"role"`
		Groups   []string `json:"groups"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	require.NotZero(t, profile.ID)
	require.Equal(t, "doc1", profile.Username)
	require.Equal(t, "doc1@hospital.test", profile.Email)
	require.Equal(t, "DOCTOR", profile.Role)
	require.Equal(t, []string{"cardiology"}, profile.Groups)
}

func TestMeRejectsBadTokens(t *testing.T) {
	server := setupTestServer(t)

	for name, header := range map[string]string{
		"missing header": "",
		"not a bearer":   "Token abc",
		"garbage token":  "Bearer not-a-jwt",
		"wrong secret":   "Bearer " + mintWithSecret(t, []byte("other-secret")),
		"expired":        "Bearer " + mintExpired(t),
	} {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/auth/me", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, name)
	}
}

func mintWithSecret(t *testing.T, secret []byte) string {
	t.Helper()
	raw, err := token.Mint(secret, token.Identity{UserID: "1", Username: "doc1"}, time.Minute)
	require.NoError(t, err)
	return raw
}

func mintExpired(t *testing.T) string {
	t.Helper()
	token.NowTimeFunc = func() time.Time { return time.Now().Add(-time.Hour) }
	defer func() { token.NowTimeFunc = time.Now }()

	raw, err := token.Mint(testSecret, token.Identity{UserID: "1", Username: "doc1"}, time.Minute)
	require.NoError(t, err)
	return raw
}
