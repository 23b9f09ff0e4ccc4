package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"custos/internal/platform/jwtauth"
	"custos/pkg/requestcontext"
)

func TestMetadataAssignsRequestID(t *testing.T) {
	var gotID string
	h := Metadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestcontext.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, gotID)
	require.Equal(t, gotID, rec.Header().Get("X-Request-Id"))
}

func TestMetadataKeepsCallerRequestID(t *testing.T) {
	var gotID string
	h := Metadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestcontext.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "req-123", gotID)
}

func TestMetadataDerivesOrigin(t *testing.T) {
	var ip, sig string
	h := Metadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
		sig = requestcontext.ClientSignature(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "203.0.113.9", ip)
	require.Contains(t, sig, "Chrome")
}

func TestMetadataFallsBackToRemoteAddr(t *testing.T) {
	var ip string
	h := Metadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:52100"
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "198.51.100.7", ip)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	svc := jwtauth.New("test-key", "custos", "audit-api")
	h := RequireAuth(svc, slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without credentials")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthRejectsInvalidToken(t *testing.T) {
	svc := jwtauth.New("test-key", "custos", "audit-api")
	h := RequireAuth(svc, slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with a bad token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthPopulatesActor(t *testing.T) {
	svc := jwtauth.New("test-key", "custos", "audit-api")
	token, err := svc.Generate("svc-billing", "service", "sess-9", time.Hour)
	require.NoError(t, err)

	var actor, role, session string
	h := RequireAuth(svc, slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = requestcontext.ActorID(r.Context())
		role = requestcontext.ActorRole(r.Context())
		session = requestcontext.SessionID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "svc-billing", actor)
	require.Equal(t, "service", role)
	require.Equal(t, "sess-9", session)
}
