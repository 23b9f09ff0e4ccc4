package jwtauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"custos/pkg/sentinel"
)

func TestGenerateValidateRoundTrip(t *testing.T) {
	svc := New("test-signing-key", "custos", "audit-api")

	token, err := svc.Generate("svc-billing", "service", "sess-1", time.Hour)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "svc-billing", claims.ActorID)
	require.Equal(t, "service", claims.ActorRole)
	require.Equal(t, "sess-1", claims.SessionID)
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := New("test-signing-key", "custos", "audit-api")

	token, err := svc.Generate("svc-billing", "service", "", -time.Minute)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	require.ErrorIs(t, err, sentinel.ErrUnauthorized)
}

func TestWrongKeyRejected(t *testing.T) {
	issuer := New("key-a", "custos", "audit-api")
	validator := New("key-b", "custos", "audit-api")

	token, err := issuer.Generate("svc-billing", "service", "", time.Hour)
	require.NoError(t, err)

	_, err = validator.Validate(token)
	require.ErrorIs(t, err, sentinel.ErrUnauthorized)
}

func TestWrongAudienceRejected(t *testing.T) {
	issuer := New("test-signing-key", "custos", "other-api")
	validator := New("test-signing-key", "custos", "audit-api")

	token, err := issuer.Generate("svc-billing", "service", "", time.Hour)
	require.NoError(t, err)

	_, err = validator.Validate(token)
	require.ErrorIs(t, err, sentinel.ErrUnauthorized)
}

func TestTokenWithoutActorRejected(t *testing.T) {
	svc := New("test-signing-key", "custos", "audit-api")

	token, err := svc.Generate("", "service", "", time.Hour)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	require.ErrorIs(t, err, sentinel.ErrUnauthorized)
}

func TestGarbageTokenRejected(t *testing.T) {
	svc := New("test-signing-key", "custos", "audit-api")

	_, err := svc.Validate("not.a.token")
	require.ErrorIs(t, err, sentinel.ErrUnauthorized)
}
