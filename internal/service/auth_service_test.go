package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicesurvey/internal/model"
)

func newTestAuth() *AuthService {
	return NewAuthService("host", "secret-pass", "test-signing-key", time.Hour)
}

func TestLogin(t *testing.T) {
	auth := newTestAuth()

	_, err := auth.Login("host", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	resp, err := auth.Login("host", "secret-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	claims, err := auth.ValidateHostToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.HostID, claims.HostID)
}

func TestRespondentToken(t *testing.T) {
	auth := newTestAuth()

	token, err := auth.GenerateRespondentToken("s1", "r1")
	require.NoError(t, err)

	claims, err := auth.ValidateRespondentToken(token)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.SurveyID)
	assert.Equal(t, "r1", claims.RespondentID)

	_, err = auth.ValidateHostToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "respondent token must not authorize a host")
}

func TestHostTokenIsNotRespondentToken(t *testing.T) {
	auth := newTestAuth()
	resp, err := auth.Login("host", "secret-pass")
	require.NoError(t, err)

	_, err = auth.ValidateRespondentToken(resp.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejections(t *testing.T) {
	auth := newTestAuth()

	other := NewAuthService("host", "secret-pass", "another-key", time.Hour)
	foreign, err := other.GenerateRespondentToken("s1", "r1")
	require.NoError(t, err)
	_, err = auth.ValidateRespondentToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &model.RespondentClaims{
		SurveyID:     "s1",
		RespondentID: "r1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	_, err = auth.ValidateRespondentToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.ValidateRespondentToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
