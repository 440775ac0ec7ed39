package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_JWTService_RoundTripsUserID(t *testing.T) {
	// arrange
	service := NewJWTService("secret")

	// act
	token, err := service.GenerateToken(42)
	require.NoError(t, err)
	userID, err := service.ExtractUserID(token)

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func Test_JWTService_RejectsForeignSignature(t *testing.T) {
	token, err := NewJWTService("other").GenerateToken(42)
	require.NoError(t, err)

	_, err = NewJWTService("secret").ExtractUserID(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func Test_JWTService_RejectsExpiredToken(t *testing.T) {
	// arrange
	service := NewJWTService("secret")
	issued := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return issued }
	token, err := service.GenerateToken(7)
	require.NoError(t, err)

	// act
	service.now = func() time.Time { return issued.Add(25 * time.Hour) }
	_, err = service.ExtractUserID(token)

	// assert
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func Test_JWTService_RejectsTokenWithoutUser(t *testing.T) {
	service := NewJWTService("secret")
	token, err := service.GenerateToken(0)
	require.NoError(t, err)

	_, err = service.ExtractUserID(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
}
