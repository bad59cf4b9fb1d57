package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner("secret", time.Hour)

	token, expiresAt, err := signer.Sign("job-1", "reviews/job-1.csv")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	jobID, relPath, parsedExp, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, "reviews/job-1.csv", relPath)
	assert.WithinDuration(t, expiresAt, parsedExp, time.Second)
}

func TestSignerRejectsTampering(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	token, _, err := signer.Sign("job-1", "reviews/job-1.csv")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "job-2"
	_, _, _, err = signer.Verify(strings.Join(parts, "."))
	assert.Error(t, err)

	_, _, _, err = signer.Verify("not-a-token")
	assert.Error(t, err)
}

func TestSignerRejectsExpired(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	signer.ttl = -time.Minute
	token, _, err := signer.Sign("job-1", "reviews/job-1.csv")
	require.NoError(t, err)

	_, _, _, err = signer.Verify(token)
	assert.Error(t, err)
}

func TestSignerRequiresInputs(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	_, _, err := signer.Sign("", "path")
	assert.Error(t, err)
	_, _, err = signer.Sign("job", "")
	assert.Error(t, err)
}
