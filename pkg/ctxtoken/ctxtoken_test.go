package ctxtoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/pkg/autherr"
)

func TestRoundTrip(t *testing.T) {
	c := NewCipher([]byte("process-secret"))
	tok, err := c.Create("https://host.example", "user:42", true)
	require.NoError(t, err)

	got, err := c.Verify(tok, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://host.example", got.Host)
	assert.Equal(t, "user:42", got.User)
	assert.True(t, got.AllowRefresh)
	assert.WithinDuration(t, time.Now(), got.IssuedAt, 5*time.Second)
}

func TestExpired(t *testing.T) {
	c := NewCipher([]byte("process-secret"))
	tok, err := c.Create("h", "u", false)
	require.NoError(t, err)

	_, err = c.Verify(tok, -time.Second)
	assert.ErrorIs(t, err, autherr.ErrContextTokenExpired)
}

func TestMalformed(t *testing.T) {
	c := NewCipher([]byte("process-secret"))

	_, err := c.Verify("not base64 !!!", time.Hour)
	assert.ErrorIs(t, err, autherr.ErrMalformedContextToken)

	_, err = c.Verify("AAAA", time.Hour)
	assert.ErrorIs(t, err, autherr.ErrMalformedContextToken)

	// Token sealed under a different process secret.
	other := NewCipher([]byte("other-secret"))
	tok, err := other.Create("h", "u", false)
	require.NoError(t, err)
	_, err = c.Verify(tok, time.Hour)
	assert.ErrorIs(t, err, autherr.ErrMalformedContextToken)
}

func TestRefreshPolicy(t *testing.T) {
	c := NewCipher([]byte("process-secret"))

	refreshable, err := c.Create("h", "u", true)
	require.NoError(t, err)
	tok2, err := c.Refresh(refreshable, time.Hour)
	require.NoError(t, err)
	got, err := c.Verify(tok2, time.Hour)
	require.NoError(t, err)
	assert.True(t, got.AllowRefresh)

	pinned, err := c.Create("h", "u", false)
	require.NoError(t, err)
	_, err = c.Refresh(pinned, time.Hour)
	assert.ErrorIs(t, err, autherr.ErrRefreshNotAllowed)
}
