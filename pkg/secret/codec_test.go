package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type command struct {
	NetworkName string `json:"networkName"`
	Validate    bool   `json:"validate,omitempty"`
	Challenge   string `json:"challenge"`
}

func TestJWECodecRoundTripAndOpacity(t *testing.T) {
	codec, err := NewJWECodec("shared-secret")
	require.NoError(t, err)

	blob, err := codec.Encrypt(command{NetworkName: "shiden", Validate: true, Challenge: "c-123"})
	require.NoError(t, err)
	require.Len(t, strings.Split(blob, "."), 5, "compact JWE has five segments")
	require.NotContains(t, blob, "c-123")

	var got command
	require.NoError(t, codec.Decrypt(blob, &got))
	require.Equal(t, command{NetworkName: "shiden", Validate: true, Challenge: "c-123"}, got)
}

func TestJWECodecRejectsForeignKey(t *testing.T) {
	a, err := NewJWECodec("secret-a")
	require.NoError(t, err)
	b, err := NewJWECodec("secret-b")
	require.NoError(t, err)

	blob, err := a.Encrypt(command{NetworkName: "shiden"})
	require.NoError(t, err)

	var got command
	require.Error(t, b.Decrypt(blob, &got))
	require.Error(t, a.Decrypt("not-a-jwe", &got))
}

func TestNewJWECodecNeedsSecret(t *testing.T) {
	_, err := NewJWECodec("")
	require.ErrorIs(t, err, ErrEmptySecret)
}
