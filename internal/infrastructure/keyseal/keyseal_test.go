package keyseal

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/merchkit/opshub/internal/domain"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestAESKeeperRoundTrip(t *testing.T) {
	keeper, err := NewAESKeeper(testKey)
	require.NoError(t, err)

	creds := &domain.Credentials{
		AccessToken:   "shpat_abc123",
		WebhookSecret: "whsec_xyz",
		ShopDomain:    "example.myshopify.com",
	}

	blob, err := keeper.Seal(context.Background(), creds)
	require.NoError(t, err)
	require.NotContains(t, string(blob), "shpat_abc123", "sealed blob must not expose the token")

	got, err := keeper.Unseal(context.Background(), blob)
	require.NoError(t, err)
	require.Equal(t, creds, got)
}

func TestAESKeeperRejectsTamperedBlob(t *testing.T) {
	keeper, err := NewAESKeeper(testKey)
	require.NoError(t, err)

	blob, err := keeper.Seal(context.Background(), &domain.Credentials{AccessToken: "tok"})
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xff
	_, err = keeper.Unseal(context.Background(), blob)
	require.Error(t, err)
}

func TestAESKeeperEmptyBlob(t *testing.T) {
	keeper, err := NewAESKeeper(testKey)
	require.NoError(t, err)

	_, err = keeper.Unseal(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrCredentialsMissing)
}

func TestNewAESKeeperValidation(t *testing.T) {
	_, err := NewAESKeeper("not hex")
	require.Error(t, err)

	_, err = NewAESKeeper(strings.Repeat("ab", 16))
	require.Error(t, err, "a 16 byte key is too short")
}

func TestPlainKeeperRoundTrip(t *testing.T) {
	creds := &domain.Credentials{AccessToken: "tok", WebhookSecret: "sec"}

	blob, err := PlainKeeper{}.Seal(context.Background(), creds)
	require.NoError(t, err)

	got, err := PlainKeeper{}.Unseal(context.Background(), blob)
	require.NoError(t, err)
	require.Equal(t, creds, got)

	_, err = PlainKeeper{}.Unseal(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrCredentialsMissing)
}
