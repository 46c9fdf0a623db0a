package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pressgate/pressgate/internal/appid"
)

func TestAppIdentityFieldsPopulated(t *testing.T) {
	identity, err := appid.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, identity)

	require.NotEmpty(t, identity.Vendor)
	require.NotEmpty(t, identity.BinaryName)
	require.NotEmpty(t, identity.ConfigName)

	// Env lookups concatenate prefix and name, so the trailing underscore
	// has to live in the prefix.
	require.NotEmpty(t, identity.EnvPrefix)
	require.True(t, strings.HasSuffix(identity.EnvPrefix, "_"),
		"env_prefix %q should end with underscore", identity.EnvPrefix)
}
