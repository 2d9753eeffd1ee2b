package identity_test

import (
	"testing"

	"github.com/munkey/munkeyd/internal/identity"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesTLSMaterialOnFirstRun(t *testing.T) {
	root := t.TempDir()

	id, err := identity.Load(root)
	require.NoError(t, err)
	require.NotEmpty(t, id.UniqueID)
	require.Equal(t, id.UniqueID, toLower(id.UniqueID))
	require.NotEmpty(t, id.TLS.Certificate)
}

func TestLoadReusesPersistedCertificateAcrossRestarts(t *testing.T) {
	root := t.TempDir()

	first, err := identity.Load(root)
	require.NoError(t, err)

	second, err := identity.Load(root)
	require.NoError(t, err)

	require.Equal(t, first.TLS.Certificate, second.TLS.Certificate)
	require.NotEqual(t, first.UniqueID, second.UniqueID, "unique id is per-process, not persisted")
}

func toLower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}
