package prefs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rescuer", "config.yaml")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestOpen_Defaults(t *testing.T) {
	// Act
	s, _ := openTemp(t)

	// Assert
	assert.Equal(t, DefaultCluster, s.Selected().Name)
	assert.Equal(t, []string{"https://api.mainnet-beta.solana.com"}, s.Selected().Endpoints)
	names := []string{}
	for _, c := range s.Clusters() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"mainnet-beta", "devnet", "testnet"}, names)
	assert.Empty(t, s.Wallets().Safe)
}

func TestAddSelectSave(t *testing.T) {
	// Setup
	s, path := openTemp(t)

	// Act
	require.NoError(t, s.AddCluster("helius", []string{"https://rpc-a.example.com", "https://rpc-b.example.com"}))
	require.NoError(t, s.Select("helius"))
	s.SetWallets(Wallets{Safe: "Safe1111", Compromised: "Bad1111"})
	require.NoError(t, s.Save())

	reopened, err := Open(path)
	require.NoError(t, err)

	// Assert
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
	sel := reopened.Selected()
	assert.Equal(t, "helius", sel.Name)
	assert.Equal(t, []string{"https://rpc-a.example.com", "https://rpc-b.example.com"}, sel.Endpoints)
	assert.False(t, sel.Builtin)
	assert.Equal(t, Wallets{Safe: "Safe1111", Compromised: "Bad1111"}, reopened.Wallets())
	assert.Len(t, reopened.Clusters(), 4)
}

func TestAddCluster_Validation(t *testing.T) {
	tests := []struct {
		name      string
		cluster   string
		endpoints []string
		wantErr   error
	}{
		{name: "empty name", cluster: " ", endpoints: []string{"https://x.example.com"}},
		{name: "builtin", cluster: "devnet", endpoints: []string{"https://x.example.com"}, wantErr: ErrBuiltinCluster},
		{name: "no endpoints", cluster: "mine"},
		{name: "bad scheme", cluster: "mine", endpoints: []string{"ws://x.example.com"}},
		{name: "no host", cluster: "mine", endpoints: []string{"https://"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			s, _ := openTemp(t)

			// Act
			err := s.AddCluster(tt.cluster, tt.endpoints)

			// Assert
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			}
		})
	}
}

func TestAddCluster_Replaces(t *testing.T) {
	// Setup
	s, _ := openTemp(t)
	require.NoError(t, s.AddCluster("local", []string{"http://127.0.0.1:8899"}))

	// Act
	require.NoError(t, s.AddCluster("local", []string{"http://127.0.0.1:9999"}))

	// Assert
	c, ok := s.Cluster("local")
	require.True(t, ok)
	assert.Equal(t, []string{"http://127.0.0.1:9999"}, c.Endpoints)
	assert.Len(t, s.Clusters(), 4)
}

func TestRemoveCluster(t *testing.T) {
	// Setup
	s, _ := openTemp(t)
	require.NoError(t, s.AddCluster("local", []string{"http://127.0.0.1:8899"}))
	require.NoError(t, s.Select("local"))

	// Act
	err := s.RemoveCluster("local")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, DefaultCluster, s.Selected().Name)
	assert.True(t, errors.Is(s.RemoveCluster("local"), ErrUnknownCluster))
	assert.True(t, errors.Is(s.RemoveCluster("testnet"), ErrBuiltinCluster))
}

func TestSelect_Unknown(t *testing.T) {
	// Setup
	s, _ := openTemp(t)

	// Act
	err := s.Select("nope")

	// Assert
	assert.True(t, errors.Is(err, ErrUnknownCluster))
	assert.Equal(t, DefaultCluster, s.Selected().Name)
}
