// Package prefs persists the CLI's local preferences: the selected cluster,
// user-added clusters, and the last-used wallet addresses.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

const (
	keySelected    = "cluster.selected"
	keyClusters    = "clusters"
	keySafe        = "wallets.safe"
	keyCompromised = "wallets.compromised"

	DefaultCluster = "mainnet-beta"
)

var (
	// ErrUnknownCluster is returned when a cluster name is not configured.
	ErrUnknownCluster = errors.New("unknown cluster")
	// ErrBuiltinCluster is returned when trying to modify a built-in cluster.
	ErrBuiltinCluster = errors.New("cannot modify a built-in cluster")
)

// Cluster is a named set of RPC endpoints.
type Cluster struct {
	Name      string   `mapstructure:"name" json:"name"`
	Endpoints []string `mapstructure:"endpoints" json:"endpoints"`
	Builtin   bool     `mapstructure:"-" json:"builtin"`
}

var builtins = []Cluster{
	{Name: "mainnet-beta", Endpoints: []string{"https://api.mainnet-beta.solana.com"}, Builtin: true},
	{Name: "devnet", Endpoints: []string{"https://api.devnet.solana.com"}, Builtin: true},
	{Name: "testnet", Endpoints: []string{"https://api.testnet.solana.com"}, Builtin: true},
}

// Wallets are the addresses remembered between runs.
type Wallets struct {
	Safe        string `json:"safe,omitempty"`
	Compromised string `json:"compromised,omitempty"`
}

// Store reads and writes the preferences file.
type Store struct {
	v    *viper.Viper
	path string
}

// DefaultPath returns $XDG_CONFIG_HOME/rescuer/config.yaml, or the
// platform equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config dir: %w", err)
	}
	return filepath.Join(dir, "rescuer", "config.yaml"), nil
}

// Open loads the preferences at path. A missing file yields defaults.
// RESCUER_CLUSTER_SELECTED and friends override file values.
func Open(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("rescuer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault(keySelected, DefaultCluster)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read preferences %s: %w", path, err)
		}
	}
	return &Store{v: v, path: path}, nil
}

// Path is the file the store saves to.
func (s *Store) Path() string {
	return s.path
}

// Save writes the preferences file, creating its directory if needed.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}

// Selected returns the selected cluster. If the stored selection no longer
// exists, the default cluster is returned.
func (s *Store) Selected() Cluster {
	name := s.v.GetString(keySelected)
	if c, ok := s.Cluster(name); ok {
		return c
	}
	c, _ := s.Cluster(DefaultCluster)
	return c
}

// Select makes name the selected cluster.
func (s *Store) Select(name string) error {
	if _, ok := s.Cluster(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCluster, name)
	}
	s.v.Set(keySelected, name)
	return nil
}

// Cluster looks up a cluster by name.
func (s *Store) Cluster(name string) (Cluster, bool) {
	for _, c := range s.Clusters() {
		if c.Name == name {
			return c, true
		}
	}
	return Cluster{}, false
}

// Clusters returns the built-in clusters followed by user clusters sorted by name.
func (s *Store) Clusters() []Cluster {
	out := append([]Cluster(nil), builtins...)
	return append(out, s.custom()...)
}

func (s *Store) custom() []Cluster {
	var clusters []Cluster
	if err := s.v.UnmarshalKey(keyClusters, &clusters); err != nil {
		return nil
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Name < clusters[j].Name })
	return clusters
}

// AddCluster adds or replaces a user cluster.
func (s *Store) AddCluster(name string, endpoints []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("cluster name is required")
	}
	if isBuiltin(name) {
		return fmt.Errorf("%w: %s", ErrBuiltinCluster, name)
	}
	if len(endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	for _, e := range endpoints {
		u, err := url.Parse(e)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid endpoint %q", e)
		}
	}

	clusters := s.custom()
	kept := clusters[:0]
	for _, c := range clusters {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	kept = append(kept, Cluster{Name: name, Endpoints: endpoints})
	s.setCustom(kept)
	return nil
}

// RemoveCluster deletes a user cluster. Removing the selected cluster
// selects the default one.
func (s *Store) RemoveCluster(name string) error {
	if isBuiltin(name) {
		return fmt.Errorf("%w: %s", ErrBuiltinCluster, name)
	}
	clusters := s.custom()
	kept := clusters[:0]
	found := false
	for _, c := range clusters {
		if c.Name == name {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownCluster, name)
	}
	s.setCustom(kept)
	if s.v.GetString(keySelected) == name {
		s.v.Set(keySelected, DefaultCluster)
	}
	return nil
}

func (s *Store) setCustom(clusters []Cluster) {
	raw := make([]map[string]interface{}, 0, len(clusters))
	for _, c := range clusters {
		raw = append(raw, map[string]interface{}{
			"name":      c.Name,
			"endpoints": c.Endpoints,
		})
	}
	s.v.Set(keyClusters, raw)
}

// Wallets returns the remembered wallet addresses.
func (s *Store) Wallets() Wallets {
	return Wallets{
		Safe:        s.v.GetString(keySafe),
		Compromised: s.v.GetString(keyCompromised),
	}
}

// SetWallets remembers wallet addresses. Empty fields are left unchanged.
func (s *Store) SetWallets(w Wallets) {
	if w.Safe != "" {
		s.v.Set(keySafe, w.Safe)
	}
	if w.Compromised != "" {
		s.v.Set(keyCompromised, w.Compromised)
	}
}

func isBuiltin(name string) bool {
	for _, c := range builtins {
		if c.Name == name {
			return true
		}
	}
	return false
}
