package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/brojonat/rescuer/service/prefs"
	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// openPrefs loads the preferences file named by --config or the default path.
func openPrefs(c *cli.Context) (*prefs.Store, error) {
	path := c.String("config")
	if path == "" {
		var err error
		if path, err = prefs.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return prefs.Open(path)
}

// resolveCluster picks the RPC endpoints for a command. --rpc wins over
// --cluster, which wins over the selected cluster in preferences.
func resolveCluster(c *cli.Context) (prefs.Cluster, error) {
	if rpcURL := c.String("rpc"); rpcURL != "" {
		name := c.String("cluster")
		if name == "" {
			name = "custom"
		}
		return prefs.Cluster{Name: name, Endpoints: splitList(rpcURL)}, nil
	}

	store, err := openPrefs(c)
	if err != nil {
		return prefs.Cluster{}, err
	}
	if name := c.String("cluster"); name != "" {
		cluster, ok := store.Cluster(name)
		if !ok {
			return prefs.Cluster{}, fmt.Errorf("%w: %s (see: rescuer cluster list)", prefs.ErrUnknownCluster, name)
		}
		return cluster, nil
	}
	return store.Selected(), nil
}

// newChain connects to one of the resolved cluster's endpoints.
func newChain(c *cli.Context) (*solana.Client, prefs.Cluster, error) {
	cluster, err := resolveCluster(c)
	if err != nil {
		return nil, cluster, err
	}
	endpoint, err := solana.SelectRandomEndpoint(cluster.Endpoints)
	if err != nil {
		return nil, cluster, err
	}
	logger := newLogger(c)
	logger.Debug("using solana endpoint", "cluster", cluster.Name, "endpoint", solana.EndpointLabel(endpoint))
	return solana.NewClient(solana.NewRPCClient(endpoint), solana.EndpointLabel(endpoint), nil, logger), cluster, nil
}

// parseKey decodes a base58 public key, naming field in the error.
func parseKey(field, value string) (solanago.PublicKey, error) {
	if value == "" {
		return solanago.PublicKey{}, fmt.Errorf("%s is required", field)
	}
	pk, err := solanago.PublicKeyFromBase58(strings.TrimSpace(value))
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return pk, nil
}

func parseKeys(field string, values []string) ([]solanago.PublicKey, error) {
	out := make([]solanago.PublicKey, 0, len(values))
	for _, v := range values {
		for _, s := range splitList(v) {
			pk, err := parseKey(field, s)
			if err != nil {
				return nil, err
			}
			out = append(out, pk)
		}
	}
	return out, nil
}

// loadKeypairs reads solana-keygen JSON keypair files.
func loadKeypairs(paths []string) ([]solanago.PrivateKey, error) {
	keys := make([]solanago.PrivateKey, 0, len(paths))
	for _, path := range paths {
		key, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load keypair %s: %w", path, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func publicKeys(keys []solanago.PrivateKey) []solanago.PublicKey {
	out := make([]solanago.PublicKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.PublicKey())
	}
	return out
}

// signWith adds signatures from keys to tx and returns the signers still
// missing.
func signWith(tx *solanago.Transaction, keys []solanago.PrivateKey) ([]solanago.PublicKey, error) {
	if len(keys) > 0 {
		_, err := tx.PartialSign(func(pk solanago.PublicKey) *solanago.PrivateKey {
			for i := range keys {
				if keys[i].PublicKey().Equals(pk) {
					return &keys[i]
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction: %w", err)
		}
	}

	signers := tx.Message.Signers()
	var missing []solanago.PublicKey
	for i, pk := range signers {
		if i >= len(tx.Signatures) || tx.Signatures[i].IsZero() {
			missing = append(missing, pk)
		}
	}
	return missing, nil
}

// readPayload takes the payload from the first argument, or stdin when the
// argument is "-" or absent.
func readPayload(c *cli.Context) (string, error) {
	arg := c.Args().First()
	if arg != "" && arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read payload from stdin: %w", err)
	}
	payload := strings.TrimSpace(string(data))
	if payload == "" {
		return "", errors.New("payload is required (pass it as an argument or on stdin)")
	}
	return payload, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func keyStrings(keys []solanago.PublicKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}

// formatSOL renders lamports as SOL.
func formatSOL(lamports uint64) string {
	return fmt.Sprintf("%.9f SOL", float64(lamports)/float64(solanago.LAMPORTS_PER_SOL))
}
