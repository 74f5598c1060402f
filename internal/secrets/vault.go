// internal/secrets/vault.go
//
// Vault-backed secret resolution for configuration values.
//
// Context
// -------
//   - Wraps the HashiCorp Vault Go SDK behind a small, concurrency-safe
//     client with per-key caching.
//   - Config fields may hold a URI of the form `vault:<mount/path>#<key>`;
//     `Resolve` fetches the referenced KV-v2 entry and returns the plain
//     string, so credentials stay out of flat files and git history.
//
// Public workflow
// ---------------
//  1. cli, err := secrets.New()                  // during boot, lazily.
//  2. pw,  err := cli.Resolve("vault:kv/tenantd#db_password")
//
// Environment expectations
// ------------------------
// • VAULT_ADDR   – scheme and host of the Vault server.
// • VAULT_TOKEN  – initial token (falls back to ~/.vault-token).
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// URIPrefix marks a config value as a Vault reference.
const URIPrefix = "vault:"

// cacheTTL bounds how long a fetched secret is reused.
const cacheTTL = 5 * time.Minute

// IsURI reports whether a config value is a Vault reference.
func IsURI(v string) bool { return strings.HasPrefix(v, URIPrefix) }

// Client is safe for concurrent use.  Zero value is invalid; construct
// via New.
type Client struct {
	api *vault.Client

	cacheMu sync.RWMutex
	cache   map[string]cached // canonical path#key → value + expiry.
}

type cached struct {
	val string
	exp time.Time
}

// New constructs a Vault client from the environment.
func New() (*Client, error) {
	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}

	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}

	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		apiCli.SetToken(tok)
	}

	return &Client{
		api:   apiCli,
		cache: make(map[string]cached),
	}, nil
}

// Resolve expands a `vault:<mount/path>#<key>` URI into the referenced
// secret value.  Non-URI input is returned unchanged.
func (c *Client) Resolve(uri string) (string, error) {
	if !IsURI(uri) {
		return uri, nil
	}
	ref := strings.TrimPrefix(uri, URIPrefix)
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("malformed vault URI %q, want vault:<mount/path>#<key>", uri)
	}
	return c.GetKV(context.Background(), path, key)
}

// GetKV fetches a single key from a KV-v2 secret, caching the result
// for cacheTTL.
func (c *Client) GetKV(ctx context.Context, secretPath, key string) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("secret path and key must be non-empty")
	}

	canonical := secretPath + "#" + key

	c.cacheMu.RLock()
	if cv, ok := c.cache[canonical]; ok && time.Now().Before(cv.exp) {
		c.cacheMu.RUnlock()
		return cv.val, nil
	}
	c.cacheMu.RUnlock()

	mount, rel := splitMount(secretPath)
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}

	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}

	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s#%s is not a string", secretPath, key)
	}

	c.cacheMu.Lock()
	c.cache[canonical] = cached{val: sval, exp: time.Now().Add(cacheTTL)}
	c.cacheMu.Unlock()

	return sval, nil
}

//
// helpers
//

func splitMount(p string) (mount, rel string) {
	if p == "" {
		return "", ""
	}
	parts := strings.SplitN(p, "/", 2)
	mount = parts[0]
	if len(parts) == 2 {
		rel = parts[1]
	}
	return
}
