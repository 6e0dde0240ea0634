// Package secrets provides a thread-safe secret vault with hot reload support.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
)

// Keys of the secrets nexus reads at call time.
const (
	AdminKeyHash     = "NEXUS_ADMIN_KEY_HASH"
	LiteLLMMasterKey = "LITELLM_MASTER_KEY"
)

// Loader retrieves secrets from a source (env vars, config, file).
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{
		values: vals,
		loader: loader,
	}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Source returns a func reading key on every call.
func (v *Vault) Source(key string) func() string {
	return func() string { return v.Get(key) }
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

// ReloadOn reloads the vault whenever one of sigs arrives, until ctx ends.
func (v *Vault) ReloadOn(ctx context.Context, sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				if err := v.Reload(); err != nil {
					slog.ErrorContext(ctx, "secret reload failed", "signal", sig.String(), "error", err)
					continue
				}
				slog.InfoContext(ctx, "secrets reloaded", "signal", sig.String())
			}
		}
	}()
}

// RedactString replaces every secret value of 4 or more characters found in s
// with its first two characters followed by "****".
func (v *Vault) RedactString(s string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, val := range v.values {
		if len(val) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, val, val[:2]+"****")
	}
	return s
}
