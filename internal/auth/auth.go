// Package auth supplies bearer tokens for streaming gateway authentication.
package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TokenSource yields the bearer token for one connection attempt. The
// connection manager re-reads it on every attempt, so a rotated token is
// picked up without restarting the process. An empty token means the
// attempt is made unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config selects where the bearer token comes from.
type Config struct {
	Token     string // literal token value
	TokenEnv  string // environment variable holding the token
	TokenFile string // file holding the token
}

// FromConfig picks the first configured source, in order: literal value,
// environment variable, file. Returns nil when none is set, meaning
// unauthenticated connections.
func FromConfig(cfg Config) TokenSource {
	switch {
	case cfg.Token != "":
		return Static(cfg.Token)
	case cfg.TokenEnv != "":
		return FromEnv(cfg.TokenEnv)
	case cfg.TokenFile != "":
		return FromFile(cfg.TokenFile)
	default:
		return nil
	}
}

// Static returns a TokenSource that always yields the same token.
func Static(token string) TokenSource {
	return staticSource(token)
}

type staticSource string

func (s staticSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// FromEnv reads the token from the named environment variable on every
// call.
func FromEnv(name string) TokenSource {
	return envSource(name)
}

type envSource string

func (e envSource) Token(context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(string(e))), nil
}

// FromFile reads the token from a file on every call. Suited to mounted
// secrets that get rotated in place.
func FromFile(path string) TokenSource {
	return fileSource(path)
}

type fileSource string

func (f fileSource) Token(context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
