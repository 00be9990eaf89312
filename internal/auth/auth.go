// Package auth supplies the backend credential: the PULSE_API_KEY
// environment variable wins, otherwise the credential saved by
// `pulse login` is used.
package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fakeyudi/pulse/internal/logging"
)

// EnvVar overrides the stored credential.
const EnvVar = "PULSE_API_KEY"

// ErrEmptyCredential is returned by Ask when nothing was entered and there
// is no existing credential to keep.
var ErrEmptyCredential = errors.New("credential must not be empty")

// Store persists the credential.
type Store interface {
	Credential(ctx context.Context) (string, error)
	SaveCredential(ctx context.Context, credential string) error
}

// Provider implements the sync engine's credential collaborator.
type Provider struct {
	Store  Store
	Getenv func(string) string // nil uses os.Getenv
	Out    io.Writer           // prompt destination; nil uses stderr
	Logger *logging.Logger
}

// Credential returns the configured credential, or "" if there is none.
func (p *Provider) Credential(ctx context.Context) (string, error) {
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if c := strings.TrimSpace(getenv(EnvVar)); c != "" {
		return c, nil
	}
	c, err := p.Store.Credential(ctx)
	if err != nil {
		return "", fmt.Errorf("loading stored credential: %w", err)
	}
	return c, nil
}

// Prompt tells the user how to add a credential.
func (p *Provider) Prompt(ctx context.Context) {
	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprintf(out, "pulse: no API key configured; run 'pulse login' or set %s to start syncing\n", EnvVar)
	if p.Logger != nil {
		p.Logger.WarnContext(ctx, "sync skipped: no credential")
	}
}

// Ask reads a credential from r, prompting on w. An empty answer keeps
// existing.
func Ask(r io.Reader, w io.Writer, existing string) (string, error) {
	if existing != "" {
		fmt.Fprintf(w, "API key [%s]: ", Mask(existing))
	} else {
		fmt.Fprint(w, "API key: ")
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		if existing == "" {
			return "", ErrEmptyCredential
		}
		return existing, nil
	}
	return line, nil
}

// Mask hides all but the last four characters.
func Mask(c string) string {
	if len(c) <= 4 {
		return strings.Repeat("*", len(c))
	}
	return strings.Repeat("*", len(c)-4) + c[len(c)-4:]
}
