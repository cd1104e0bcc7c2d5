// Package cli implements the interactive diary agent console. It keeps the
// encrypted signing key on disk, talks to the server through the api client,
// and answers signing challenges with the loaded key.
package cli

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"os"

	"github.com/moltnet/diaryd/internal/agent/api"
	"github.com/moltnet/diaryd/internal/agent/config"
)

type App struct {
	config *config.Config
	api    *api.Client
	priv   ed25519.PrivateKey
	reader *bufio.Reader
}

func NewApp(c *config.Config) *App {
	return &App{
		config: c,
		api:    api.NewClient(c.ServerURL, c.RequestTimeout),
		reader: bufio.NewReader(os.Stdin),
	}
}

func (a *App) isLoggedIn() bool {
	return a.api.Authenticated()
}

func (a *App) hasKey() bool {
	return a.priv != nil
}

func (a *App) Run(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.status, scanner)
}

func (a *App) status() string {
	switch {
	case a.isLoggedIn():
		return "online"
	case a.hasKey():
		return "key loaded"
	default:
		return "no key"
	}
}
