package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/starford/timedline/internal/auth"
	"github.com/starford/timedline/internal/mcpserver"
	"github.com/starford/timedline/internal/vault"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// open builds the components for a one-shot command and promotes the
// remote backend synchronously so the command sees the right data.
func open(ctx context.Context, opts []Option) (*components, error) {
	cfg, logger, err := setup(opts)
	if err != nil {
		return nil, err
	}
	c, err := newComponents(ctx, cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	if err := c.promote(); err != nil {
		logger.Warn("remote promotion failed, using local storage", slog.String("error", err.Error()))
	}
	return c, nil
}

// RunMCP serves the vault tools over stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	c, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	c.logger.Info("MCP server starting on stdio", slog.String("driver", c.sel.Current().Driver.Name()))
	if err := mcpserver.New(c.vault, c.activity).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Export writes the whole vault to w in format.
func Export(ctx context.Context, format string, w io.Writer, opts ...Option) error {
	c, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	switch format {
	case FormatJSON, "":
		return c.vault.ExportJSON(ctx, w)
	case FormatCSV:
		return c.vault.ExportCSV(ctx, w)
	default:
		return fmt.Errorf("unsupported export format %q (json or csv)", format)
	}
}

// Import creates the entries of the JSON array read from r.
func Import(ctx context.Context, r io.Reader, opts ...Option) (vault.ImportResult, error) {
	c, err := open(ctx, opts)
	if err != nil {
		return vault.ImportResult{}, err
	}
	defer c.Close()
	return c.vault.Import(ctx, r)
}

// IssueToken signs a remote access token with the configured secret.
func IssueToken(userID, email string, ttl time.Duration, opts ...Option) (string, error) {
	cfg, logger, err := setup(opts)
	if err != nil {
		return "", err
	}
	sc := cfg.Remote.Session
	if sc.JWTSecret == "" {
		return "", fmt.Errorf("remote.session.jwt_secret is not configured")
	}
	s := auth.New(auth.Config{Secret: sc.JWTSecret, Issuer: sc.Issuer}, nil, logger)
	return s.Issue(userID, email, ttl)
}
