package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/vaultgrep/internal/config"
	mcputil "github.com/sha1n/vaultgrep/internal/mcp"
	"github.com/sha1n/vaultgrep/internal/vault"
	"github.com/spf13/pflag"
)

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(*mcp.Server, *config.Settings) error
	CreateServer      func(*config.Settings) (*mcp.Server, func(), error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
	}
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	settings, err := loadValidSettings(params, flags)
	if err != nil {
		return err
	}

	// Configure logging - always use stderr to avoid buffering issues
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	slog.Info("Starting vaultgrep server", "version", version)
	config.Log(settings)

	mcpServer, cleanup, err := params.CreateServer(settings)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Start server
	if settings.Transport == "stdio" {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return mcpServer.Run(ctx, transport)
	}
	slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
	return params.StartSSEServer(mcpServer, settings)
}

func loadValidSettings(params RunParams, flags *pflag.FlagSet) (*config.Settings, error) {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

// CreateMCPServer creates the MCP server with registered tools
func CreateMCPServer(settings *config.Settings) (*mcp.Server, func(), error) {
	svc, err := openService(context.Background(), settings, slog.Default())
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			slog.Error("Failed to close vault service", "error", err)
		}
	}

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:     "vaultgrep",
		Version:  "1.0.0",
		VaultSvc: svc,
	})

	return server, cleanup, nil
}

// OpenVault loads settings from flags and returns an initialized vault
// service for one-shot commands. Diagnostics go to stderr at warn level so
// they do not mix with command output.
func OpenVault(ctx context.Context, params RunParams, flags *pflag.FlagSet, stderr io.Writer) (*vault.Service, error) {
	settings, err := loadValidSettings(params, flags)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return openService(ctx, settings, logger)
}

func openService(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*vault.Service, error) {
	svc, err := vault.NewService(settings, vault.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create vault service: %w", err)
	}

	if err := svc.Initialize(ctx); err != nil {
		if closeErr := svc.Close(); closeErr != nil {
			logger.Error("Failed to close vault service", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}
	return svc, nil
}
