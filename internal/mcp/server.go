package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/vaultgrep/internal/vault"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name     string
	Version  string
	VaultSvc *vault.Service // nil creates a server without tools
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &mcp.ServerOptions{
		Instructions: "Regex search and replace over a vault of text documents. " +
			"Use regex_search to locate matches, then regex_replace to rewrite them. " +
			"Vault-wide replaces are previewed until called with confirm=true.",
	})

	if cfg.VaultSvc != nil {
		vault.RegisterTools(s, cfg.VaultSvc)
	}

	return s
}
