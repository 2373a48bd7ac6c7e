package testkit

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/sha1n/vaultgrep/internal/app"
	"github.com/spf13/pflag"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

// Start starts services in order. When one fails, the services already
// started are stopped again.
func (e *testEnvImpl) Start() (map[string]any, error) {
	for i, s := range e.services {
		props, err := s.Start()
		if err != nil {
			startErr := fmt.Errorf("failed to start %s: %w", s.GetName(), err)
			return nil, errors.Join(startErr, stopAll(e.services[:i]))
		}
		maps.Copy(e.context.properties, props)
	}
	return e.context.properties, nil
}

// Stop stops every service in reverse order and joins their errors.
func (e *testEnvImpl) Stop() error {
	return stopAll(e.services)
}

func stopAll(services []Service) error {
	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", services[i].GetName(), err))
		}
	}
	return errors.Join(errs...)
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port      int    // Uses free port if 0
	Transport string // Defaults to "sse"
	AuthType  string // Defaults to "none"
	Host      string // Defaults to "localhost"
	VaultRoot string // Vault directory, left unset if empty
	Backend   string // Defaults to "fs"
	StateFile string // Defaults to a file in a temp dir
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	o := FlagOptions{
		Transport: "sse",
		AuthType:  "none",
		Host:      "localhost",
		Backend:   "fs",
	}
	if opts != nil {
		o.Port = opts.Port
		o.VaultRoot = opts.VaultRoot
		o.StateFile = opts.StateFile
		if opts.Transport != "" {
			o.Transport = opts.Transport
		}
		if opts.AuthType != "" {
			o.AuthType = opts.AuthType
		}
		if opts.Host != "" {
			o.Host = opts.Host
		}
		if opts.Backend != "" {
			o.Backend = opts.Backend
		}
	}

	if o.Port == 0 {
		o.Port = MustGetFreePort(t)
	}
	if o.StateFile == "" {
		o.StateFile = filepath.Join(t.TempDir(), "state.json")
	}

	_ = flags.Set("port", fmt.Sprintf("%d", o.Port))
	_ = flags.Set("transport", o.Transport)
	_ = flags.Set("auth-type", o.AuthType)
	_ = flags.Set("host", o.Host)
	_ = flags.Set("backend", o.Backend)
	_ = flags.Set("state-file", o.StateFile)
	if o.VaultRoot != "" {
		_ = flags.Set("vault", o.VaultRoot)
	}

	return flags
}

// WriteVault writes files (keyed by slash-separated document id) under root.
func WriteVault(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for id, content := range files {
		path := filepath.Join(root, filepath.FromSlash(id))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create dir for %s: %v", id, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", id, err)
		}
	}
}
