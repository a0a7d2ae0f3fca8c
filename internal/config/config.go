package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level TabPilot config.
	WorkspaceDirName = ".tabpilot"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// Capability names group tools into enable/disable sets.
const (
	CapabilityCore    = "core"
	CapabilityHistory = "history"
	CapabilityTabs    = "tabs"
	CapabilityWait    = "wait"
	CapabilityFiles   = "files"
	CapabilityExtract = "extract"
	CapabilityFacts   = "facts"
)

// KnownCapabilities lists every capability a tool may declare.
var KnownCapabilities = []string{
	CapabilityCore,
	CapabilityHistory,
	CapabilityTabs,
	CapabilityWait,
	CapabilityFiles,
	CapabilityExtract,
	CapabilityFacts,
}

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the TabPilot MCP server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Browser  BrowserConfig  `yaml:"browser"`
	MCP      MCPConfig      `yaml:"mcp"`
	Tools    ToolsConfig    `yaml:"tools"`
	Mangle   MangleConfig   `yaml:"mangle"`
	Recorder RecorderConfig `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Takes precedence over launch.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command (e.g., ["chromium", "--remote-debugging-port=9222"]).
	// When both are empty Rod downloads or finds a browser itself.
	Launch []string `yaml:"launch"`
	// AutoStart connects at startup instead of on the first tool call that needs a page.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Stealth opens pages through go-rod/stealth to mask automation fingerprints.
	Stealth bool `yaml:"stealth"`
	// Isolated opens each caller session in its own incognito browser context (default: true).
	Isolated *bool `yaml:"isolated"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout for element actions (e.g., "5s").
	DefaultActionTimeout string `yaml:"default_action_timeout"`
	// Optional path to persist session metadata between server restarts.
	SessionStore string `yaml:"session_store"`
	// Viewport width for new pages (default: 1280).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new pages (default: 720).
	ViewportHeight int `yaml:"viewport_height"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
	// Capabilities enabled for tool registration. Empty means all known capabilities.
	Capabilities []string `yaml:"capabilities"`
}

// ToolsConfig tunes the tool-execution pipeline.
type ToolsConfig struct {
	// Upper bound on waiting for network quiescence after an action (e.g., "5s").
	NetworkIdleTimeout string `yaml:"network_idle_timeout"`
	// How long the page must stay without in-flight requests to count as idle (e.g., "500ms").
	NetworkIdleWindow string `yaml:"network_idle_window"`
	// Longest wait accepted by browser_wait (e.g., "30s").
	MaxWait string `yaml:"max_wait"`
	// Cap on nodes walked per snapshot.
	SnapshotMaxNodes int `yaml:"snapshot_max_nodes"`
	// Directory screenshots are also written to when non-empty.
	OutputDir string `yaml:"output_dir"`
}

// MangleConfig controls the embedded deductive engine.
type MangleConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls the JSONL flight recorder of dispatched tool calls.
type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
	// Number of trace files kept on disk (default: 3).
	MaxFiles int `yaml:"max_files"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "tabpilot-mcp",
			Version: "0.3.0",
			LogFile: "tabpilot-mcp.log",
		},
		Browser: BrowserConfig{
			AutoStart:                false,
			DefaultNavigationTimeout: "15s",
			DefaultActionTimeout:     "5s",
			SessionStore:             "",
			ViewportWidth:            1280,
			ViewportHeight:           720,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Tools: ToolsConfig{
			NetworkIdleTimeout: "5s",
			NetworkIdleWindow:  "500ms",
			MaxWait:            "30s",
			SnapshotMaxNodes:   2000,
		},
		Mangle: MangleConfig{
			Enable:          true,
			SchemaPath:      "",
			FactBufferLimit: 4096,
		},
		Recorder: RecorderConfig{
			Enable:   false,
			Dir:      "data/traces",
			MaxFiles: 3,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .tabpilot/config.yaml file.
// Returns the workspace root directory (parent of .tabpilot/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .tabpilot/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .tabpilot/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	for _, d := range []string{wsDir, filepath.Join(wsDir, "data")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# TabPilot project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# browser:
#   headless: false
#   stealth: true
#   viewport_width: 1280
#   viewport_height: 720

# mcp:
#   capabilities: [core, history, tabs, wait, files, extract, facts]

# tools:
#   network_idle_timeout: "5s"
#   output_dir: "data/screenshots"

# recorder:
#   enable: true
#   dir: "data/traces"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (traces, screenshots, sessions) - do not version control\ndata/\n"
	if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, WorkspaceDirName, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Browser.SessionStore = resolve(cfg.Browser.SessionStore)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	cfg.Tools.OutputDir = resolve(cfg.Tools.OutputDir)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.MCP.SSEPort < 0 || c.MCP.SSEPort > 65535 {
		return fmt.Errorf("mcp.sse_port out of range: %d", c.MCP.SSEPort)
	}
	for _, capability := range c.MCP.Capabilities {
		if !isKnownCapability(capability) {
			return fmt.Errorf("mcp.capabilities: unknown capability %q (known: %v)", capability, KnownCapabilities)
		}
	}
	if c.Tools.SnapshotMaxNodes < 0 {
		return errors.New("tools.snapshot_max_nodes must not be negative")
	}
	return nil
}

func isKnownCapability(name string) bool {
	for _, known := range KnownCapabilities {
		if known == name {
			return true
		}
	}
	return false
}

// EnabledCapabilities returns the capability set tools are filtered against.
func (m MCPConfig) EnabledCapabilities() map[string]bool {
	enabled := make(map[string]bool)
	names := m.Capabilities
	if len(names) == 0 {
		names = KnownCapabilities
	}
	for _, name := range names {
		enabled[name] = true
	}
	return enabled
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDurationOr(b.DefaultNavigationTimeout, 15*time.Second)
}

// ActionTimeout returns the parsed element action timeout with a sane default.
func (b BrowserConfig) ActionTimeout() time.Duration {
	return parseDurationOr(b.DefaultActionTimeout, 5*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// IsIsolated returns whether sessions get their own incognito context (default: true).
func (b BrowserConfig) IsIsolated() bool {
	if b.Isolated == nil {
		return true
	}
	return *b.Isolated
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1280
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 720
	}
	return b.ViewportHeight
}

// IdleTimeout bounds the post-action network quiescence wait.
func (t ToolsConfig) IdleTimeout() time.Duration {
	return parseDurationOr(t.NetworkIdleTimeout, 5*time.Second)
}

// IdleWindow is how long the page must stay quiet to count as idle.
func (t ToolsConfig) IdleWindow() time.Duration {
	return parseDurationOr(t.NetworkIdleWindow, 500*time.Millisecond)
}

// MaxWaitDuration caps browser_wait.
func (t ToolsConfig) MaxWaitDuration() time.Duration {
	return parseDurationOr(t.MaxWait, 30*time.Second)
}

// MaxNodes returns the snapshot node cap with a sane default.
func (t ToolsConfig) MaxNodes() int {
	if t.SnapshotMaxNodes <= 0 {
		return 2000
	}
	return t.SnapshotMaxNodes
}

// GetMaxFiles returns how many trace files to keep.
func (r RecorderConfig) GetMaxFiles() int {
	if r.MaxFiles <= 0 {
		return 3
	}
	return r.MaxFiles
}
