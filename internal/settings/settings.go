package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"filegate/gateway/internal/envutil"
)

const schemaVersion = 1

const (
	defaultPendingDir      = "output_pending"
	defaultPreviewMaxBytes = 200 * 1024
	defaultInlineMaxBytes  = 64 * 1024
	defaultSearchLimit     = 200
	maxSearchLimit         = 1000

	defaultAgentCommand   = "claude"
	defaultMaxTurns       = 8
	defaultPermissionMode = "acceptEdits"
	defaultHTTPAddr       = "127.0.0.1:8787"
)

var defaultAllowedTools = []string{"Read", "Write", "Bash"}

const (
	EnvProjectsDir     = "FILEGATE_PROJECTS_DIR"
	EnvRequireApproval = "FILEGATE_REQUIRE_APPROVAL"
	EnvPermissionMode  = "FILEGATE_PERMISSION_MODE"
	EnvHTTPAddr        = "FILEGATE_HTTP_ADDR"
	EnvAgentCommand    = "FILEGATE_AGENT_COMMAND"
	EnvSearchLimit     = "FILEGATE_SEARCH_LIMIT"
)

type AgentSettings struct {
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args,omitempty"`
	MaxTurns       int      `yaml:"max_turns"`
	PermissionMode string   `yaml:"permission_mode"`
	AllowedTools   []string `yaml:"allowed_tools"`
}

type HTTPSettings struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

type Settings struct {
	SchemaVersion   int           `yaml:"schema_version"`
	ProjectsDir     string        `yaml:"projects_dir,omitempty"`
	RequireApproval *bool         `yaml:"require_approval,omitempty"`
	PendingDir      string        `yaml:"pending_dir"`
	PreviewMaxBytes int64         `yaml:"preview_max_bytes"`
	InlineMaxBytes  int64         `yaml:"inline_max_bytes"`
	SearchLimit     int           `yaml:"search_limit"`
	Agent           AgentSettings `yaml:"agent"`
	HTTP            HTTPSettings  `yaml:"http"`
}

// ApprovalRequired reports the effective approval mode; unset means on.
func (s *Settings) ApprovalRequired() bool {
	if s == nil || s.RequireApproval == nil {
		return true
	}
	return *s.RequireApproval
}

func (s *Settings) SetRequireApproval(v bool) {
	s.RequireApproval = &v
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the file (missing means defaults) and backfills empty keys.
// Environment overrides are not applied; see ApplyEnv.
func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultSettings(), nil
		}
		return nil, err
	}
	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	backfillSettings(&settings)
	return &settings, nil
}

func (s *Store) Save(settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backfillSettings(settings)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	settings, err := s.Load()
	if err != nil {
		return nil, err
	}
	fn(settings)
	return settings, s.Save(settings)
}

// ApplyEnv layers process environment on top of file values. Environment
// wins over the file; command-line flags are applied by the caller after.
func ApplyEnv(settings *Settings) {
	settings.ProjectsDir = envutil.String(EnvProjectsDir, settings.ProjectsDir)
	if v, ok := envutil.LookupBool(EnvRequireApproval); ok {
		settings.SetRequireApproval(v)
	}
	settings.Agent.Command = envutil.String(EnvAgentCommand, settings.Agent.Command)
	settings.Agent.PermissionMode = envutil.String(EnvPermissionMode, settings.Agent.PermissionMode)
	settings.HTTP.Addr = envutil.String(EnvHTTPAddr, settings.HTTP.Addr)
	settings.SearchLimit = clampSearchLimit(envutil.Int(EnvSearchLimit, settings.SearchLimit))
}

func defaultSettings() *Settings {
	settings := &Settings{}
	backfillSettings(settings)
	return settings
}

func backfillSettings(settings *Settings) {
	if settings.SchemaVersion == 0 {
		settings.SchemaVersion = schemaVersion
	}
	if settings.RequireApproval == nil {
		settings.SetRequireApproval(true)
	}
	settings.PendingDir = strings.Trim(strings.TrimSpace(settings.PendingDir), "/")
	if settings.PendingDir == "" {
		settings.PendingDir = defaultPendingDir
	}
	if settings.PreviewMaxBytes <= 0 {
		settings.PreviewMaxBytes = defaultPreviewMaxBytes
	}
	if settings.InlineMaxBytes <= 0 {
		settings.InlineMaxBytes = defaultInlineMaxBytes
	}
	// The inline cap bounds prompt embedding and must stay below the preview cap.
	if settings.InlineMaxBytes >= settings.PreviewMaxBytes {
		settings.InlineMaxBytes = settings.PreviewMaxBytes / 2
	}
	settings.SearchLimit = clampSearchLimit(settings.SearchLimit)
	backfillAgent(&settings.Agent)
	if strings.TrimSpace(settings.HTTP.Addr) == "" {
		settings.HTTP.Addr = defaultHTTPAddr
	}
}

func backfillAgent(agent *AgentSettings) {
	if strings.TrimSpace(agent.Command) == "" {
		agent.Command = defaultAgentCommand
	}
	if agent.MaxTurns <= 0 {
		agent.MaxTurns = defaultMaxTurns
	}
	if strings.TrimSpace(agent.PermissionMode) == "" {
		agent.PermissionMode = defaultPermissionMode
	}
	if len(agent.AllowedTools) == 0 {
		agent.AllowedTools = append([]string(nil), defaultAllowedTools...)
	}
}

func clampSearchLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}
