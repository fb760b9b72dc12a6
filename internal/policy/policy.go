package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"runbot/internal/model"
)

const DefaultPolicyPath = ".runbot/policy.json"

// Config is the process configuration: safety lists plus the knobs for the
// sandbox manager, the action executor, the run queue, and the run store.
// Loaded from a JSON file; no process-wide mutable globals.
type Config struct {
	Version int `json:"version"`
	Safety  struct {
		SafeCommandPrefixes    []string   `json:"safe_command_prefixes"`
		BlockedCommandTokens   []string   `json:"blocked_command_tokens"`
		AllowedCommandPatterns [][]string `json:"allowed_command_patterns"`
		DisallowedArgTokens    []string   `json:"disallowed_arg_tokens"`
		AllowedEditSuffixes    []string   `json:"allowed_edit_suffixes"`
		ApprovalRoles          []string   `json:"approval_roles"`
	} `json:"safety"`
	Sandbox struct {
		Enabled     bool     `json:"enabled"`
		Root        string   `json:"root"`
		ExcludeDirs []string `json:"exclude_dirs"`
	} `json:"sandbox"`
	Execution struct {
		RetryAttempts         int `json:"retry_attempts"`
		RetryBackoffMS        int `json:"retry_backoff_ms"`
		CommandTimeoutSeconds int `json:"command_timeout_seconds"`
	} `json:"execution"`
	Queue struct {
		WorkerEnabled bool   `json:"worker_enabled"`
		RedisURL      string `json:"redis_url,omitempty"`
	} `json:"queue"`
	Store struct {
		Backend string `json:"backend"`
		Path    string `json:"path"`
	} `json:"store"`
}

func Default() Config {
	cfg := Config{Version: 1}
	cfg.Safety.SafeCommandPrefixes = []string{
		"pytest",
		"python -m pytest",
		"python3 -m pytest",
		"ruff check",
		"ruff format",
		"npm test",
		"npm run lint",
		"npm run build",
		"go test",
		"go vet",
		"golangci-lint run",
	}
	cfg.Safety.BlockedCommandTokens = []string{
		" rm ",
		"rm -rf",
		"sudo",
		"chmod 777",
		"mkfs",
		"shutdown",
		"reboot",
		":(){",
	}
	cfg.Safety.AllowedCommandPatterns = [][]string{
		{"pytest"},
		{"python", "-m", "pytest"},
		{"python3", "-m", "pytest"},
		{"ruff", "check"},
		{"ruff", "format"},
		{"npm", "test"},
		{"npm", "run", "lint"},
		{"npm", "run", "build"},
		{"go", "test"},
		{"go", "vet"},
		{"golangci-lint", "run"},
	}
	cfg.Safety.DisallowedArgTokens = []string{"&&", "||", ";", "|", ">", ">>", "<", "2>", "&"}
	cfg.Safety.AllowedEditSuffixes = []string{".py", ".md", ".txt", ".json", ".yaml", ".yml", ".toml", ".go"}
	cfg.Safety.ApprovalRoles = []string{string(model.RoleApprover), string(model.RoleAdmin)}
	cfg.Sandbox.Enabled = true
	cfg.Sandbox.Root = ".runbot/sandboxes"
	cfg.Sandbox.ExcludeDirs = []string{".runbot", ".git", ".venv", "node_modules", "__pycache__", ".pytest_cache"}
	cfg.Execution.RetryAttempts = 2
	cfg.Execution.RetryBackoffMS = 200
	cfg.Execution.CommandTimeoutSeconds = 90
	cfg.Queue.WorkerEnabled = true
	cfg.Store.Backend = "memory"
	cfg.Store.Path = ".runbot/runs.db"
	return cfg
}

func Load(path string) (Config, string, error) {
	cfg := Default()
	finalPath := path
	if strings.TrimSpace(finalPath) == "" {
		finalPath = DefaultPolicyPath
	}
	if _, err := os.Stat(finalPath); os.IsNotExist(err) {
		return cfg, finalPath, nil
	}

	b, err := os.ReadFile(finalPath)
	if err != nil {
		return cfg, finalPath, fmt.Errorf("read policy %s: %w", finalPath, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("parse policy %s: %w", finalPath, err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("validate policy %s: %w", finalPath, err)
	}
	return cfg, finalPath, nil
}

func SaveDefault(path string) error {
	cfg := Default()
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func Validate(cfg Config) error {
	if cfg.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}
	if len(cfg.Safety.AllowedCommandPatterns) == 0 {
		return fmt.Errorf("safety.allowed_command_patterns cannot be empty")
	}
	for _, pattern := range cfg.Safety.AllowedCommandPatterns {
		if len(pattern) == 0 {
			return fmt.Errorf("safety.allowed_command_patterns entries cannot be empty")
		}
	}
	if len(cfg.Safety.AllowedEditSuffixes) == 0 {
		return fmt.Errorf("safety.allowed_edit_suffixes cannot be empty")
	}
	if len(cfg.Safety.ApprovalRoles) == 0 {
		return fmt.Errorf("safety.approval_roles cannot be empty")
	}
	if cfg.Sandbox.Enabled && strings.TrimSpace(cfg.Sandbox.Root) == "" {
		return fmt.Errorf("sandbox.root cannot be empty when sandboxing is enabled")
	}
	if cfg.Execution.RetryAttempts < 1 {
		return fmt.Errorf("execution.retry_attempts must be >= 1")
	}
	if cfg.Execution.RetryBackoffMS < 0 {
		return fmt.Errorf("execution.retry_backoff_ms must be >= 0")
	}
	if cfg.Execution.CommandTimeoutSeconds <= 0 {
		return fmt.Errorf("execution.command_timeout_seconds must be > 0")
	}
	switch cfg.Store.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.backend must be memory|sqlite")
	}
	return nil
}
