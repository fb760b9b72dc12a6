package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"

	"runbot/internal/model"
	"runbot/internal/policy"
)

// FullContentMarker prefixes a patch that carries the complete intended file
// content instead of a unified diff.
const FullContentMarker = "FULL_FILE_CONTENT:\n"

const (
	maxOutputChars  = 16000
	excerptChars    = 500
	noOutputMessage = "(no output)"
)

// ActionExecutor applies one approved action against a workspace, enforcing
// the safety policy gates and retrying retryable failures (timeouts) up to
// maxAttempts with a fixed backoff between attempts.
type ActionExecutor struct {
	policy         *policy.SafetyPolicy
	maxAttempts    int
	backoff        time.Duration
	commandTimeout time.Duration
}

func NewActionExecutor(safety *policy.SafetyPolicy, cfg policy.Config) *ActionExecutor {
	attempts := cfg.Execution.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(cfg.Execution.RetryBackoffMS) * time.Millisecond
	if backoff < 0 {
		backoff = 0
	}
	timeout := time.Duration(cfg.Execution.CommandTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &ActionExecutor{
		policy:         safety,
		maxAttempts:    attempts,
		backoff:        backoff,
		commandTimeout: timeout,
	}
}

// Execute runs the approved action and returns the artifact kind and content
// describing the result. Errors are always *ExecutionError.
func (e *ActionExecutor) Execute(ctx context.Context, action model.ProposedAction, workspaceRoot string) (model.ArtifactKind, string, error) {
	switch action.ActionType {
	case model.ActionTypeCommand:
		content, err := e.withRetry(func() (string, error) {
			return e.executeCommand(ctx, action, workspaceRoot)
		})
		return model.ArtifactKindCommandOutput, content, err
	case model.ActionTypeEdit:
		content, err := e.withRetry(func() (string, error) {
			return e.executeEdit(action, workspaceRoot)
		})
		return model.ArtifactKindDiff, content, err
	}
	return "", "", failf(ReasonInvalidAction, "unsupported action type: %s", action.ActionType)
}

// withRetry drives the attempt loop through the retry package's wait
// strategy. The closure returns nil to stop looping on success, exhausted
// attempts, and non-retryable failures; lastErr carries the real outcome.
func (e *ActionExecutor) withRetry(fn func() (string, error)) (string, error) {
	var content string
	var lastErr error
	attempts := 0
	_ = retry.Retry(func(uint) error {
		attempts++
		content, lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var execErr *ExecutionError
		if !errors.As(lastErr, &execErr) || !execErr.Retryable || attempts >= e.maxAttempts {
			return nil
		}
		return lastErr
	}, strategy.Wait(e.backoff))
	if lastErr != nil {
		return "", lastErr
	}
	return content, nil
}

func (e *ActionExecutor) executeCommand(ctx context.Context, action model.ProposedAction, workspaceRoot string) (string, error) {
	command := strings.TrimSpace(action.Command)
	if command == "" {
		return "", failf(ReasonInvalidAction, "missing command for command action")
	}
	if !e.policy.IsCommandAllowed(command) {
		return "", failf(ReasonPolicyViolation, "command blocked by safety policy")
	}

	argv, err := Tokenize(command)
	if err != nil {
		return "", failf(ReasonInvalidAction, "tokenize command: %v", err)
	}
	if len(argv) == 0 {
		return "", failf(ReasonInvalidAction, "command parsed to empty argv")
	}
	if !e.policy.IsCommandSpecAllowed(argv) {
		return "", failf(ReasonPolicyViolation, "command is not in allowlisted shell-free patterns")
	}

	commandCtx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(commandCtx, argv[0], argv[1:]...)
	cmd.Dir = workspaceRoot
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if commandCtx.Err() == context.DeadlineExceeded {
		return "", retryableFailf(ReasonTimeout, "command timed out after %s", e.commandTimeout)
	}
	if runErr != nil && errors.Is(runErr, exec.ErrNotFound) {
		return "", failf(ReasonExecutableNotFound, "command executable not found: %s", argv[0])
	}
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	} else if runErr != nil {
		return "", failf(ReasonInvalidAction, "run command: %v", runErr)
	}

	output := strings.TrimSpace(stdout.String())
	if errOut := strings.TrimSpace(stderr.String()); errOut != "" {
		if output != "" {
			output += "\n"
		}
		output += errOut
	}
	if output == "" {
		output = noOutputMessage
	}
	return fmt.Sprintf("$ %s\nexit_code=%d\n\n%s", command, exitCode, truncate(output, maxOutputChars)), nil
}

func (e *ActionExecutor) executeEdit(action model.ProposedAction, workspaceRoot string) (string, error) {
	if action.FilePath == "" {
		return "", failf(ReasonInvalidAction, "missing file_path for edit action")
	}
	if !e.policy.IsEditPathAllowed(workspaceRoot, action.FilePath) {
		return "", failf(ReasonPolicyViolation, "edit path is outside allowed workspace/suffix policy")
	}
	patch := strings.TrimSpace(action.Patch)
	if patch == "" {
		return "", failf(ReasonInvalidAction, "missing patch content for edit action")
	}

	target := action.FilePath
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", failf(ReasonInvalidAction, "create parent directories for %s: %v", target, err)
	}

	before := ""
	if raw, err := os.ReadFile(target); err == nil {
		before = string(raw)
	} else if !os.IsNotExist(err) {
		return "", failf(ReasonInvalidAction, "read %s: %v", target, err)
	}

	var after string
	switch {
	case LooksLikeUnifiedDiff(patch):
		applied, err := ApplyUnifiedDiff(before, patch)
		if err != nil {
			return "", err
		}
		after = applied
	case strings.HasPrefix(patch, FullContentMarker):
		after = strings.TrimPrefix(patch, FullContentMarker)
	default:
		return "", failf(ReasonMalformedPatch, "unsupported patch format: use unified diff or %q marker", strings.TrimSuffix(FullContentMarker, "\n"))
	}

	if err := os.WriteFile(target, []byte(after), 0o644); err != nil {
		return "", failf(ReasonInvalidAction, "write %s: %v", target, err)
	}

	return fmt.Sprintf(
		"Applied edit to %s\n--- before (%d chars) ---\n%s\n--- after (%d chars) ---\n%s",
		target, len(before), truncate(before, excerptChars), len(after), truncate(after, excerptChars),
	), nil
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n... (truncated)"
}
