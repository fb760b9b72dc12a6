package policy

import (
	"os"
	"path/filepath"
	"strings"

	"runbot/internal/model"
)

// SafetyPolicy answers the pure allow/deny and auto-run questions over
// proposed actions. Safe-command classification is advisory (it only decides
// whether an action can skip human approval); the command/edit gates are the
// hard security boundary re-checked at execution time.
type SafetyPolicy struct {
	safePrefixes    []string
	blockedTokens   []string
	allowedPatterns [][]string
	disallowedArgs  map[string]struct{}
	editSuffixes    map[string]struct{}
	approvalRoles   map[model.ActorRole]struct{}
}

func NewSafetyPolicy(cfg Config) *SafetyPolicy {
	p := &SafetyPolicy{
		safePrefixes:    append([]string(nil), cfg.Safety.SafeCommandPrefixes...),
		blockedTokens:   append([]string(nil), cfg.Safety.BlockedCommandTokens...),
		allowedPatterns: make([][]string, 0, len(cfg.Safety.AllowedCommandPatterns)),
		disallowedArgs:  make(map[string]struct{}, len(cfg.Safety.DisallowedArgTokens)),
		editSuffixes:    make(map[string]struct{}, len(cfg.Safety.AllowedEditSuffixes)),
		approvalRoles:   make(map[model.ActorRole]struct{}, len(cfg.Safety.ApprovalRoles)),
	}
	for _, pattern := range cfg.Safety.AllowedCommandPatterns {
		p.allowedPatterns = append(p.allowedPatterns, append([]string(nil), pattern...))
	}
	for _, token := range cfg.Safety.DisallowedArgTokens {
		p.disallowedArgs[token] = struct{}{}
	}
	for _, suffix := range cfg.Safety.AllowedEditSuffixes {
		p.editSuffixes[strings.ToLower(suffix)] = struct{}{}
	}
	for _, role := range cfg.Safety.ApprovalRoles {
		p.approvalRoles[model.ActorRole(role)] = struct{}{}
	}
	return p
}

// IsSafeCommand reports whether the command may execute without human
// approval: the trimmed command must start with an allowlisted prefix.
func (p *SafetyPolicy) IsSafeCommand(command string) bool {
	cleaned := strings.TrimSpace(command)
	for _, prefix := range p.safePrefixes {
		if strings.HasPrefix(cleaned, prefix) {
			return true
		}
	}
	return false
}

// RequiresApproval: edits always need a human; commands only when unsafe.
func (p *SafetyPolicy) RequiresApproval(action model.ProposedAction) bool {
	switch action.ActionType {
	case model.ActionTypeEdit:
		return true
	case model.ActionTypeCommand:
		return action.Command == "" || !p.IsSafeCommand(action.Command)
	}
	return true
}

// IsCommandAllowed scans the raw command for destructive/privileged tokens.
// The command is lowercased and space-padded so token matches stay
// space-delimited rather than catching substrings of longer words.
func (p *SafetyPolicy) IsCommandAllowed(command string) bool {
	lowered := " " + strings.ToLower(strings.TrimSpace(command)) + " "
	for _, token := range p.blockedTokens {
		if strings.Contains(lowered, token) {
			return false
		}
	}
	return true
}

// IsCommandSpecAllowed is the execution-time gate: the tokenized command must
// exactly prefix-match an allowlisted argv pattern and carry no shell
// metacharacter tokens.
func (p *SafetyPolicy) IsCommandSpecAllowed(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	for _, arg := range argv {
		if _, bad := p.disallowedArgs[arg]; bad {
			return false
		}
	}
	for _, pattern := range p.allowedPatterns {
		if len(argv) < len(pattern) {
			continue
		}
		match := true
		for i, token := range pattern {
			if argv[i] != token {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// IsEditPathAllowed requires the resolved target to live inside the workspace
// root and to carry an allowlisted file extension. Symlinks are resolved
// before the containment check so a link inside the workspace cannot write
// through to a location outside it.
func (p *SafetyPolicy) IsEditPathAllowed(workspaceRoot string, filePath string) bool {
	root, err := resolvePath(workspaceRoot)
	if err != nil {
		return false
	}
	target, err := resolvePath(filePath)
	if err != nil {
		return false
	}
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return false
	}
	_, ok := p.editSuffixes[strings.ToLower(filepath.Ext(target))]
	return ok
}

// resolvePath returns the absolute, symlink-free form of path. Components
// that do not exist yet resolve through their closest existing ancestor, so
// a new file under a resolved directory still gets a real location.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	remainder := ""
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

func (p *SafetyPolicy) CanApprove(role model.ActorRole) bool {
	_, ok := p.approvalRoles[role]
	return ok
}
