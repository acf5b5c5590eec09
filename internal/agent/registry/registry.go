// Package registry resolves a Role to the concrete subprocess command and
// system-prompt file used to spawn a PTY agent for it.
package registry

import (
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/kandev/agentcore/internal/common/errors"
	"github.com/kandev/agentcore/internal/common/logger"
)

// AgentTypeConfig describes how to launch the CLI backing a given role.
type AgentTypeConfig struct {
	Role              string
	Command           []string // argv[0] + flags; no shell interpolation
	WorkingDir        string
	Env               map[string]string
	DisableConfirmFlag string
	Enabled           bool
}

// Registry maps roles to their AgentTypeConfig. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byRole map[string]*AgentTypeConfig
	log    *logger.Logger

	promptDir string
}

// NewRegistry builds an empty registry rooted at promptDir for resolving
// per-role system-prompt files.
func NewRegistry(promptDir string, log *logger.Logger) *Registry {
	return &Registry{
		byRole:    make(map[string]*AgentTypeConfig),
		log:       log.WithFields(zap.String("component", "agent_registry")),
		promptDir: promptDir,
	}
}

// Register adds or replaces the configuration for a role.
func (r *Registry) Register(cfg *AgentTypeConfig) error {
	if cfg.Role == "" {
		return apperrors.ValidationError("role", "must not be empty")
	}
	if len(cfg.Command) == 0 {
		return apperrors.ValidationError("command", "must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRole[cfg.Role] = cfg
	r.log.Info("registered agent type", zap.String("role", cfg.Role))
	return nil
}

// Get returns the configuration for a role.
func (r *Registry) Get(role string) (*AgentTypeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.byRole[role]
	if !ok {
		return nil, apperrors.NotFound("agent_type", role)
	}
	return cfg, nil
}

// List returns every registered agent type.
func (r *Registry) List() []*AgentTypeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AgentTypeConfig, 0, len(r.byRole))
	for _, cfg := range r.byRole {
		out = append(out, cfg)
	}
	return out
}

// SystemPromptPath returns the absolute-relative path (joined against
// promptDir) of role's system prompt. Role.SystemPromptPath() already
// guarantees the role component is a safe identifier; only the final element
// of the argument is kept (filepath.Base), so any directory components a
// caller-constructed value carries are dropped before the join.
func (r *Registry) SystemPromptPath(roleSystemPromptRelPath string) string {
	return filepath.Join(r.promptDir, filepath.Base(roleSystemPromptRelPath))
}

// LoadDefaults registers a minimal built-in agent type per standard role,
// each invoking a placeholder CLI binary name ("agent-cli") that operators
// are expected to override via Register before spawning in production.
func LoadDefaults(r *Registry) {
	roles := []string{"coordinator", "frontend", "backend", "dba", "devops", "security", "qa"}
	for _, role := range roles {
		_ = r.Register(&AgentTypeConfig{
			Role:               role,
			Command:            []string{"agent-cli"},
			Env:                map[string]string{},
			DisableConfirmFlag: "--no-confirm",
			Enabled:            true,
		})
	}
}

// ValidateCommand performs a minimal sanity check used before spawn: the
// command must be non-empty. The elements themselves are not inspected, so
// a first element containing path separators is accepted.
func ValidateCommand(cmd []string) error {
	if len(cmd) == 0 {
		return fmt.Errorf("empty command")
	}
	return nil
}
