// Package agent defines the shared role taxonomy and identifiers used by
// both the PTY-backed Agent Manager and the Agent Protocol Server.
package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// Role is the routing key used to select a concrete agent and its
// system-prompt file.
type Role struct {
	kind custom
	name string
}

type custom int

const (
	kindStandard custom = iota
	kindCustom
)

var customNameRe = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Standard roles. Use these constructors rather than constructing a Role
// literal so the zero value (Role{}) is never mistaken for a valid role.
var (
	RoleCoordinator = Role{kind: kindStandard, name: "coordinator"}
	RoleFrontend    = Role{kind: kindStandard, name: "frontend"}
	RoleBackend     = Role{kind: kindStandard, name: "backend"}
	RoleDBA         = Role{kind: kindStandard, name: "dba"}
	RoleDevOps      = Role{kind: kindStandard, name: "devops"}
	RoleSecurity    = Role{kind: kindStandard, name: "security"}
	RoleQA          = Role{kind: kindStandard, name: "qa"}
)

var standardRoles = map[string]Role{
	RoleCoordinator.name: RoleCoordinator,
	RoleFrontend.name:    RoleFrontend,
	RoleBackend.name:     RoleBackend,
	RoleDBA.name:         RoleDBA,
	RoleDevOps.name:      RoleDevOps,
	RoleSecurity.name:    RoleSecurity,
	RoleQA.name:          RoleQA,
}

// CustomRole builds a Role for an operator-defined specialization. name must
// match ^[a-z0-9_-]{1,64}$ or ParseRole/CustomRole returns an error.
func CustomRole(name string) (Role, error) {
	if !customNameRe.MatchString(name) {
		return Role{}, fmt.Errorf("custom role name %q does not match %s", name, customNameRe.String())
	}
	return Role{kind: kindCustom, name: name}, nil
}

// ParseRole parses a case-insensitive role string into a Role. Standard
// roles match by name; anything else is treated as a custom role and must
// satisfy the safe-identifier regex.
func ParseRole(s string) (Role, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return Role{}, fmt.Errorf("role must not be empty")
	}
	if r, ok := standardRoles[lower]; ok {
		return r, nil
	}
	return CustomRole(lower)
}

// String returns the lowercase canonical name of the role.
func (r Role) String() string {
	return r.name
}

// IsCustom reports whether this is an operator-defined role.
func (r Role) IsCustom() bool {
	return r.kind == kindCustom
}

// IsZero reports whether r is the zero Role (never a valid parsed role).
func (r Role) IsZero() bool {
	return r.name == ""
}

// SystemPromptPath returns the path (relative to the configured
// system-prompt directory) of the role's system-prompt file. Custom role
// names are already validated against the safe-identifier regex at
// construction time, so this never produces a path-traversal-capable value.
func (r Role) SystemPromptPath() string {
	return fmt.Sprintf("agents/%s.md", r.name)
}

// Equal reports whether two roles refer to the same routing key.
func (r Role) Equal(other Role) bool {
	return r.kind == other.kind && r.name == other.name
}
