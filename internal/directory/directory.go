package directory

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Permissions checked by the workflow and the HTTP API.
const (
	PermOverride    = "expense:override"
	PermManageRules = "rules:manage"
	PermViewAll     = "expense:view_all"
)

// Service is the directory boundary consumed by the approval workflow.
type Service interface {
	ManagerOf(userID string) (string, bool)
	UsersWithRole(role string) []string
	HasRole(userID, role string) bool
	Can(userID, permission string) bool
}

// User is one directory entry.
type User struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Email   string   `yaml:"email,omitempty" json:"email,omitempty"`
	Roles   []string `yaml:"roles" json:"roles"`
	Manager string   `yaml:"manager,omitempty" json:"manager,omitempty"`
}

// File is the on-disk directory document.
type File struct {
	Users           []User              `yaml:"users"`
	RolePermissions map[string][]string `yaml:"role_permissions"`
}

// Static is an immutable, in-memory directory.
type Static struct {
	users map[string]*User
	order []string
	perms map[string][]string
}

// DefaultPermissions grants admins every permission.
func DefaultPermissions() map[string][]string {
	return map[string][]string{
		"admin": {PermOverride, PermManageRules, PermViewAll},
	}
}

// NewStatic builds a directory from users and role permissions.
func NewStatic(users []User, perms map[string][]string) *Static {
	if perms == nil {
		perms = DefaultPermissions()
	}
	s := &Static{
		users: make(map[string]*User, len(users)),
		perms: perms,
	}
	for i := range users {
		u := users[i]
		if _, dup := s.users[u.ID]; !dup {
			s.order = append(s.order, u.ID)
		}
		s.users[u.ID] = &u
	}
	return s
}

// Load reads a directory YAML file. A missing file yields an empty directory.
func Load(path string) (*Static, error) {
	if path == "" {
		return NewStatic(nil, nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStatic(nil, nil), nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse directory: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return NewStatic(f.Users, f.RolePermissions), nil
}

// Validate checks ids are unique and managers exist.
func (f File) Validate() error {
	seen := make(map[string]bool, len(f.Users))
	for _, u := range f.Users {
		if strings.TrimSpace(u.ID) == "" {
			return fmt.Errorf("directory: user with empty id")
		}
		if seen[u.ID] {
			return fmt.Errorf("directory: duplicate user id %q", u.ID)
		}
		seen[u.ID] = true
	}
	for _, u := range f.Users {
		if u.Manager != "" && !seen[u.Manager] {
			return fmt.Errorf("directory: user %q has unknown manager %q", u.ID, u.Manager)
		}
		if u.Manager == u.ID && u.Manager != "" {
			return fmt.Errorf("directory: user %q manages themself", u.ID)
		}
	}
	return nil
}

// Lookup returns the user with the given id, or nil.
func (s *Static) Lookup(id string) *User {
	return s.users[id]
}

// Users returns all users in file order.
func (s *Static) Users() []User {
	out := make([]User, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.users[id])
	}
	return out
}

// ManagerOf returns the manager of userID, if any.
func (s *Static) ManagerOf(userID string) (string, bool) {
	u := s.users[userID]
	if u == nil || u.Manager == "" {
		return "", false
	}
	return u.Manager, true
}

// UsersWithRole returns ids holding role, in file order.
func (s *Static) UsersWithRole(role string) []string {
	var out []string
	for _, id := range s.order {
		if hasRole(s.users[id], role) {
			out = append(out, id)
		}
	}
	return out
}

// HasRole reports whether userID holds role. Matching is case-insensitive.
func (s *Static) HasRole(userID, role string) bool {
	return hasRole(s.users[userID], role)
}

// Can reports whether any of userID's roles grants permission.
func (s *Static) Can(userID, permission string) bool {
	u := s.users[userID]
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		for _, p := range s.perms[strings.ToLower(r)] {
			if p == "*" || p == permission {
				return true
			}
		}
	}
	return false
}

// Roles returns the sorted set of roles present in the directory.
func (s *Static) Roles() []string {
	set := make(map[string]bool)
	for _, u := range s.users {
		for _, r := range u.Roles {
			set[strings.ToLower(r)] = true
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func hasRole(u *User, role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// DefaultYAML returns a sample directory for spendgate init.
func DefaultYAML() string {
	return `# spendgate user directory
# Generated by: spendgate init
#
# manager is the user id that role:manager resolves to for that user.
# role_permissions grants permissions to roles:
#   expense:override  force an outcome on open expenses
#   rules:manage      add, edit and remove rules over the HTTP API
#   expense:view_all  read every expense over the HTTP API

users:
  - id: admin
    name: Admin
    roles: [admin]
  - id: dana
    name: Dana Director
    roles: [director]
  - id: frank
    name: Frank Finance
    roles: [finance]
    manager: dana
  - id: maria
    name: Maria Manager
    roles: [manager]
    manager: dana
  - id: eli
    name: Eli Employee
    roles: [employee]
    manager: maria

role_permissions:
  admin: [expense:override, rules:manage, expense:view_all]
`
}
