package authz

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// CatalogEntry is the static definition of one role
type CatalogEntry struct {
	Name           string   `yaml:"name" json:"name"`
	Administrative bool     `yaml:"administrative" json:"administrative"`
	Permissions    []string `yaml:"permissions" json:"permissions"`
}

// PermissionCatalog is the versioned role -> permission table shipped with the binary.
// Only administrative entries are ever used to grant permissions.
type PermissionCatalog struct {
	Version int                     `yaml:"version" json:"version"`
	Roles   map[string]CatalogEntry `yaml:"roles" json:"roles"`
}

var defaultCatalog *PermissionCatalog

func init() {
	c, err := ParseCatalog(catalogYAML)
	if err != nil {
		panic(fmt.Sprintf("authz: embedded catalog is invalid: %v", err))
	}
	defaultCatalog = c
}

// DefaultCatalog returns the embedded catalog
func DefaultCatalog() *PermissionCatalog {
	return defaultCatalog
}

// ParseCatalog decodes and validates a catalog document
func ParseCatalog(data []byte) (*PermissionCatalog, error) {
	var c PermissionCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if c.Version <= 0 {
		return nil, fmt.Errorf("catalog version must be positive")
	}
	for code, entry := range c.Roles {
		if code == "" {
			return nil, fmt.Errorf("catalog contains a role with an empty code")
		}
		if entry.Administrative && len(entry.Permissions) == 0 {
			return nil, fmt.Errorf("administrative role %s has no permissions", code)
		}
	}
	return &c, nil
}

// IsAdministrative reports whether roleCode is a designated administrative role
func (c *PermissionCatalog) IsAdministrative(roleCode string) bool {
	if c == nil || roleCode == "" {
		return false
	}
	entry, ok := c.Roles[roleCode]
	return ok && entry.Administrative
}

// FallbackFor returns the static permissions for an administrative role.
// The second result is false for unknown or non-administrative roles.
func (c *PermissionCatalog) FallbackFor(roleCode string) (PermissionSet, bool) {
	if !c.IsAdministrative(roleCode) {
		return nil, false
	}
	return NewPermissionSet(c.Roles[roleCode].Permissions...), true
}

// AdministrativeRoles lists the administrative role codes in lexical order
func (c *PermissionCatalog) AdministrativeRoles() []string {
	if c == nil {
		return nil
	}
	var out []string
	for code, entry := range c.Roles {
		if entry.Administrative {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}
