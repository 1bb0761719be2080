package core

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed sitemap.yaml
var embeddedSiteMap []byte

// NavEntry is one navigation link.
type NavEntry struct {
	Path  string `yaml:"path"`
	Label string `yaml:"label"`
}

// RouteSpec declares a page and who may see it.
type RouteSpec struct {
	Name   string   `yaml:"name"`
	Path   string   `yaml:"path"`
	Public bool     `yaml:"public"`
	Roles  []string `yaml:"roles"`
}

// SiteMap is the declarative description of pages and navigation.
type SiteMap struct {
	Navigation struct {
		Base  []NavEntry            `yaml:"base"`
		Roles map[string][]NavEntry `yaml:"roles"`
	} `yaml:"navigation"`
	Routes []RouteSpec `yaml:"routes"`

	byName map[string]RouteSpec
}

// LoadSiteMap reads path, or the embedded site map when path is empty.
func LoadSiteMap(path string) (*SiteMap, error) {
	if path == "" {
		return ParseSiteMap(embeddedSiteMap)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site map: %w", err)
	}
	return ParseSiteMap(b)
}

// ParseSiteMap decodes and checks a YAML site map. Role names are normalized.
func ParseSiteMap(b []byte) (*SiteMap, error) {
	var m SiteMap
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse site map: %w", err)
	}
	if len(m.Navigation.Base) == 0 {
		return nil, fmt.Errorf("site map: navigation.base is empty")
	}

	roles := make(map[string][]NavEntry, len(m.Navigation.Roles))
	for role, entries := range m.Navigation.Roles {
		roles[NormalizeRole(role)] = entries
	}
	m.Navigation.Roles = roles

	m.byName = make(map[string]RouteSpec, len(m.Routes))
	for i, r := range m.Routes {
		if r.Name == "" || r.Path == "" {
			return nil, fmt.Errorf("site map: route %d needs a name and a path", i)
		}
		if _, dup := m.byName[r.Name]; dup {
			return nil, fmt.Errorf("site map: duplicate route %q", r.Name)
		}
		for j := range r.Roles {
			r.Roles[j] = NormalizeRole(r.Roles[j])
		}
		m.Routes[i] = r
		m.byName[r.Name] = r
	}
	return &m, nil
}

// Route looks a route up by name.
func (m *SiteMap) Route(name string) (RouteSpec, bool) {
	r, ok := m.byName[name]
	return r, ok
}

// RoleSet returns the roles allowed on the named route; nil for an unknown
// route or one open to any signed-in user.
func (m *SiteMap) RoleSet(name string) RoleSet {
	r, ok := m.byName[name]
	if !ok {
		return nil
	}
	return NewRoleSet(r.Roles...)
}
