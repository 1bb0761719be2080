package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddedMap(t *testing.T) *SiteMap {
	t.Helper()
	m, err := LoadSiteMap("")
	require.NoError(t, err)
	return m
}

func paths(entries []NavEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func TestSiteMap_EmbeddedRoutes(t *testing.T) {
	m := embeddedMap(t)

	home, ok := m.Route("home")
	require.True(t, ok)
	assert.True(t, home.Public)
	assert.Nil(t, m.RoleSet("home"))
	assert.Nil(t, m.RoleSet("dashboard"))
	assert.Nil(t, m.RoleSet("does-not-exist"))

	assert.Equal(t, []string{"admin", "farmer"}, m.RoleSet("farmer").Sorted())
	assert.Equal(t, []string{"admin"}, m.RoleSet("admin").Sorted())
	assert.True(t, m.RoleSet("cart").Has(RoleBuyer))
	assert.False(t, m.RoleSet("cart").Has(RoleAdmin))
	assert.Len(t, m.RoleSet("orders"), 5)
}

func TestComposeNavigation(t *testing.T) {
	m := embeddedMap(t)
	base := []string{"/", "/products"}

	t.Run("anonymous", func(t *testing.T) {
		assert.Equal(t, base, paths(m.ComposeNavigation(nil, false)))
	})
	t.Run("user without token", func(t *testing.T) {
		assert.Equal(t, base, paths(m.ComposeNavigation(&UserRecord{Role: RoleFarmer}, false)))
	})
	t.Run("farmer", func(t *testing.T) {
		assert.Equal(t, []string{"/", "/products", "/farmer", "/orders", "/chat"},
			paths(m.ComposeNavigation(&UserRecord{Role: RoleFarmer}, true)))
	})
	t.Run("buyer sees customer links", func(t *testing.T) {
		customer := m.ComposeNavigation(&UserRecord{Role: RoleCustomer}, true)
		assert.Equal(t, customer, m.ComposeNavigation(&UserRecord{Role: RoleBuyer}, true))
		assert.Contains(t, paths(customer), "/cart")
	})
	t.Run("delivery", func(t *testing.T) {
		nav := m.ComposeNavigation(&UserRecord{Role: "Delivery"}, true)
		assert.Len(t, nav, 3)
		assert.Equal(t, NavEntry{Path: "/delivery", Label: "Livraisons"}, nav[2])
	})
	t.Run("unknown role", func(t *testing.T) {
		assert.Equal(t, base, paths(m.ComposeNavigation(&UserRecord{Role: "inspector"}, true)))
	})
	t.Run("does not alias base entries", func(t *testing.T) {
		nav := m.ComposeNavigation(&UserRecord{Role: RoleAdmin}, true)
		nav[0].Label = "changed"
		assert.Equal(t, "Accueil", m.Navigation.Base[0].Label)
	})
}

func TestDashboardPath(t *testing.T) {
	assert.Equal(t, "/admin", DashboardPath("admin"))
	assert.Equal(t, "/farmer", DashboardPath(" Farmer"))
	assert.Equal(t, "/delivery", DashboardPath("delivery"))
	assert.Equal(t, "/customer", DashboardPath("buyer"))
	assert.Equal(t, "/customer", DashboardPath("customer"))
	assert.Equal(t, "/customer", DashboardPath(""))
}

func TestParseSiteMap_Errors(t *testing.T) {
	cases := map[string]string{
		"no base": `
navigation:
  roles: {}
routes: []`,
		"route without path": `
navigation:
  base: [{path: /, label: Accueil}]
routes:
  - {name: home}`,
		"duplicate route": `
navigation:
  base: [{path: /, label: Accueil}]
routes:
  - {name: home, path: /}
  - {name: home, path: /index}`,
		"not yaml": "navigation: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSiteMap([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadSiteMap_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitemap.yaml")
	doc := `
navigation:
  base: [{path: /, label: Home}]
  roles:
    Farmer: [{path: /farm, label: Farm}]
routes:
  - {name: farm, path: /farm, roles: [" FARMER "]}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	m, err := LoadSiteMap(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"farmer"}, m.RoleSet("farm").Sorted())
	assert.Equal(t, []string{"/", "/farm"}, paths(m.ComposeNavigation(&UserRecord{Role: "farmer"}, true)))

	_, err = LoadSiteMap(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
