package core

// ComposeNavigation returns the base entries followed, for a signed-in user,
// by the list of their role. Unknown roles only get the base entries.
func (m *SiteMap) ComposeNavigation(user *UserRecord, authenticated bool) []NavEntry {
	out := make([]NavEntry, 0, len(m.Navigation.Base)+4)
	out = append(out, m.Navigation.Base...)
	if !authenticated || user == nil {
		return out
	}
	return append(out, m.Navigation.Roles[NormalizeRole(user.Role)]...)
}

// DashboardPath is where /dashboard sends a user of the given role.
func DashboardPath(role string) string {
	switch NormalizeRole(role) {
	case RoleAdmin:
		return "/admin"
	case RoleFarmer:
		return "/farmer"
	case RoleDelivery:
		return "/delivery"
	default:
		return "/customer"
	}
}
