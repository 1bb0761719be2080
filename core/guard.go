package core

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RoleSet is a set of normalized role names. An empty set admits any signed-in user.
type RoleSet map[string]struct{}

func NewRoleSet(roles ...string) RoleSet {
	if len(roles) == 0 {
		return nil
	}
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[NormalizeRole(r)] = struct{}{}
	}
	return s
}

func (s RoleSet) Has(role string) bool {
	_, ok := s[NormalizeRole(role)]
	return ok
}

// Sorted lists the roles for display.
func (s RoleSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Decision is what the guard does with a request.
type Decision int

const (
	DecisionRender Decision = iota
	DecisionLoading
	DecisionRedirectLogin
	DecisionAccessDenied
)

func (d Decision) String() string {
	switch d {
	case DecisionLoading:
		return "loading"
	case DecisionRedirectLogin:
		return "redirect_login"
	case DecisionAccessDenied:
		return "access_denied"
	default:
		return "render"
	}
}

// Decide applies the guard rules in order: loading, no user, role mismatch, render.
func Decide(s Session, allowed RoleSet) Decision {
	switch {
	case s.IsLoading:
		return DecisionLoading
	case s.User == nil:
		return DecisionRedirectLogin
	case len(allowed) > 0 && !allowed.Has(s.User.Role):
		return DecisionAccessDenied
	default:
		return DecisionRender
	}
}

// loginRedirect builds /login?next=<path+query> for the current request.
// Form posts are not replayable, so they return to plain /login.
func loginRedirect(r *http.Request) string {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return "/login"
	}
	next := r.URL.Path
	if r.URL.RawQuery != "" {
		next += "?" + r.URL.RawQuery
	}
	return "/login?next=" + url.QueryEscape(next)
}

// RequireRoles guards the named site map route.
func (s *Server) RequireRoles(route string) gin.HandlerFunc {
	allowed := s.siteMap.RoleSet(route)
	return func(c *gin.Context) {
		bs := browserSession(c)
		bs.Auth.WaitReady(c.Request.Context(), s.cfg.StartupWait)
		snap := bs.Auth.Snapshot()

		d := Decide(snap, allowed)
		guardDecisions.WithLabelValues(route, d.String()).Inc()
		switch d {
		case DecisionLoading:
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
			s.render(c, http.StatusServiceUnavailable, "loading", gin.H{"Title": "Chargement", "Refresh": retryAfterSeconds})
			c.Abort()
		case DecisionRedirectLogin:
			c.Redirect(http.StatusSeeOther, loginRedirect(c.Request))
			c.Abort()
		case DecisionAccessDenied:
			s.render(c, http.StatusForbidden, "denied", gin.H{
				"Title":   "Accès refusé",
				"Role":    snap.User.Role,
				"Allowed": allowed.Sorted(),
			})
			c.Abort()
		default:
			c.Set(ctxKeyUser, *snap.User)
			c.Next()
		}
	}
}
