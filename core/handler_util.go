package core

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

// retryAfterSeconds is sent with the loading view; the page refreshes itself after it.
const retryAfterSeconds = 1

// Server holds what the page handlers share.
type Server struct {
	cfg       Config
	registry  *SessionRegistry
	siteMap   *SiteMap
	validator *Validator
	log       zerolog.Logger
}

func NewServer(cfg Config, registry *SessionRegistry, siteMap *SiteMap, validator *Validator, log zerolog.Logger) *Server {
	if validator == nil {
		validator = NewValidator()
	}
	return &Server{cfg: cfg, registry: registry, siteMap: siteMap, validator: validator, log: log}
}

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// render executes the named page with the layout data every page needs.
func (s *Server) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	bs := browserSession(c)
	snap := bs.Auth.Snapshot()
	authed := bs.Auth.IsAuthenticated(c.Request.Context())
	var user *UserRecord
	if authed {
		user = snap.User
	}
	data["User"] = user
	data["Authenticated"] = authed
	data["Nav"] = s.siteMap.ComposeNavigation(snap.User, authed)
	data["CSRF"] = c.GetString(ctxKeyCSRF)
	data["Path"] = c.Request.URL.Path
	data["Flashes"] = s.takeFlashes(c)
	c.HTML(status, name, data)
}

// flash queues a message for the next rendered page.
func (s *Server) flash(c *gin.Context, msg string) {
	sess, ok := c.MustGet(ctxKeySession).(*sessions.Session)
	if !ok {
		return
	}
	sess.AddFlash(msg)
	if err := sess.Save(c.Request, c.Writer); err != nil {
		s.log.Error().Err(err).Msg("failed to save flash")
	}
}

func (s *Server) takeFlashes(c *gin.Context) []string {
	sess, ok := c.MustGet(ctxKeySession).(*sessions.Session)
	if !ok {
		return nil
	}
	raw := sess.Flashes()
	if len(raw) == 0 {
		return nil
	}
	if err := sess.Save(c.Request, c.Writer); err != nil {
		s.log.Error().Err(err).Msg("failed to drop flashes")
	}
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if msg, ok := f.(string); ok {
			out = append(out, msg)
		}
	}
	return out
}

// toLogin drops the in-memory session and sends the browser to the login page,
// the server-side equivalent of a full page load of /login.
func (s *Server) toLogin(c *gin.Context) {
	bs := browserSession(c)
	s.registry.Forget(bs.ID)
	if c.Request.URL.Path == "/login" {
		s.render(c, http.StatusUnauthorized, "login", gin.H{"Title": "Connexion", "Error": msgSessionExpire})
		c.Abort()
		return
	}
	c.Redirect(http.StatusSeeOther, "/login")
	c.Abort()
}

// pageFailed renders the error page for a failed backend read.
func (s *Server) pageFailed(c *gin.Context, err error) {
	f := Classify(err)
	if f.Kind == KindUnauthorized {
		s.toLogin(c)
		return
	}
	s.log.Warn().Err(err).Str("path", c.Request.URL.Path).Str("kind", f.Kind.String()).Msg("backend call failed")
	s.render(c, statusForKind(f.Kind), "error", gin.H{"Title": "Erreur", "Message": f.Message})
}

// actionFailed flashes the failure of a form action and returns to back.
func (s *Server) actionFailed(c *gin.Context, err error, back string) {
	f := Classify(err)
	if f.Kind == KindUnauthorized {
		s.toLogin(c)
		return
	}
	s.log.Info().Err(err).Str("path", c.Request.URL.Path).Str("kind", f.Kind.String()).Msg("action rejected")
	s.flash(c, f.Message)
	c.Redirect(http.StatusSeeOther, back)
}

func statusForKind(k ErrorKind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBusy:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// currentUser is set by RequireRoles once the guard let the request through.
func currentUser(c *gin.Context) UserRecord {
	u, _ := c.MustGet(ctxKeyUser).(UserRecord)
	return u
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.Status(http.StatusNotFound)
		c.Abort()
		return 0, false
	}
	return id, true
}

// localPath accepts only same-site paths for post-login redirects.
func localPath(next string) (string, bool) {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "", false
	}
	return next, true
}
