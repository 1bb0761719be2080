package core

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const homeFeatured = 8

func (s *Server) static(name, title string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.render(c, http.StatusOK, name, gin.H{"Title": title})
	}
}

func (s *Server) Home(c *gin.Context) {
	api := browserSession(c).API
	products, err := api.ListProducts(c.Request.Context(), nil)
	data := gin.H{"Title": "Accueil"}
	if err != nil {
		if IsUnauthorized(err) {
			s.toLogin(c)
			return
		}
		// the catalog teaser is optional on the landing page
		data["Error"] = Classify(err).Message
	}
	if len(products) > homeFeatured {
		products = products[:homeFeatured]
	}
	data["Products"] = products
	s.render(c, http.StatusOK, "home", data)
}

func (s *Server) Products(c *gin.Context) {
	ctx := c.Request.Context()
	api := browserSession(c).API
	q := strings.TrimSpace(c.Query("q"))
	filter := url.Values{}
	if cat := c.Query("category"); cat != "" {
		filter.Set("category", cat)
	}

	var (
		products []Product
		err      error
	)
	if q != "" {
		products, err = api.SearchProducts(ctx, q, filter)
	} else {
		products, err = api.ListProducts(ctx, filter)
	}
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	categories, err := api.Categories(ctx)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "products", gin.H{
		"Title":      "Produits",
		"Products":   products,
		"Categories": categories,
		"Query":      q,
		"Category":   c.Query("category"),
	})
}

func (s *Server) ProductDetail(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := browserSession(c).API.GetProduct(c.Request.Context(), id)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "product", gin.H{"Title": p.Name, "Product": p})
}

func (s *Server) LoginPage(c *gin.Context) {
	bs := browserSession(c)
	if bs.Auth.IsAuthenticated(c.Request.Context()) {
		c.Redirect(http.StatusSeeOther, "/dashboard")
		return
	}
	s.render(c, http.StatusOK, "login", gin.H{
		"Title": "Connexion",
		"Next":  c.Query("next"),
		"Error": bs.Auth.Snapshot().Error,
	})
}

func (s *Server) Login(c *gin.Context) {
	bs := browserSession(c)
	email := strings.TrimSpace(c.PostForm("email"))
	next := c.PostForm("next")

	res := bs.Auth.Login(c.Request.Context(), email, c.PostForm("password"))
	if !res.Success {
		s.render(c, authFailureStatus(res.Kind), "login", gin.H{
			"Title": "Connexion",
			"Next":  next,
			"Email": email,
			"Error": res.Message,
		})
		return
	}
	bs.Auth.ClearError()
	if dest, ok := localPath(next); ok {
		c.Redirect(http.StatusSeeOther, dest)
		return
	}
	c.Redirect(http.StatusSeeOther, "/dashboard")
}

// authFailureStatus is the status of a login or register form shown again after a failure.
// Rejected credentials and field errors are a normal form round trip.
func authFailureStatus(k ErrorKind) int {
	switch k {
	case KindNetwork, KindServer:
		return http.StatusBadGateway
	case KindBusy:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func (s *Server) RegisterPage(c *gin.Context) {
	if browserSession(c).Auth.IsAuthenticated(c.Request.Context()) {
		c.Redirect(http.StatusSeeOther, "/dashboard")
		return
	}
	s.render(c, http.StatusOK, "register", gin.H{
		"Title": "Inscription",
		"Form":  RegistrationInput{Role: RoleCustomer},
	})
}

func (s *Server) Register(c *gin.Context) {
	bs := browserSession(c)
	var in RegistrationInput
	if err := c.ShouldBind(&in); err != nil {
		s.render(c, http.StatusBadRequest, "register", gin.H{"Title": "Inscription", "Form": in, "Error": msgRegisterFail})
		return
	}
	in.Email = strings.TrimSpace(in.Email)
	in.Role = NormalizeRole(in.Role)

	res := bs.Auth.Register(c.Request.Context(), in)
	if !res.Success {
		if res.Kind == KindUnauthorized {
			s.toLogin(c)
			return
		}
		in.Password, in.PasswordConfirm = "", ""
		s.render(c, authFailureStatus(res.Kind), "register", gin.H{"Title": "Inscription", "Form": in, "Error": res.Message})
		return
	}
	bs.Auth.ClearError()
	c.Redirect(http.StatusSeeOther, "/dashboard")
}

func (s *Server) Logout(c *gin.Context) {
	if err := browserSession(c).Auth.Logout(c.Request.Context()); err != nil {
		s.log.Error().Err(err).Msg("failed to clear stored credentials on logout")
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) Dashboard(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, DashboardPath(currentUser(c).Role))
}

func (s *Server) ProfilePage(c *gin.Context) {
	s.render(c, http.StatusOK, "profile", gin.H{"Title": "Mon profil", "Profile": currentUser(c)})
}

// profileFields are the user fields the profile form may change.
var profileFields = []string{"first_name", "last_name", "phone_number", "address", "farm_name", "company_name"}

func (s *Server) UpdateProfile(c *gin.Context) {
	ctx := c.Request.Context()
	bs := browserSession(c)

	partial := make(map[string]any, len(profileFields))
	for _, f := range profileFields {
		if v, ok := c.GetPostForm(f); ok {
			partial[f] = strings.TrimSpace(v)
		}
	}
	if phone, ok := partial["phone_number"].(string); ok && phone != "" {
		if !validPhone(phone) {
			s.flash(c, "Téléphone n'est pas un numéro valide")
			c.Redirect(http.StatusSeeOther, "/profile")
			return
		}
		partial["phone_number"] = normalizePhone(phone)
	}

	if _, err := bs.API.UpdateProfile(ctx, partial); err != nil {
		s.actionFailed(c, err, "/profile")
		return
	}
	if _, err := bs.Auth.UpdateUser(ctx, partial); err != nil {
		s.log.Error().Err(err).Msg("failed to update cached user")
	}
	s.flash(c, "Profil mis à jour")
	c.Redirect(http.StatusSeeOther, "/profile")
}
