package core

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"join":  strings.Join,
	"money": func(v fmt.Stringer) string { return v.String() + " FCFA" },
	"statusLabel": func(s string) string {
		if l, ok := orderStatusLabels[s]; ok {
			return l
		}
		return s
	},
	"isRole": func(u *UserRecord, roles ...string) bool {
		return u != nil && NewRoleSet(roles...).Has(u.Role)
	},
}

var orderStatusLabels = map[string]string{
	"pending":     "En attente",
	"confirmed":   "Confirmée",
	"preparing":   "En préparation",
	"ready":       "Prête",
	"in_delivery": "En livraison",
	"delivered":   "Livrée",
	"cancelled":   "Annulée",
}

// ParseTemplates loads the embedded page templates.
func ParseTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.tmpl")
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, store *sessions.CookieStore, srv *Server) (*gin.Engine, error) {
	tmpl, err := ParseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	r := gin.Default()
	r.SetHTMLTemplate(tmpl)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": srv.registry.Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Browser middleware: origin/CORS -> session -> CSRF -> browser auth session
	browser := []gin.HandlerFunc{
		OriginRefererMiddleware(cfg),
		SessionMiddleware(cfg, store),
		CSRFMiddleware(cfg, store),
		BrowserSessionMiddleware(srv.registry),
		// public pages wait for the startup check too, so the header shows the right user
		func(c *gin.Context) {
			browserSession(c).Auth.WaitReady(c.Request.Context(), cfg.StartupWait)
			c.Next()
		},
	}
	web := r.Group("/", browser...)

	web.GET("/", srv.Home)
	web.GET("/products", srv.Products)
	web.GET("/products/:id", srv.ProductDetail)
	web.GET("/about", srv.static("about", "À propos"))
	web.GET("/terms", srv.static("terms", "Conditions d'utilisation"))
	web.GET("/contact", srv.static("contact", "Contact"))

	web.GET("/login", srv.LoginPage)
	web.POST("/login", srv.Login)
	web.GET("/register", srv.RegisterPage)
	web.POST("/register", srv.Register)
	web.POST("/logout", srv.Logout)

	web.GET("/dashboard", srv.RequireRoles("dashboard"), srv.Dashboard)
	web.GET("/profile", srv.RequireRoles("profile"), srv.ProfilePage)
	web.POST("/profile", srv.RequireRoles("profile"), srv.UpdateProfile)

	farmer := web.Group("/farmer", srv.RequireRoles("farmer"))
	{
		farmer.GET("", srv.FarmerDashboard)
		farmer.POST("/products", srv.CreateProduct)
		farmer.POST("/products/:id", srv.UpdateProduct)
		farmer.POST("/products/:id/delete", srv.DeleteProduct)
	}

	web.GET("/customer", srv.RequireRoles("customer"), srv.CustomerDashboard)

	cart := web.Group("/cart", srv.RequireRoles("cart"))
	{
		cart.GET("", srv.CartPage)
		cart.POST("/add", srv.AddToCart)
		cart.POST("/items/:id", srv.UpdateCartItem)
		cart.POST("/items/:id/remove", srv.RemoveCartItem)
		cart.POST("/clear", srv.ClearCart)
		cart.POST("/checkout", srv.Checkout)
	}

	admin := web.Group("/admin", srv.RequireRoles("admin"))
	{
		admin.GET("", srv.AdminDashboard)
		admin.GET("/users/:id", srv.AdminUser)
	}
	web.GET("/delivery", srv.RequireRoles("delivery"), srv.DeliveryDashboard)

	orders := web.Group("/orders", srv.RequireRoles("orders"))
	{
		orders.GET("", srv.OrdersPage)
		orders.GET("/:id", srv.OrderDetail)
		orders.POST("/:id/cancel", srv.CancelOrder)
		orders.POST("/:id/status", srv.UpdateOrderStatus)
	}

	web.GET("/chat", srv.RequireRoles("chat"), srv.static("chat", "Messages"))

	// unknown pages fall back to the home view; anything else is a JSON 404
	notFound := make([]gin.HandlerFunc, 0, len(browser)+2)
	notFound = append(notFound, func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "page introuvable")
			c.Abort()
			return
		}
		c.Next()
	})
	notFound = append(notFound, browser...)
	notFound = append(notFound, srv.Home)
	r.NoRoute(notFound...)
	return r, nil
}
