package core

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxUploadBytes = 5 << 20

// ---- farmer ----

func (s *Server) FarmerDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	api := browserSession(c).API

	products, err := api.MyProducts(ctx)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	orders, err := api.FarmerOrders(ctx)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	categories, err := api.Categories(ctx)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "farmer", gin.H{
		"Title":      "Tableau de bord",
		"Products":   products,
		"Orders":     orders,
		"Categories": categories,
		"Statuses":   OrderStatuses,
	})
}

// productForm reads the product form, including uploaded images.
func productForm(c *gin.Context) (ProductInput, error) {
	in := ProductInput{
		Name:        strings.TrimSpace(c.PostForm("name")),
		Description: strings.TrimSpace(c.PostForm("description")),
		Price:       strings.TrimSpace(c.PostForm("price")),
		Unit:        strings.TrimSpace(c.PostForm("unit")),
		Available:   c.PostForm("available") != "",
	}
	in.Stock, _ = strconv.Atoi(c.PostForm("stock"))
	in.CategoryID, _ = strconv.ParseInt(c.PostForm("category_id"), 10, 64)

	form, err := c.MultipartForm()
	if err != nil || form == nil {
		// urlencoded form without files
		return in, nil
	}
	for _, fh := range form.File["images"] {
		if fh.Size > maxUploadBytes {
			return in, fieldProblem("images", fmt.Sprintf("Image %s trop volumineuse", fh.Filename))
		}
		f, err := fh.Open()
		if err != nil {
			return in, fieldProblem("images", fmt.Sprintf("Image %s illisible", fh.Filename))
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return in, fieldProblem("images", fmt.Sprintf("Image %s illisible", fh.Filename))
		}
		in.Images = append(in.Images, Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return in, nil
}

func (s *Server) CreateProduct(c *gin.Context) {
	in, err := productForm(c)
	if err == nil {
		err = s.validator.Validate(in)
	}
	if err != nil {
		s.flash(c, Classify(err).Message)
		c.Redirect(http.StatusSeeOther, "/farmer")
		return
	}
	if _, err := browserSession(c).API.CreateProduct(c.Request.Context(), in); err != nil {
		s.actionFailed(c, err, "/farmer")
		return
	}
	s.flash(c, "Produit ajouté")
	c.Redirect(http.StatusSeeOther, "/farmer")
}

func (s *Server) UpdateProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	in, err := productForm(c)
	if err == nil {
		err = s.validator.Validate(in)
	}
	if err != nil {
		s.flash(c, Classify(err).Message)
		c.Redirect(http.StatusSeeOther, "/farmer")
		return
	}
	if _, err := browserSession(c).API.UpdateProduct(c.Request.Context(), id, in); err != nil {
		s.actionFailed(c, err, "/farmer")
		return
	}
	s.flash(c, "Produit mis à jour")
	c.Redirect(http.StatusSeeOther, "/farmer")
}

func (s *Server) DeleteProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := browserSession(c).API.DeleteProduct(c.Request.Context(), id); err != nil {
		s.actionFailed(c, err, "/farmer")
		return
	}
	s.flash(c, "Produit supprimé")
	c.Redirect(http.StatusSeeOther, "/farmer")
}

// ---- customer ----

func (s *Server) CustomerDashboard(c *gin.Context) {
	orders, err := browserSession(c).API.MyOrders(c.Request.Context())
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "customer", gin.H{"Title": "Mon compte", "Orders": orders})
}

// ---- cart ----

func (s *Server) CartPage(c *gin.Context) {
	cart, err := browserSession(c).API.Cart(c.Request.Context())
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "cart", gin.H{"Title": "Panier", "Cart": cart})
}

func (s *Server) AddToCart(c *gin.Context) {
	productID, err := strconv.ParseInt(c.PostForm("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		s.flash(c, "Produit invalide")
		c.Redirect(http.StatusSeeOther, "/products")
		return
	}
	qty, _ := strconv.Atoi(c.DefaultPostForm("quantity", "1"))
	if err := browserSession(c).API.AddToCart(c.Request.Context(), productID, qty); err != nil {
		s.actionFailed(c, err, "/products")
		return
	}
	s.flash(c, "Produit ajouté au panier")
	c.Redirect(http.StatusSeeOther, "/cart")
}

func (s *Server) UpdateCartItem(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	qty, err := strconv.Atoi(c.PostForm("quantity"))
	if err != nil || qty < 1 {
		s.flash(c, "Quantité doit être supérieur à 0")
		c.Redirect(http.StatusSeeOther, "/cart")
		return
	}
	if err := browserSession(c).API.UpdateCartItem(c.Request.Context(), id, qty); err != nil {
		s.actionFailed(c, err, "/cart")
		return
	}
	c.Redirect(http.StatusSeeOther, "/cart")
}

func (s *Server) RemoveCartItem(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := browserSession(c).API.RemoveFromCart(c.Request.Context(), id); err != nil {
		s.actionFailed(c, err, "/cart")
		return
	}
	c.Redirect(http.StatusSeeOther, "/cart")
}

func (s *Server) ClearCart(c *gin.Context) {
	if err := browserSession(c).API.ClearCart(c.Request.Context()); err != nil {
		s.actionFailed(c, err, "/cart")
		return
	}
	c.Redirect(http.StatusSeeOther, "/cart")
}

func (s *Server) Checkout(c *gin.Context) {
	in := OrderInput{
		ShippingAddress: strings.TrimSpace(c.PostForm("shipping_address")),
		PaymentMethod:   c.PostForm("payment_method"),
		Notes:           strings.TrimSpace(c.PostForm("notes")),
	}
	if err := s.validator.Validate(in); err != nil {
		s.flash(c, Classify(err).Message)
		c.Redirect(http.StatusSeeOther, "/cart")
		return
	}
	if _, err := browserSession(c).API.CreateOrder(c.Request.Context(), in); err != nil {
		s.actionFailed(c, err, "/cart")
		return
	}
	s.flash(c, "Commande passée")
	c.Redirect(http.StatusSeeOther, "/orders")
}

// ---- admin / delivery ----

func (s *Server) AdminDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	api := browserSession(c).API

	users, err := api.ListUsers(ctx, nil)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	orders, err := api.ListOrders(ctx, nil)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	products, err := api.ListProducts(ctx, nil)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "admin", gin.H{
		"Title":    "Administration",
		"Users":    users,
		"Orders":   orders,
		"Products": products,
		"Statuses": OrderStatuses,
	})
}

// AdminUser shows one account with the orders it placed.
func (s *Server) AdminUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	api := browserSession(c).API
	u, err := api.GetUser(ctx, id)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	orders, err := api.ListOrders(ctx, url.Values{"buyer": {strconv.FormatInt(id, 10)}})
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "admin_user", gin.H{
		"Title":    u.DisplayName(),
		"Account":  u,
		"Orders":   orders,
		"Statuses": OrderStatuses,
	})
}

func (s *Server) DeliveryDashboard(c *gin.Context) {
	orders, err := browserSession(c).API.ListOrders(c.Request.Context(), nil)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "delivery", gin.H{
		"Title":    "Livraisons",
		"Orders":   orders,
		"Statuses": OrderStatuses,
	})
}

// ---- orders ----

func (s *Server) OrdersPage(c *gin.Context) {
	ctx := c.Request.Context()
	api := browserSession(c).API
	u := currentUser(c)

	var (
		orders []Order
		err    error
	)
	switch u.Role {
	case RoleFarmer:
		orders, err = api.FarmerOrders(ctx)
	case RoleCustomer, RoleBuyer:
		orders, err = api.MyOrders(ctx)
	default:
		orders, err = api.ListOrders(ctx, nil)
	}
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "orders", gin.H{
		"Title":    "Commandes",
		"Orders":   orders,
		"Statuses": OrderStatuses,
	})
}

func (s *Server) OrderDetail(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	o, err := browserSession(c).API.GetOrder(c.Request.Context(), id)
	if err != nil {
		s.pageFailed(c, err)
		return
	}
	s.render(c, http.StatusOK, "order", gin.H{
		"Title":    fmt.Sprintf("Commande n°%d", o.ID),
		"Order":    o,
		"Orders":   []Order{o},
		"Statuses": OrderStatuses,
	})
}

func (s *Server) CancelOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := browserSession(c).API.CancelOrder(c.Request.Context(), id); err != nil {
		s.actionFailed(c, err, "/orders")
		return
	}
	s.flash(c, "Commande annulée")
	c.Redirect(http.StatusSeeOther, "/orders")
}

// orderStatusEditors may move an order through its statuses.
var orderStatusEditors = NewRoleSet(RoleFarmer, RoleAdmin, RoleDelivery)

func (s *Server) UpdateOrderStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	back := c.DefaultPostForm("back", "/orders")
	if _, ok := localPath(back); !ok {
		back = "/orders"
	}
	if !orderStatusEditors.Has(currentUser(c).Role) {
		s.flash(c, "Accès refusé")
		c.Redirect(http.StatusSeeOther, back)
		return
	}
	status := c.PostForm("status")
	if !validOrderStatus(status) {
		s.flash(c, "Statut invalide")
		c.Redirect(http.StatusSeeOther, back)
		return
	}
	if _, err := browserSession(c).API.UpdateOrderStatus(c.Request.Context(), id, status); err != nil {
		s.actionFailed(c, err, back)
		return
	}
	s.flash(c, "Statut mis à jour")
	c.Redirect(http.StatusSeeOther, back)
}

func validOrderStatus(status string) bool {
	for _, st := range OrderStatuses {
		if st == status {
			return true
		}
	}
	return false
}
