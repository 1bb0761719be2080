package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
)

// TokenPair is the SimpleJWT response of /token/ and /auth/register/.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Category is a product category; subcategories nest.
type Category struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug,omitempty"`
	Image         string     `json:"image,omitempty"`
	Parent        *int64     `json:"parent,omitempty"`
	Subcategories []Category `json:"subcategories,omitempty"`
}

type ProductImage struct {
	ID     int64  `json:"id"`
	Image  string `json:"image"`
	IsMain bool   `json:"is_main"`
}

// Seller is the short user projection embedded in products.
type Seller struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Product as served by /products/products/. Prices are decimal strings.
type Product struct {
	ID          int64          `json:"id"`
	Farmer      *Seller        `json:"farmer,omitempty"`
	Category    *Category      `json:"category,omitempty"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug,omitempty"`
	Description string         `json:"description"`
	Price       json.Number    `json:"price"`
	Unit        string         `json:"unit,omitempty"`
	Stock       json.Number    `json:"stock"`
	Available   bool           `json:"available"`
	Images      []ProductImage `json:"images,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
	UpdatedAt   string         `json:"updated_at,omitempty"`
}

// Upload is an attached file of a multipart request.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ProductInput is the writable part of a product. Images switch the request
// to multipart/form-data.
type ProductInput struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Price       string   `json:"price" validate:"required,decimal_gt0"`
	Unit        string   `json:"unit,omitempty"`
	Stock       int      `json:"stock" validate:"gt=0"`
	CategoryID  int64    `json:"category_id" validate:"gt=0"`
	Available   bool     `json:"available"`
	Images      []Upload `json:"-"`
}

type CartItem struct {
	ID           int64       `json:"id"`
	Product      int64       `json:"product"`
	ProductName  string      `json:"product_name"`
	ProductPrice json.Number `json:"product_price"`
	Quantity     int         `json:"quantity"`
	TotalPrice   json.Number `json:"total_price"`
}

type Cart struct {
	ID         int64       `json:"id"`
	User       int64       `json:"user"`
	Items      []CartItem  `json:"items"`
	TotalItems int         `json:"total_items"`
	TotalPrice json.Number `json:"total_price"`
}

type OrderItem struct {
	ID          int64       `json:"id"`
	Product     int64       `json:"product"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   json.Number `json:"unit_price"`
	TotalPrice  json.Number `json:"total_price"`
}

type Order struct {
	ID              int64       `json:"id"`
	Buyer           int64       `json:"buyer"`
	Farmer          int64       `json:"farmer"`
	Status          string      `json:"status"`
	TotalAmount     json.Number `json:"total_amount"`
	ShippingAddress string      `json:"shipping_address,omitempty"`
	Items           []OrderItem `json:"items"`
	CreatedAt       string      `json:"created_at,omitempty"`
}

// OrderInput creates an order from the current cart.
type OrderInput struct {
	ShippingAddress string `json:"shipping_address" validate:"required"`
	PaymentMethod   string `json:"payment_method,omitempty" validate:"omitempty,oneof=orange_money mtn_money paypal"`
	Notes           string `json:"notes,omitempty"`
}

// Order statuses accepted by the backend.
var OrderStatuses = []string{"pending", "confirmed", "preparing", "ready", "in_delivery", "delivered", "cancelled"}

// ---- auth ----

// ObtainToken exchanges credentials for a token pair. SimpleJWT expects the
// email in the username field.
func (g *Gateway) ObtainToken(ctx context.Context, email, password string) (TokenPair, error) {
	var pair TokenPair
	err := g.sendJSON(ctx, "auth.token", http.MethodPost, "/token/", map[string]string{
		"username": email,
		"password": password,
	}, &pair)
	return pair, err
}

// Register posts the Django-shaped registration payload.
func (g *Gateway) Register(ctx context.Context, in RegistrationInput) (TokenPair, error) {
	var pair TokenPair
	err := g.sendJSON(ctx, "auth.register", http.MethodPost, "/auth/register/", in.payload(), &pair)
	return pair, err
}

func (g *Gateway) CurrentUser(ctx context.Context) (UserRecord, error) {
	var u UserRecord
	err := g.get(ctx, "auth.me", "/auth/users/me/", nil, &u)
	return u, err
}

// UpdateProfile patches the current user and returns the stored record.
func (g *Gateway) UpdateProfile(ctx context.Context, fields map[string]any) (UserRecord, error) {
	var u UserRecord
	err := g.sendJSON(ctx, "auth.me.update", http.MethodPatch, "/auth/users/me/", fields, &u)
	return u, err
}

func (g *Gateway) ListUsers(ctx context.Context, query url.Values) ([]UserRecord, error) {
	var users []UserRecord
	err := g.get(ctx, "auth.users", "/auth/users/", query, &users)
	return users, err
}

func (g *Gateway) GetUser(ctx context.Context, id int64) (UserRecord, error) {
	var u UserRecord
	err := g.get(ctx, "auth.user", fmt.Sprintf("/auth/users/%d/", id), nil, &u)
	return u, err
}

// ---- products ----

func (g *Gateway) ListProducts(ctx context.Context, query url.Values) ([]Product, error) {
	var products []Product
	err := g.get(ctx, "products.list", "/products/products/", query, &products)
	return products, err
}

// SearchProducts lists products matching q, merged with extra filters.
func (g *Gateway) SearchProducts(ctx context.Context, q string, extra url.Values) ([]Product, error) {
	query := url.Values{}
	for k, v := range extra {
		query[k] = v
	}
	query.Set("search", q)
	return g.ListProducts(ctx, query)
}

func (g *Gateway) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := g.get(ctx, "products.get", fmt.Sprintf("/products/products/%d/", id), nil, &p)
	return p, err
}

func (g *Gateway) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	var p Product
	err := g.sendProduct(ctx, "products.create", http.MethodPost, "/products/products/", in, &p)
	return p, err
}

func (g *Gateway) UpdateProduct(ctx context.Context, id int64, in ProductInput) (Product, error) {
	var p Product
	err := g.sendProduct(ctx, "products.update", http.MethodPatch, fmt.Sprintf("/products/products/%d/", id), in, &p)
	return p, err
}

func (g *Gateway) DeleteProduct(ctx context.Context, id int64) error {
	return g.do(ctx, call{name: "products.delete", method: http.MethodDelete, path: fmt.Sprintf("/products/products/%d/", id)}, nil)
}

func (g *Gateway) MyProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	err := g.get(ctx, "products.mine", "/products/my-products/", nil, &products)
	return products, err
}

func (g *Gateway) Categories(ctx context.Context) ([]Category, error) {
	var categories []Category
	err := g.get(ctx, "products.categories", "/products/categories/", nil, &categories)
	return categories, err
}

// sendProduct sends JSON, or multipart/form-data when images are attached.
func (g *Gateway) sendProduct(ctx context.Context, name, method, path string, in ProductInput, out any) error {
	if len(in.Images) == 0 {
		return g.sendJSON(ctx, name, method, path, in, out)
	}
	body, contentType, err := encodeProductMultipart(in)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}
	return g.do(ctx, call{name: name, method: method, path: path, body: body, contentType: contentType}, out)
}

func encodeProductMultipart(in ProductInput) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := []struct{ key, value string }{
		{"name", in.Name},
		{"description", in.Description},
		{"price", in.Price},
		{"unit", in.Unit},
		{"stock", strconv.Itoa(in.Stock)},
		{"category_id", strconv.FormatInt(in.CategoryID, 10)},
		{"available", strconv.FormatBool(in.Available)},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.key, f.value); err != nil {
			return nil, "", err
		}
	}
	for _, img := range in.Images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, img.Filename))
		h.Set("Content-Type", firstNonEmpty(img.ContentType, "application/octet-stream"))
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// ---- orders ----

func (g *Gateway) ListOrders(ctx context.Context, query url.Values) ([]Order, error) {
	var orders []Order
	err := g.get(ctx, "orders.list", "/orders/orders/", query, &orders)
	return orders, err
}

func (g *Gateway) GetOrder(ctx context.Context, id int64) (Order, error) {
	var o Order
	err := g.get(ctx, "orders.get", fmt.Sprintf("/orders/orders/%d/", id), nil, &o)
	return o, err
}

func (g *Gateway) CreateOrder(ctx context.Context, in OrderInput) (Order, error) {
	var o Order
	err := g.sendJSON(ctx, "orders.create", http.MethodPost, "/orders/orders/", in, &o)
	return o, err
}

func (g *Gateway) UpdateOrderStatus(ctx context.Context, id int64, status string) (Order, error) {
	var o Order
	err := g.sendJSON(ctx, "orders.status", http.MethodPatch, fmt.Sprintf("/orders/orders/%d/", id), map[string]string{"status": status}, &o)
	return o, err
}

// MyOrders returns the order history of the current user.
func (g *Gateway) MyOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	err := g.get(ctx, "orders.history", "/orders/orders/history/", nil, &orders)
	return orders, err
}

func (g *Gateway) CancelOrder(ctx context.Context, id int64) error {
	return g.do(ctx, call{name: "orders.cancel", method: http.MethodPost, path: fmt.Sprintf("/orders/orders/%d/cancel/", id)}, nil)
}

// FarmerOrders keeps the orders containing at least one of the farmer's
// products. The backend has no farmer-orders endpoint.
func (g *Gateway) FarmerOrders(ctx context.Context) ([]Order, error) {
	orders, err := g.ListOrders(ctx, nil)
	if err != nil {
		return nil, err
	}
	mine, err := g.MyProducts(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{}, len(mine))
	for _, p := range mine {
		ids[p.ID] = struct{}{}
	}
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		for _, it := range o.Items {
			if _, ok := ids[it.Product]; ok {
				out = append(out, o)
				break
			}
		}
	}
	return out, nil
}

// ---- cart ----

func (g *Gateway) Cart(ctx context.Context) (Cart, error) {
	var c Cart
	err := g.get(ctx, "cart.get", "/orders/cart/", nil, &c)
	return c, err
}

func (g *Gateway) AddToCart(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}
	return g.sendJSON(ctx, "cart.add", http.MethodPost, "/orders/cart/add/", map[string]any{
		"product":  productID,
		"quantity": quantity,
	}, nil)
}

func (g *Gateway) UpdateCartItem(ctx context.Context, itemID int64, quantity int) error {
	return g.sendJSON(ctx, "cart.update", http.MethodPatch, fmt.Sprintf("/orders/cart/items/%d/", itemID), map[string]int{"quantity": quantity}, nil)
}

func (g *Gateway) RemoveFromCart(ctx context.Context, itemID int64) error {
	return g.do(ctx, call{name: "cart.remove", method: http.MethodDelete, path: fmt.Sprintf("/orders/cart/items/%d/remove/", itemID)}, nil)
}

func (g *Gateway) ClearCart(ctx context.Context) error {
	return g.do(ctx, call{name: "cart.clear", method: http.MethodDelete, path: "/orders/cart/clear/"}, nil)
}
