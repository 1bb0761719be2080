package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, h http.HandlerFunc, tokens TokenStore) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGateway(srv.URL, 5*time.Second, nil, tokens, testLogger())
}

func TestGateway_AttachesBearerToken(t *testing.T) {
	var got []string
	h := func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []any{})
	}
	tokens := &memTokens{}
	g := newTestGateway(t, h, tokens)
	ctx := context.Background()

	_, err := g.ListProducts(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, tokens.SetTokens(ctx, "abc", "def"))
	_, err = g.ListProducts(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "Bearer abc"}, got)
}

func TestGateway_AnyUnauthorizedClearsTokens(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	tokens := NewRedisTokenStore(client, "browser-1", time.Hour)
	h := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token expiré"})
	}
	g := newTestGateway(t, h, tokens)

	calls := map[string]func() error{
		"products": func() error { _, err := g.ListProducts(ctx, nil); return err },
		"cart":     func() error { _, err := g.Cart(ctx); return err },
		"cancel":   func() error { return g.CancelOrder(ctx, 4) },
		"me":       func() error { _, err := g.CurrentUser(ctx); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, tokens.SetTokens(ctx, "a", "r"))
			require.NoError(t, tokens.CacheUser(ctx, UserRecord{ID: 1}))

			err := call()
			require.Error(t, err)
			assert.True(t, IsUnauthorized(err))
			f := Classify(err)
			assert.Equal(t, KindUnauthorized, f.Kind)
			assert.Equal(t, "Token expiré", f.Message)

			_, ok := tokens.Token(ctx)
			assert.False(t, ok)
			_, ok = tokens.RefreshToken(ctx)
			assert.False(t, ok)
		})
	}
}

func TestGateway_OtherErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	tokens := &memTokens{access: "a", refresh: "r"}
	h := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"quantity": []string{"Stock insuffisant"}})
	}
	g := newTestGateway(t, h, tokens)

	err := g.AddToCart(ctx, 3, 99)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, KindValidation, apiErr.Kind)
	msg, ok := apiErr.Envelope.First("quantity")
	require.True(t, ok)
	assert.Equal(t, "Stock insuffisant", msg)

	tok, ok := tokens.Token(ctx)
	assert.True(t, ok)
	assert.Equal(t, "a", tok)
	assert.Zero(t, tokens.clears)
}

func TestGateway_NoResponse(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewGateway(url, time.Second, nil, &memTokens{}, testLogger())
	_, err := g.Categories(context.Background())
	f := Classify(err)
	assert.Equal(t, KindNetwork, f.Kind)
	assert.Equal(t, msgNoResponse, f.Message)
}

func TestGateway_ObtainTokenSendsEmailAsUsername(t *testing.T) {
	var (
		body        map[string]string
		path, ctype string
	)
	h := func(w http.ResponseWriter, r *http.Request) {
		path, ctype = r.URL.Path, r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, TokenPair{Access: "a", Refresh: "r"})
	}
	g := newTestGateway(t, h, &memTokens{})

	pair, err := g.ObtainToken(context.Background(), "awa@terrabia.cm", "secret1")
	require.NoError(t, err)
	assert.Equal(t, TokenPair{Access: "a", Refresh: "r"}, pair)
	assert.Equal(t, "/token/", path)
	assert.Equal(t, "application/json", ctype)
	assert.Equal(t, map[string]string{"username": "awa@terrabia.cm", "password": "secret1"}, body)
}

func TestGateway_RegisterPayloadMirrorsFields(t *testing.T) {
	var body map[string]string
	h := func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusCreated, TokenPair{Access: "a", Refresh: "r"})
	}
	g := newTestGateway(t, h, &memTokens{})

	in := validRegistration()
	in.Role = " Farmer "
	in.Phone = "671234567"
	_, err := g.Register(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, in.Email, body["username"])
	assert.Equal(t, in.Email, body["email"])
	assert.Equal(t, in.Password, body["password_confirm"])
	assert.Equal(t, "farmer", body["user_type"])
	assert.Equal(t, "+237671234567", body["phone_number"])
}

func TestGateway_ProductJSONWithoutImages(t *testing.T) {
	var (
		method, ctype string
		got           map[string]any
	)
	h := func(w http.ResponseWriter, r *http.Request) {
		method, ctype = r.Method, r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 12, "name": "Tomates", "price": "1500.00"})
	}
	g := newTestGateway(t, h, &memTokens{access: "a"})

	p, err := g.CreateProduct(context.Background(), ProductInput{
		Name: "Tomates", Description: "Rouges", Price: "1500", Stock: 10, CategoryID: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), p.ID)
	assert.Equal(t, "1500.00", p.Price.String())
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/json", ctype)
	assert.Equal(t, "Tomates", got["name"])
	assert.Equal(t, "1500", got["price"])
	assert.NotContains(t, got, "images")
}

type capturedPart struct {
	filename, contentType, data string
}

func TestGateway_ProductMultipartWithImages(t *testing.T) {
	var (
		method, path string
		fields       = map[string]string{}
		parts        []capturedPart
		parseErr     error
	)
	h := func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		if parseErr = r.ParseMultipartForm(1 << 20); parseErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad form"})
			return
		}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		for _, fh := range r.MultipartForm.File["images"] {
			f, err := fh.Open()
			if err != nil {
				parseErr = err
				break
			}
			data, _ := io.ReadAll(f)
			f.Close()
			parts = append(parts, capturedPart{fh.Filename, fh.Header.Get("Content-Type"), string(data)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 5, "name": "Mangues"})
	}
	g := newTestGateway(t, h, &memTokens{access: "a"})

	_, err := g.UpdateProduct(context.Background(), 5, ProductInput{
		Name: "Mangues", Description: "Sucrées", Price: "800", Stock: 4, CategoryID: 3, Available: true,
		Images: []Upload{
			{Filename: "a.png", ContentType: "image/png", Data: []byte("png-bytes")},
			{Filename: "b.jpg", Data: []byte("jpeg-bytes")},
		},
	})
	require.NoError(t, err)
	require.NoError(t, parseErr)

	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/products/products/5/", path)
	assert.Equal(t, map[string]string{
		"name": "Mangues", "description": "Sucrées", "price": "800",
		"stock": "4", "category_id": "3", "available": "true",
	}, fields)
	assert.Equal(t, []capturedPart{
		{"a.png", "image/png", "png-bytes"},
		{"b.jpg", "application/octet-stream", "jpeg-bytes"},
	}, parts)
}

func TestGateway_FarmerOrdersKeepsOrdersWithMyProducts(t *testing.T) {
	h := func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/orders/":
			writeJSON(w, http.StatusOK, []map[string]any{
				{"id": 1, "status": "pending", "items": []map[string]any{{"product": 10}}},
				{"id": 2, "status": "pending", "items": []map[string]any{{"product": 99}}},
				{"id": 3, "status": "delivered", "items": []map[string]any{{"product": 98}, {"product": 11}}},
			})
		case "/products/my-products/":
			writeJSON(w, http.StatusOK, []map[string]any{{"id": 10}, {"id": 11}})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Pas trouvé."})
		}
	}
	g := newTestGateway(t, h, &memTokens{access: "a"})

	orders, err := g.FarmerOrders(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestGateway_SearchProductsQuery(t *testing.T) {
	var query url.Values
	h := func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		writeJSON(w, http.StatusOK, []any{})
	}
	g := newTestGateway(t, h, &memTokens{})

	_, err := g.SearchProducts(context.Background(), "mil", url.Values{"category": {"4"}, "search": {"old"}})
	require.NoError(t, err)
	assert.Equal(t, "mil", query.Get("search"))
	assert.Equal(t, "4", query.Get("category"))
}
