package paymentprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoCloud_CreatePayment(t *testing.T) {
	t.Run("success returns payment link", func(t *testing.T) {
		var gotReq createInvoiceRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v2/invoice/create", r.URL.Path)
			assert.Equal(t, "Token token1", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "success",
				"result": map[string]any{"link": "https://pay.example/invoice/1"},
			})
		}))
		defer srv.Close()

		c := NewCryptoCloud("token1", "shop1", "https://vpn.example", 2)
		c.apiURL = srv.URL

		link, orderID, amount, err := c.CreatePayment(context.Background(), 42)

		require.NoError(t, err)
		assert.Equal(t, "https://pay.example/invoice/1", link)
		assert.True(t, strings.HasPrefix(orderID, "crypto_42_"))
		assert.Equal(t, 2.0, amount)
		assert.Equal(t, "shop1", gotReq.ShopID)
		assert.Equal(t, orderID, gotReq.OrderID)
		assert.Equal(t, "https://vpn.example/webhook/cryptocloud", gotReq.WebhookURL)
	})

	t.Run("rejected invoice is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "error"})
		}))
		defer srv.Close()

		c := NewCryptoCloud("token1", "shop1", "https://vpn.example", 2)
		c.apiURL = srv.URL

		_, _, _, err := c.CreatePayment(context.Background(), 42)
		require.Error(t, err)
	})

	t.Run("api failure is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := NewCryptoCloud("token1", "shop1", "https://vpn.example", 2)
		c.apiURL = srv.URL

		_, _, _, err := c.CreatePayment(context.Background(), 42)
		require.Error(t, err)
	})
}
