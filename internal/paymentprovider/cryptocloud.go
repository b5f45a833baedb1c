package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CryptoCloud — клиент API CryptoCloud для выставления криптовалютных
// инвойсов. Подтверждение оплаты приходит вебхуком на webhookURL.
type CryptoCloud struct {
	apiToken   string
	shopID     string
	apiURL     string
	webhookURL string
	price      float64
	httpClient *http.Client
}

// NewCryptoCloud создаёт клиент CryptoCloud.
func NewCryptoCloud(apiToken, shopID, webhookURL string, priceUSD float64) *CryptoCloud {
	return &CryptoCloud{
		apiToken:   apiToken,
		shopID:     shopID,
		apiURL:     "https://api.cryptocloud.plus",
		webhookURL: webhookURL,
		price:      priceUSD,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type createInvoiceRequest struct {
	ShopID     string  `json:"shop_id"`
	Amount     float64 `json:"amount"`
	OrderID    string  `json:"order_id"`
	WebhookURL string  `json:"webhook_url"`
}

type createInvoiceResponse struct {
	Status string `json:"status"`
	Result struct {
		Link string `json:"link"`
	} `json:"result"`
}

// CreatePayment выставляет инвойс и возвращает ссылку на оплату.
func (c *CryptoCloud) CreatePayment(ctx context.Context, userID int64) (paymentURL, orderID string, amount float64, err error) {
	const op = "paymentprovider.CryptoCloud.CreatePayment"

	orderID = fmt.Sprintf("crypto_%d_%s", userID, uuid.NewString()[:8])
	reqBody := createInvoiceRequest{
		ShopID:     c.shopID,
		Amount:     c.price,
		OrderID:    orderID,
		WebhookURL: c.webhookURL + "/webhook/cryptocloud",
	}

	var buf bytes.Buffer
	if err = json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return "", "", 0, fmt.Errorf("%s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/v2/invoice/create", &buf)
	if err != nil {
		return "", "", 0, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", "", 0, fmt.Errorf("%s: unexpected status: %s", op, resp.Status)
	}

	var invoiceResp createInvoiceResponse
	if err = json.NewDecoder(resp.Body).Decode(&invoiceResp); err != nil {
		return "", "", 0, fmt.Errorf("%s: %w", op, err)
	}
	if invoiceResp.Status != "success" || invoiceResp.Result.Link == "" {
		return "", "", 0, fmt.Errorf("%s: invoice rejected, status %q", op, invoiceResp.Status)
	}
	return invoiceResp.Result.Link, orderID, c.price, nil
}
