package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"parking-service/internal/config"
)

var (
	ErrNotConfigured = errors.New("payment provider not configured")
	ErrProvider      = errors.New("payment provider error")
)

const maxResponseBytes = 1 << 20

// QR is the provider answer to a QR issuance.
type QR struct {
	QRImage         string
	BankOperationID string
	TransactionID   string
	Raw             map[string]interface{}
}

type StatusResult struct {
	Status    Status
	RawStatus string
	Raw       map[string]interface{}
}

// Client calls the Bakai open banking QR API.
type Client struct {
	baseURL  string
	token    string
	account  string
	currency int
	http     *http.Client
	log      zerolog.Logger
}

func NewClient(cfg config.BankConfig, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		account:  cfg.MerchantAccount,
		currency: cfg.CurrencyID,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != "" && c.account != ""
}

func (c *Client) GenerateQR(ctx context.Context, operationID string, amount decimal.Decimal) (*QR, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	req := map[string]interface{}{
		"accountNo":   c.account,
		"currencyId":  c.currency,
		"amount":      json.Number(amount.StringFixed(2)),
		"operationID": operationID,
	}

	var resp map[string]interface{}
	if err := c.post(ctx, "/api/Qr/GenerateQR", req, &resp); err != nil {
		return nil, err
	}

	qr := &QR{
		QRImage:         firstString(resp, []string{"qrImage", "qr_image", "qrCode", "qr"}),
		BankOperationID: firstString(resp, []string{"operationID", "operationId", "operation_id"}),
		TransactionID:   firstString(resp, []string{"transactionId", "transaction_id", "transactionID"}),
		Raw:             resp,
	}
	if qr.QRImage == "" {
		return nil, fmt.Errorf("%w: response has no qr image", ErrProvider)
	}
	c.log.Info().
		Str("operation_id", operationID).
		Str("bank_operation_id", qr.BankOperationID).
		Str("amount", amount.StringFixed(2)).
		Msg("qr generated")
	return qr, nil
}

func (c *Client) GetStatus(ctx context.Context, operationID string) (*StatusResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	var resp map[string]interface{}
	if err := c.post(ctx, "/api/Qr/GetStatus", map[string]string{"operationID": operationID}, &resp); err != nil {
		return nil, err
	}
	raw := firstString(resp, statusFields)
	return &StatusResult{Status: Translate(raw), RawStatus: raw, Raw: resp}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("payment provider returned error")
		return fmt.Errorf("%w: %s returned %d", ErrProvider, path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	return nil
}
