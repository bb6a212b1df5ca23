package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/types"
)

const (
	defaultBaseURL              = "https://api.easypost.com/v2"
	responseBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("shipping api key is required")

// Client wraps the carrier API used to purchase and void shipping labels.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the carrier API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the shipping client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// PurchaseRequest describes a label purchase for a single shipment.
type PurchaseRequest struct {
	Reference   string
	ToAddress   types.Address
	FromAddress types.Address
	WeightOz    float64
	Service     string
}

// Label holds the purchased label data.
type Label struct {
	ShipmentID     string
	TrackingNumber string
	LabelURL       string
	Carrier        string
	Service        string
	RateCents      int64
}

// PurchaseLabel buys a shipping label for the given shipment. The carrier
// charges on success, so callers must hold the purchase lock before calling.
func (c *Client) PurchaseLabel(ctx context.Context, req PurchaseRequest) (*Label, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shipping client not configured")
	}
	if !req.ToAddress.Complete() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination address is incomplete")
	}
	if req.WeightOz <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment weight must be positive")
	}

	payload, err := json.Marshal(purchasePayload(req))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal label purchase request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("shipments"), bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build label purchase request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.apiKey, "")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute label purchase request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		code := pkgerrors.CodeDependency
		if resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity {
			code = pkgerrors.CodeStateConflict
		}
		return nil, pkgerrors.Wrap(code, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "label purchase failed")
	}

	var apiResp struct {
		ID           string `json:"id"`
		TrackingCode string `json:"tracking_code"`
		PostageLabel struct {
			LabelURL string `json:"label_url"`
		} `json:"postage_label"`
		SelectedRate struct {
			Carrier string `json:"carrier"`
			Service string `json:"service"`
			Rate    string `json:"rate"`
		} `json:"selected_rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode label purchase response")
	}

	if apiResp.TrackingCode == "" || apiResp.PostageLabel.LabelURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "label purchase response missing tracking or label url")
	}

	return &Label{
		ShipmentID:     apiResp.ID,
		TrackingNumber: apiResp.TrackingCode,
		LabelURL:       apiResp.PostageLabel.LabelURL,
		Carrier:        apiResp.SelectedRate.Carrier,
		Service:        apiResp.SelectedRate.Service,
		RateCents:      parseRateCents(apiResp.SelectedRate.Rate),
	}, nil
}

// VoidLabel requests a refund for an unused label.
func (c *Client) VoidLabel(ctx context.Context, shipmentID string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "shipping client not configured")
	}
	trimmed := strings.TrimSpace(shipmentID)
	if trimmed == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("shipments", url.PathEscape(trimmed), "refund"), nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build label void request")
	}
	httpReq.SetBasicAuth(c.apiKey, "")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute label void request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "label void failed")
	}

	return nil
}

func (c *Client) buildURL(segments ...string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.Join(segments, "/")
}

func purchasePayload(req PurchaseRequest) map[string]any {
	return map[string]any{
		"shipment": map[string]any{
			"reference":    req.Reference,
			"to_address":   addressPayload(req.ToAddress),
			"from_address": addressPayload(req.FromAddress),
			"parcel": map[string]any{
				"weight": req.WeightOz,
			},
			"service": req.Service,
		},
	}
}

func addressPayload(addr types.Address) map[string]any {
	return map[string]any{
		"name":    addr.Name,
		"street1": addr.Line1,
		"street2": addr.Line2,
		"city":    addr.City,
		"state":   addr.State,
		"zip":     addr.PostalCode,
		"country": addr.NormalizedCountry(),
		"phone":   addr.Phone,
	}
}

func parseRateCents(rate string) int64 {
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return 0
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
