package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ProviderMercadoPago = "mercadopago"
	mercadoPagoReason   = "MERCADO_PAGO"
	paymentApproved     = "approved"
)

// mercadoPagoClient is the slice of the Mercado Pago REST API we call
type mercadoPagoClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

func newMercadoPagoClient(cfg models.MercadoPagoConfig, httpClient *http.Client) (*mercadoPagoClient, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("mercado pago access token cannot be empty")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.mercadopago.com"
	}
	return &mercadoPagoClient{
		httpClient:  httpClient,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: cfg.AccessToken,
	}, nil
}

type mercadoPagoPayment struct {
	Status            string         `json:"status"`
	StatusDetail      string         `json:"status_detail"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
}

func (c *mercadoPagoClient) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *mercadoPagoClient) getPayment(ctx context.Context, paymentId string) (*mercadoPagoPayment, error) {
	var payment mercadoPagoPayment
	status, err := c.do(ctx, http.MethodGet, "/v1/payments/"+paymentId, nil, &payment)
	if err != nil {
		switch {
		case status == http.StatusNotFound:
			return nil, fmt.Errorf("%w: payment %s does not exist", ErrVerification, paymentId)
		case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: %v", ErrVerification, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
	}
	return &payment, nil
}

// MercadoPagoAdapter trusts nothing in the push body beyond the payment id:
// the payment itself is always fetched from the API.
type MercadoPagoAdapter struct {
	client        *mercadoPagoClient
	webhookSecret string
	credits       *creditApplier
}

var _ Adapter = (*MercadoPagoAdapter)(nil)

func NewMercadoPagoAdapter(cfg models.MercadoPagoConfig, httpClient *http.Client, accounts store.AccountStore, ledgerService *ledger.Service) (*MercadoPagoAdapter, error) {
	client, err := newMercadoPagoClient(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	return &MercadoPagoAdapter{
		client:        client,
		webhookSecret: cfg.WebhookSecret,
		credits:       &creditApplier{accounts: accounts, ledger: ledgerService},
	}, nil
}

func (a *MercadoPagoAdapter) Provider() string {
	return ProviderMercadoPago
}

type mercadoPagoNotification struct {
	Action   string          `json:"action"`
	Type     string          `json:"type"`
	Topic    string          `json:"topic"`
	Resource string          `json:"resource"`
	Data     json.RawMessage `json:"data"`
}

// parseNotification accepts the current {action, type, data:{id}} shape, the
// legacy {topic, resource} shape and the query-string variant of both. legacy
// reports the IPN form, which Mercado Pago never signs.
func parseNotification(raw RawEvent) (topic, id string, legacy bool, err error) {
	var n mercadoPagoNotification
	if len(bytes.TrimSpace(raw.Body)) > 0 {
		if err := json.Unmarshal(raw.Body, &n); err != nil {
			return "", "", false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	var dataId string
	if len(n.Data) > 0 {
		var data struct {
			Id json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(n.Data, &data); err != nil {
			return "", "", false, fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
		}
		dataId = strings.Trim(string(data.Id), `"`)
	}

	topic = firstNonEmpty(n.Type, n.Topic, raw.Query.Get("type"), raw.Query.Get("topic"))
	if topic == "" && strings.HasPrefix(n.Action, "payment.") {
		topic = "payment"
	}

	resource := n.Resource
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		resource = resource[i+1:]
	}
	id = firstNonEmpty(dataId, resource, raw.Query.Get("data.id"), raw.Query.Get("id"))

	if topic == "" && id == "" {
		return "", "", false, fmt.Errorf("%w: no topic or id", ErrMalformedPayload)
	}
	legacy = dataId == "" && n.Type == "" && n.Action == "" &&
		raw.Query.Get("type") == "" && raw.Query.Get("data.id") == ""
	return topic, id, legacy, nil
}

// verifySignature checks x-signature "ts=...,v1=..." against
// HMAC-SHA256("id:{id};request-id:{x-request-id};ts:{ts};").
func verifySignature(secret, header, requestId, dataId string) error {
	if header == "" {
		return fmt.Errorf("%w: missing x-signature header", ErrVerification)
	}
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("%w: invalid x-signature header", ErrVerification)
	}

	expected := signManifest(secret, dataId, requestId, ts)
	given, err := hex.DecodeString(v1)
	if err != nil || !hmac.Equal(given, expected) {
		return fmt.Errorf("%w: signature mismatch", ErrVerification)
	}
	return nil
}

func signManifest(secret, dataId, requestId, ts string) []byte {
	manifest := "id:" + strings.ToLower(dataId) + ";"
	if requestId != "" {
		manifest += "request-id:" + requestId + ";"
	}
	manifest += "ts:" + ts + ";"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return mac.Sum(nil)
}

func (a *MercadoPagoAdapter) Verify(ctx context.Context, raw RawEvent) (*VerifiedEvent, error) {
	topic, id, legacy, err := parseNotification(raw)
	if err != nil {
		return nil, err
	}

	if topic != "payment" {
		return &VerifiedEvent{
			Provider: ProviderMercadoPago,
			EventId:  topic + ":" + id,
			Ignored:  true,
			Detail:   "topic " + topic,
		}, nil
	}
	if id == "" {
		return nil, fmt.Errorf("%w: payment notification without id", ErrMalformedPayload)
	}
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: payment id %q is not numeric", ErrMalformedPayload, id)
	}

	// Unsigned IPN deliveries pass on the strength of the fetch by id below.
	signature := raw.Header.Get("x-signature")
	switch {
	case a.webhookSecret == "":
	case legacy && signature == "":
		zap.L().Debug("Unsigned legacy Mercado Pago notification", zap.String("payment_id", id))
	default:
		if err := verifySignature(a.webhookSecret, signature, raw.Header.Get("x-request-id"), id); err != nil {
			return nil, err
		}
	}

	payment, err := a.client.getPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	event := &VerifiedEvent{
		Provider:  ProviderMercadoPago,
		EventId:   id,
		PaymentId: id,
		Status:    payment.Status,
		Approved:  payment.Status == paymentApproved,
		AccountId: metadataString(payment.Metadata, "user_id"),
	}
	if credits, err := strconv.ParseInt(metadataString(payment.Metadata, "credit_amount"), 10, 64); err == nil {
		event.Credits = credits
	}
	if payment.ExternalReference == "" {
		event.Detail = "payment has no external reference"
	}

	zap.L().Debug("Mercado Pago payment fetched",
		zap.String("payment_id", id),
		zap.String("status", payment.Status),
		zap.String("status_detail", payment.StatusDetail))
	return event, nil
}

func (a *MercadoPagoAdapter) Apply(ctx context.Context, event *VerifiedEvent) (Outcome, error) {
	return a.credits.apply(ctx, event, mercadoPagoReason)
}

// Preference is a created checkout preference
type Preference struct {
	Id               string          `json:"preference_id"`
	InitPoint        string          `json:"init_point"`
	SandboxInitPoint string          `json:"sandbox_init_point,omitempty"`
	Total            decimal.Decimal `json:"total_amount"`
}

// MercadoPagoCheckout creates checkout preferences for custom credit amounts
type MercadoPagoCheckout struct {
	client          *mercadoPagoClient
	unitPrice       decimal.Decimal
	currency        string
	notificationURL string
	backURLs        map[string]string
}

func NewMercadoPagoCheckout(cfg models.MercadoPagoConfig, httpClient *http.Client) (*MercadoPagoCheckout, error) {
	client, err := newMercadoPagoClient(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "BRL"
	}
	return &MercadoPagoCheckout{
		client:          client,
		unitPrice:       cfg.UnitPrice,
		currency:        currency,
		notificationURL: cfg.NotificationURL,
		backURLs: map[string]string{
			"success": cfg.SuccessURL,
			"failure": cfg.FailureURL,
			"pending": cfg.PendingURL,
		},
	}, nil
}

func (c *MercadoPagoCheckout) Quote(credits int64) (Quote, error) {
	return NewQuote(credits, c.unitPrice)
}

// CreatePreference opens a checkout for credits. The payment metadata carries
// the account and amount the webhook later grants.
func (c *MercadoPagoCheckout) CreatePreference(ctx context.Context, account *models.Account, credits int64) (*Preference, error) {
	quote, err := c.Quote(credits)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"items": []map[string]any{{
			"title":       fmt.Sprintf("%d credits - MyDraws", credits),
			"description": fmt.Sprintf("Purchase of %d credits by %s - MyDraws", credits, account.Name),
			"quantity":    1,
			"unit_price":  quote.Total.InexactFloat64(),
			"currency_id": c.currency,
		}},
		"payer": map[string]any{
			"name":  account.Name,
			"email": account.Email,
		},
		"back_urls":            c.backURLs,
		"auto_return":          paymentApproved,
		"external_reference":   fmt.Sprintf("user_%s_credits_%d", account.Id, credits),
		"statement_descriptor": "MYDRAWS",
		"metadata": map[string]any{
			"user_id":       account.Id,
			"credit_amount": credits,
			"unit_price":    quote.UnitPrice.String(),
		},
	}
	if c.notificationURL != "" {
		body["notification_url"] = c.notificationURL
	}

	var created struct {
		Id               string `json:"id"`
		InitPoint        string `json:"init_point"`
		SandboxInitPoint string `json:"sandbox_init_point"`
	}
	if _, err := c.client.do(ctx, http.MethodPost, "/checkout/preferences", body, &created); err != nil {
		zap.L().Error("Failed to create payment preference",
			zap.String("account_id", account.Id),
			zap.Int64("credits", credits),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	zap.L().Info("Payment preference created",
		zap.String("account_id", account.Id),
		zap.Int64("credits", credits),
		zap.String("preference_id", created.Id),
		zap.String("total", quote.Total.String()))
	return &Preference{
		Id:               created.Id,
		InitPoint:        created.InitPoint,
		SandboxInitPoint: created.SandboxInitPoint,
		Total:            quote.Total,
	}, nil
}

func metadataString(metadata map[string]any, key string) string {
	switch v := metadata[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
