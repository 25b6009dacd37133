package payments

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"mydraws-credits-go/internal/database"
	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testStripeSecret = "whsec_test_secret"

const testPackagesYAML = `
packages:
  - id: starter
    label: Starter pack
    credits: 10
    price: "4.99"
  - id: pro
    credits: 50
    price: "19.90"
`

type testEnv struct {
	db     *database.Service
	ledger *ledger.Service
}

func setupTestEnv(t *testing.T) (*testEnv, func()) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:            ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Hour,
		PingTimeout:     time.Second,
	})
	require.NoError(t, err)
	_, err = db.CreateAccount(context.Background(), "alice", "Alice", "alice@example.com")
	require.NoError(t, err)

	return &testEnv{
		db:     db,
		ledger: ledger.NewService(db, models.LedgerConfig{MaxRetries: 3, RetryBackoff: time.Millisecond}),
	}, db.Close
}

func (e *testEnv) balance(t *testing.T) int64 {
	t.Helper()
	balance, err := e.ledger.Balance(context.Background(), "alice")
	require.NoError(t, err)
	return balance
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := ParsePackages([]byte(testPackagesYAML))
	require.NoError(t, err)
	return catalog
}

func stripeEvent(eventType, sessionId, paymentStatus, userId, packId string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_%s",
  "object": "event",
  "api_version": "2023-10-16",
  "type": %q,
  "data": {"object": {"id": %q, "object": "checkout.session", "payment_status": %q,
    "metadata": {"user_id": %q, "pack_id": %q}}}
}`, sessionId, eventType, sessionId, paymentStatus, userId, packId))
}

func signedStripe(payload []byte) RawEvent {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeSecret,
		Timestamp: time.Now(),
	})
	header := http.Header{}
	header.Set("Stripe-Signature", signed.Header)
	return RawEvent{Body: payload, Header: header}
}

func newStripeReconciler(t *testing.T, env *testEnv) *Reconciler {
	t.Helper()
	adapter, err := NewStripeAdapter(models.StripeConfig{WebhookSecret: testStripeSecret}, testCatalog(t), env.db, env.ledger)
	require.NoError(t, err)
	return NewReconciler(env.db, adapter)
}

func TestStripe_AppliesOnceThenDuplicate(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	r := newStripeReconciler(t, env)
	ctx := context.Background()

	raw := signedStripe(stripeEvent("checkout.session.completed", "cs_test_1", "paid", "alice", "starter"))

	status, outcome := r.Reconcile(ctx, ProviderStripe, raw)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, int64(10), env.balance(t))

	status, outcome = r.Reconcile(ctx, ProviderStripe, raw)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, int64(10), env.balance(t))

	history, err := env.ledger.History(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "STRIPE_cs_test_1", history[0].TransactionType)
}

func TestStripe_AsyncSuccessAfterCompletedIsDuplicate(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	r := newStripeReconciler(t, env)
	ctx := context.Background()

	_, outcome := r.Reconcile(ctx, ProviderStripe, signedStripe(stripeEvent("checkout.session.completed", "cs_test_2", "paid", "alice", "pro")))
	assert.Equal(t, OutcomeApplied, outcome)

	_, outcome = r.Reconcile(ctx, ProviderStripe, signedStripe(stripeEvent("checkout.session.async_payment_succeeded", "cs_test_2", "paid", "alice", "pro")))
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, int64(50), env.balance(t))
}

func TestStripe_BadSignatureIsClientError(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	r := newStripeReconciler(t, env)

	raw := signedStripe(stripeEvent("checkout.session.completed", "cs_test_3", "paid", "alice", "starter"))
	raw.Body = stripeEvent("checkout.session.completed", "cs_test_3", "paid", "alice", "pro")

	status, outcome := r.Reconcile(context.Background(), ProviderStripe, raw)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, OutcomeInvalid, outcome)
	assert.Equal(t, int64(0), env.balance(t))

	status, _ = r.Reconcile(context.Background(), ProviderStripe, RawEvent{Body: raw.Body, Header: http.Header{}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStripe_RejectionsStillAnswerOK(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	r := newStripeReconciler(t, env)

	cases := []struct {
		name    string
		payload []byte
		outcome Outcome
	}{
		{"unknown pack", stripeEvent("checkout.session.completed", "cs_a", "paid", "alice", "gold"), OutcomeRejected},
		{"unpaid", stripeEvent("checkout.session.completed", "cs_b", "unpaid", "alice", "starter"), OutcomeRejected},
		{"unknown account", stripeEvent("checkout.session.completed", "cs_c", "paid", "mallory", "starter"), OutcomeRejected},
		{"other event type", stripeEvent("customer.created", "cs_d", "paid", "alice", "starter"), OutcomeIgnored},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, outcome := r.Reconcile(context.Background(), ProviderStripe, signedStripe(tc.payload))
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, tc.outcome, outcome)
		})
	}
	assert.Equal(t, int64(0), env.balance(t))
}

func TestReconciler_UnknownProvider(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	r := newStripeReconciler(t, env)

	status, outcome := r.Reconcile(context.Background(), "paypal", RawEvent{Body: []byte(`{}`)})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, OutcomeInvalid, outcome)
	assert.Equal(t, []string{ProviderStripe}, r.Providers())
}

type fakeMercadoPago struct {
	server   *httptest.Server
	status   atomic.Value
	code     atomic.Int32
	fetches  atomic.Int32
	metadata map[string]any
}

func newFakeMercadoPago(t *testing.T) *fakeMercadoPago {
	t.Helper()
	f := &fakeMercadoPago{metadata: map[string]any{"user_id": "alice", "credit_amount": 50}}
	f.status.Store("approved")
	f.code.Store(http.StatusOK)
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		if code := int(f.code.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"message":"unavailable"}`))
			return
		}
		if r.URL.Path != "/v1/payments/123" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"payment not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                 123,
			"status":             f.status.Load(),
			"external_reference": "user_alice_credits_50",
			"metadata":           f.metadata,
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newMercadoPagoReconciler(t *testing.T, env *testEnv, fake *fakeMercadoPago, secret string) *Reconciler {
	t.Helper()
	adapter, err := NewMercadoPagoAdapter(models.MercadoPagoConfig{
		AccessToken:   "TEST-token",
		BaseURL:       fake.server.URL,
		WebhookSecret: secret,
	}, fake.server.Client(), env.db, env.ledger)
	require.NoError(t, err)
	return NewReconciler(env.db, adapter)
}

func mercadoPagoEvent(id string) RawEvent {
	return RawEvent{
		Body:   []byte(fmt.Sprintf(`{"action":"payment.updated","api_version":"v1","type":"payment","data":{"id":"%s"}}`, id)),
		Header: http.Header{},
	}
}

func TestMercadoPago_AppliesOnceThenDuplicate(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	fake := newFakeMercadoPago(t)
	r := newMercadoPagoReconciler(t, env, fake, "")
	ctx := context.Background()

	status, outcome := r.Reconcile(ctx, ProviderMercadoPago, mercadoPagoEvent("123"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, int64(50), env.balance(t))

	status, outcome = r.Reconcile(ctx, ProviderMercadoPago, mercadoPagoEvent("123"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, int64(50), env.balance(t))
	assert.Equal(t, int32(2), fake.fetches.Load())

	history, err := env.ledger.History(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "MERCADO_PAGO_123", history[0].TransactionType)
}

func TestMercadoPago_LegacyTopicFormat(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	fake := newFakeMercadoPago(t)
	r := newMercadoPagoReconciler(t, env, fake, "")

	raw := RawEvent{Body: []byte(`{"topic":"payment","resource":"https://api.mercadolibre.com/collections/notifications/123"}`)}
	_, outcome := r.Reconcile(context.Background(), ProviderMercadoPago, raw)
	assert.Equal(t, OutcomeApplied, outcome)

	raw = RawEvent{Query: url.Values{"type": {"payment"}, "data.id": {"123"}}}
	_, outcome = r.Reconcile(context.Background(), ProviderMercadoPago, raw)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestMercadoPago_PushBodyIsNotTrusted(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	fake := newFakeMercadoPago(t)
	fake.status.Store("pending")
	r := newMercadoPagoReconciler(t, env, fake, "")

	status, outcome := r.Reconcile(context.Background(), ProviderMercadoPago, mercadoPagoEvent("123"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, int64(0), env.balance(t))

	status, outcome = r.Reconcile(context.Background(), ProviderMercadoPago, mercadoPagoEvent("999"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, OutcomeInvalid, outcome)
}

func TestMercadoPago_ProviderOutageAsksForRetry(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	fake := newFakeMercadoPago(t)
	fake.code.Store(http.StatusServiceUnavailable)
	r := newMercadoPagoReconciler(t, env, fake, "")

	status, outcome := r.Reconcile(context.Background(), ProviderMercadoPago, mercadoPagoEvent("123"))
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, OutcomeError, outcome)
}

func TestMercadoPago_IgnoresOtherTopics(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	fake := newFakeMercadoPago(t)
	r := newMercadoPagoReconciler(t, env, fake, "")

	raw := RawEvent{Body: []byte(`{"topic":"merchant_order","resource":"https://api.mercadolibre.com/merchant_orders/77"}`)}
	status, outcome := r.Reconcile(context.Background(), ProviderMercadoPago, raw)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, int32(0), fake.fetches.Load())
}

func TestMercadoPago_MalformedBody(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	fake := newFakeMercadoPago(t)
	r := newMercadoPagoReconciler(t, env, fake, "")

	for _, body := range []string{`not json`, `{}`, `{"type":"payment","data":{"id":"../admin"}}`} {
		status, outcome := r.Reconcile(context.Background(), ProviderMercadoPago, RawEvent{Body: []byte(body)})
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Equal(t, OutcomeInvalid, outcome, body)
	}
	assert.Equal(t, int32(0), fake.fetches.Load())
}

func TestMercadoPago_Signature(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	fake := newFakeMercadoPago(t)
	r := newMercadoPagoReconciler(t, env, fake, "mp-secret")
	ctx := context.Background()

	unsigned := mercadoPagoEvent("123")
	status, _ := r.Reconcile(ctx, ProviderMercadoPago, unsigned)
	assert.Equal(t, http.StatusBadRequest, status)

	forged := mercadoPagoEvent("123")
	forged.Header.Set("x-request-id", "req-1")
	forged.Header.Set("x-signature", "ts=1700000000,v1="+hex.EncodeToString(signManifest("wrong", "123", "req-1", "1700000000")))
	status, _ = r.Reconcile(ctx, ProviderMercadoPago, forged)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, int32(0), fake.fetches.Load())

	signed := mercadoPagoEvent("123")
	signed.Header.Set("x-request-id", "req-1")
	signed.Header.Set("x-signature", "ts=1700000000,v1="+hex.EncodeToString(signManifest("mp-secret", "123", "req-1", "1700000000")))
	status, outcome := r.Reconcile(ctx, ProviderMercadoPago, signed)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, OutcomeApplied, outcome)
}

func TestMercadoPago_UnsignedLegacyWithSecret(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()
	fake := newFakeMercadoPago(t)
	r := newMercadoPagoReconciler(t, env, fake, "mp-secret")
	ctx := context.Background()

	legacy := RawEvent{
		Body:   []byte(`{"topic":"payment","resource":"https://api.mercadolibre.com/collections/notifications/123"}`),
		Header: http.Header{},
	}
	status, outcome := r.Reconcile(ctx, ProviderMercadoPago, legacy)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, int64(50), env.balance(t))

	ipn := RawEvent{Query: url.Values{"topic": {"payment"}, "id": {"123"}}}
	status, outcome = r.Reconcile(ctx, ProviderMercadoPago, ipn)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, OutcomeDuplicate, outcome)

	// A signature on a legacy body is still checked.
	forged := RawEvent{Body: legacy.Body, Header: http.Header{}}
	forged.Header.Set("x-signature", "ts=1700000000,v1="+hex.EncodeToString(signManifest("wrong", "123", "", "1700000000")))
	status, _ = r.Reconcile(ctx, ProviderMercadoPago, forged)
	assert.Equal(t, http.StatusBadRequest, status)

	// The current webhook shape still requires a signature.
	status, _ = r.Reconcile(ctx, ProviderMercadoPago, mercadoPagoEvent("123"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, int32(2), fake.fetches.Load())
}

func TestParsePackages(t *testing.T) {
	catalog := testCatalog(t)

	starter, ok := catalog.Lookup("starter")
	require.True(t, ok)
	assert.Equal(t, int64(499), starter.UnitAmount())
	assert.Equal(t, "Starter pack", starter.Label)

	pro, _ := catalog.Lookup("pro")
	assert.Equal(t, "50 credits", pro.Label)
	assert.Len(t, catalog.All(), 2)

	_, err := ParsePackages([]byte("packages:\n  - id: a\n    credits: 0\n    price: \"1\"\n"))
	assert.Error(t, err)
	_, err = ParsePackages([]byte("packages:\n  - id: a\n    credits: 5\n    price: \"free\"\n"))
	assert.Error(t, err)
	_, err = ParsePackages([]byte("packages:\n  - id: a\n    credits: 5\n    price: \"1\"\n  - id: a\n    credits: 6\n    price: \"2\"\n"))
	assert.Error(t, err)
}

func TestNewQuote(t *testing.T) {
	base := decimal.RequireFromString("0.75")

	cases := []struct {
		credits int64
		unit    string
		total   string
	}{
		{5, "0.75", "3.75"},
		{119, "0.75", "89.25"},
		{120, "0.67", "80.4"},
		{300, "0.53", "159"},
	}
	for _, tc := range cases {
		q, err := NewQuote(tc.credits, base)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString(tc.unit).Equal(q.UnitPrice), "unit for %d: %s", tc.credits, q.UnitPrice)
		assert.True(t, decimal.RequireFromString(tc.total).Equal(q.Total), "total for %d: %s", tc.credits, q.Total)
	}

	_, err := NewQuote(4, base)
	assert.ErrorIs(t, err, ErrInvalidCredits)
}

func TestStripeCheckout_CreateSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "alice", r.PostForm.Get("metadata[user_id]"))
		assert.Equal(t, "starter", r.PostForm.Get("metadata[pack_id]"))
		assert.Equal(t, "499", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_new","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_new"}`))
	}))
	defer server.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(server.URL),
		HTTPClient:        server.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	checkout := newStripeCheckout(models.StripeConfig{SecretKey: "sk_test"}, testCatalog(t), backend)

	account := &models.Account{Id: "alice", Email: "alice@example.com"}
	s, err := checkout.CreateSession(context.Background(), account, "starter")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_new", s.Id)
	assert.Contains(t, s.URL, "cs_test_new")

	_, err = checkout.CreateSession(context.Background(), account, "gold")
	assert.ErrorIs(t, err, ErrUnknownPackage)
}

func TestMercadoPagoCheckout_CreatePreference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "user_alice_credits_120", req["external_reference"])
		if items, ok := req["items"].([]any); assert.True(t, ok) && assert.Len(t, items, 1) {
			assert.InDelta(t, 80.4, items[0].(map[string]any)["unit_price"], 0.001)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pref_1","init_point":"https://mp/init/pref_1"}`))
	}))
	defer server.Close()

	checkout, err := NewMercadoPagoCheckout(models.MercadoPagoConfig{
		AccessToken: "TEST-token",
		BaseURL:     server.URL,
		UnitPrice:   decimal.RequireFromString("0.75"),
	}, server.Client())
	require.NoError(t, err)

	account := &models.Account{Id: "alice", Name: "Alice", Email: "alice@example.com"}
	pref, err := checkout.CreatePreference(context.Background(), account, 120)
	require.NoError(t, err)
	assert.Equal(t, "pref_1", pref.Id)
	assert.True(t, decimal.RequireFromString("80.4").Equal(pref.Total))

	_, err = checkout.CreatePreference(context.Background(), account, 3)
	assert.ErrorIs(t, err, ErrInvalidCredits)
}
