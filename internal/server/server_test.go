package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mydraws-credits-go/internal/api"
	"mydraws-credits-go/internal/database"
	"mydraws-credits-go/internal/jobs"
	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/payments"
	"mydraws-credits-go/internal/storage"
	"mydraws-credits-go/internal/transform"

	"github.com/disintegration/imaging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_server_test"

type remoteFake struct{}

func (remoteFake) Transform(_ context.Context, input []byte) ([]byte, error) {
	return input, nil
}

type testServer struct {
	http   *httptest.Server
	db     *database.Service
	ledger *ledger.Service
	svc    *api.Service
}

func setupTestServer(t *testing.T) *testServer {
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
	t.Cleanup(db.Close)

	blobs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	ledgerService := ledger.NewService(db, models.LedgerConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})
	svc := api.NewService(api.Dependencies{
		Store:  db,
		Ledger: ledgerService,
		Blobs:  blobs,
		Local:  transform.NewSketchTransformer(models.SketchConfig{DetailLevel: 5}),
	})

	catalog, err := payments.NewCatalog([]payments.Package{{Id: "starter", Credits: 10, Price: "4.99"}})
	require.NoError(t, err)
	stripeAdapter, err := payments.NewStripeAdapter(models.StripeConfig{WebhookSecret: testWebhookSecret}, catalog, db, ledgerService)
	require.NoError(t, err)
	mercadoPago, err := payments.NewMercadoPagoCheckout(models.MercadoPagoConfig{
		AccessToken: "TEST-token",
		UnitPrice:   decimal.RequireFromString("0.75"),
	}, nil)
	require.NoError(t, err)

	srv := New(models.ServerConfig{}, Dependencies{
		API:         svc,
		Reconciler:  payments.NewReconciler(db, stripeAdapter),
		Catalog:     catalog,
		MercadoPago: mercadoPago,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{http: ts, db: db, ledger: ledgerService, svc: svc}
}

func (ts *testServer) account(t *testing.T, id string, credits int64) {
	t.Helper()
	_, err := ts.db.CreateAccount(context.Background(), id, "Test "+id, id+"@example.com")
	require.NoError(t, err)
	if credits > 0 {
		_, err = ts.ledger.Credit(context.Background(), id, credits, "WELCOME", "")
		require.NoError(t, err)
	}
}

func (ts *testServer) balance(t *testing.T, id string) int64 {
	t.Helper()
	balance, err := ts.ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	return balance
}

func (ts *testServer) do(t *testing.T, method, path, account string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.http.URL+path, body)
	require.NoError(t, err)
	if account != "" {
		req.Header.Set("X-Account-Id", account)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) doJSON(t *testing.T, method, path, account string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return ts.do(t, method, path, account, body, "application/json")
}

func (ts *testServer) upload(t *testing.T, account, title string) models.ResourceRecord {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 180
	}
	img.Set(4, 4, color.Black)
	var jpeg bytes.Buffer
	require.NoError(t, imaging.Encode(&jpeg, img, imaging.JPEG))

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("title", title))
	part, err := form.CreateFormFile("image", "drawing.jpg")
	require.NoError(t, err)
	_, err = part.Write(jpeg.Bytes())
	require.NoError(t, err)
	require.NoError(t, form.Close())

	resp := ts.do(t, http.MethodPost, "/api/v1/resources", account, &body, form.FormDataContentType())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var record models.ResourceRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))
	return record
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "credits_http_requests_total")
}

func TestAccountIdentity(t *testing.T) {
	ts := setupTestServer(t)
	ts.account(t, "alice", 4)

	resp := ts.do(t, http.MethodGet, "/api/v1/account", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/account", "mallory", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/account", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[models.AccountSummary](t, resp)
	assert.Equal(t, "alice", summary.Id)
	assert.Equal(t, int64(4), summary.CreditAmount)
}

func TestSpend(t *testing.T) {
	ts := setupTestServer(t)
	ts.account(t, "alice", 3)

	resp := ts.doJSON(t, http.MethodPost, "/api/v1/spend", "alice", spendRequest{Operation: "AI_GENERATION"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[models.SpendResult](t, resp)
	assert.Equal(t, int64(0), result.NewBalance)

	resp = ts.doJSON(t, http.MethodPost, "/api/v1/spend", "alice", spendRequest{Operation: "LOCAL"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp = ts.doJSON(t, http.MethodPost, "/api/v1/spend", "alice", spendRequest{Operation: "PRINT"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/v1/spend", "alice", strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvertLocal(t *testing.T) {
	ts := setupTestServer(t)
	ts.account(t, "alice", 1)
	ts.account(t, "bob", 5)
	source := ts.upload(t, "alice", "Cat")

	resp := ts.do(t, http.MethodGet, "/api/v1/resources/"+source.Id+"/content", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp = ts.do(t, http.MethodPost, "/api/v1/resources/"+source.Id+"/convert/local", "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/v1/resources/"+source.Id+"/convert/local", "alice", nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	child := decode[models.ResourceRecord](t, resp)
	assert.Equal(t, source.Id, child.BasedOn)
	assert.Equal(t, "Converted Cat", child.Title)
	assert.Equal(t, int64(0), ts.balance(t, "alice"))

	resp = ts.do(t, http.MethodPost, "/api/v1/resources/"+source.Id+"/convert/local", "alice", nil, "")
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/resources", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.ResourceRecord](t, resp), 2)
}

func TestAsyncTransformLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	ts.account(t, "alice", 5)
	source := ts.upload(t, "alice", "Dog")
	path := "/api/v1/resources/" + source.Id + "/convert/ai"

	resp := ts.do(t, http.MethodGet, path, "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, path, "alice", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	handle := decode[models.JobHandle](t, resp)
	assert.NotEmpty(t, handle.JobId)

	resp = ts.do(t, http.MethodGet, path, "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.PollPending, decode[models.PollResult](t, resp).Status)

	worker := jobs.NewWorker(jobs.WorkerConfig{
		Queue:       ts.db,
		Handles:     ts.db,
		Handlers:    map[string]jobs.Handler{jobs.KindAITransform: ts.svc.AITransformHandler(remoteFake{})},
		WorkerId:    "server-test",
		MaxAttempts: 1,
	})
	assert.Equal(t, 1, worker.ProcessAvailable(context.Background()))

	resp = ts.do(t, http.MethodGet, path, "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decode[models.PollResult](t, resp)
	assert.Equal(t, models.PollDone, done.Status)
	assert.NotEmpty(t, done.ResourceId)
	assert.Equal(t, int64(2), ts.balance(t, "alice"))

	resp = ts.do(t, http.MethodGet, path, "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/resources/"+done.ResourceId, "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Converted - Dog", decode[models.ResourceRecord](t, resp).Title)
}

func TestBooks(t *testing.T) {
	ts := setupTestServer(t)
	ts.account(t, "alice", 0)
	resource := ts.upload(t, "alice", "Tree")

	resp := ts.doJSON(t, http.MethodPost, "/api/v1/books", "alice", createBookRequest{Title: "Sketchbook"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	book := decode[models.BookRecord](t, resp)

	resp = ts.doJSON(t, http.MethodPut, "/api/v1/resources/"+resource.Id+"/book", "alice", assignBookRequest{BookId: book.Id})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/resources?book_id="+book.Id, "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]models.ResourceRecord](t, resp), 1)

	resp = ts.do(t, http.MethodDelete, "/api/v1/books/"+book.Id, "alice", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/resources/"+resource.Id, "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[models.ResourceRecord](t, resp).BookId)

	resp = ts.doJSON(t, http.MethodPost, "/api/v1/books", "alice", createBookRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStripeWebhook(t *testing.T) {
	ts := setupTestServer(t)
	ts.account(t, "alice", 0)

	payload := []byte(`{"id":"evt_srv","object":"event","type":"checkout.session.completed",` +
		`"data":{"object":{"id":"cs_srv","object":"checkout.session","payment_status":"paid",` +
		`"metadata":{"user_id":"alice","pack_id":"starter"}}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	send := func() *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.http.URL+"/webhooks/stripe", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Stripe-Signature", signed.Header)
		resp, err := ts.http.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := send()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"outcome": "applied"}, decode[map[string]string](t, resp))

	resp = send()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"outcome": "duplicate"}, decode[map[string]string](t, resp))
	assert.Equal(t, int64(10), ts.balance(t, "alice"))

	resp = ts.do(t, http.MethodPost, "/webhooks/stripe", "", bytes.NewReader(payload), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/webhooks/paypal", "", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPaymentCatalogRoutes(t *testing.T) {
	ts := setupTestServer(t)
	ts.account(t, "alice", 0)

	resp := ts.do(t, http.MethodGet, "/api/v1/payments/packages", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	packs := decode[[]map[string]any](t, resp)
	require.Len(t, packs, 1)
	assert.Equal(t, "starter", packs[0]["id"])

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/payments/mercadopago/quote?credits=%d", 120), "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	quote := decode[payments.Quote](t, resp)
	assert.True(t, decimal.RequireFromString("0.67").Equal(quote.UnitPrice))

	resp = ts.do(t, http.MethodGet, "/api/v1/payments/mercadopago/quote?credits=2", "alice", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.doJSON(t, http.MethodPost, "/api/v1/payments/stripe/checkout", "alice", stripeCheckoutRequest{PackId: "starter"})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	code, _ := statusFor(fmt.Errorf("wrapped: %w", transform.ErrTransformFailed))
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = statusFor(fmt.Errorf("wrapped: %w", payments.ErrProviderUnavailable))
	assert.Equal(t, http.StatusBadGateway, code)

	code, _ = statusFor(fmt.Errorf("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
}
