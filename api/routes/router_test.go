package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/brandpulse/internal/ingest"
	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/db/models"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/idempotency"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/queue"
	bpredis "github.com/angelmondragon/brandpulse/pkg/redis"
	"github.com/angelmondragon/brandpulse/pkg/shopify"
	"github.com/angelmondragon/brandpulse/pkg/types"
)

const webhookSecret = "shpss_test"

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubBrands struct {
	brand models.Brand
}

func (s stubBrands) Get(_ context.Context, id uuid.UUID) (*models.Brand, error) {
	if id != s.brand.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "brand not found")
	}
	b := s.brand
	return &b, nil
}

func (s stubBrands) ResolveByShopDomain(_ context.Context, domain string) (*models.Brand, error) {
	if domain != s.brand.ShopDomain {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "brand not found")
	}
	b := s.brand
	return &b, nil
}

type testServer struct {
	handler http.Handler
	queue   *queue.Client
	brand   models.Brand
}

func newTestServer(t *testing.T, db stubPinger) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	rdb := bpredis.NewFromClient(raw, "bp")

	q, err := queue.New(rdb, queue.Options{Policies: queue.PoliciesFromConfig(config.QueueConfig{
		CommerceAttempts: 3, CommerceBackoff: time.Second, CommerceLease: time.Minute,
		MetricsAttempts: 3, MetricsBackoff: time.Second, MetricsLease: time.Minute,
		SyncAttempts: 1, SyncBackoff: time.Second, SyncLease: time.Minute,
	})})
	require.NoError(t, err)

	brand := models.Brand{ID: uuid.New(), ShopDomain: "acme.myshopify.com"}
	svc, err := ingest.NewService(stubBrands{brand: brand}, q, jobs.DefaultRegistry(), logger.Nop())
	require.NoError(t, err)
	guard, err := idempotency.NewManager(rdb, time.Hour)
	require.NoError(t, err)

	cfg := &config.Config{
		App:     config.AppConfig{Env: "test"},
		Shopify: config.ShopifyConfig{WebhookSecret: webhookSecret},
		HTTP:    config.HTTPConfig{SyncTriggerLimit: 2, SyncTriggerWindow: time.Hour},
	}
	gateway := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := NewRouter(Deps{
		Config:  cfg,
		Logger:  logger.Nop(),
		DB:      db,
		Redis:   rdb,
		Ingest:  svc,
		Guard:   guard,
		Gateway: gateway,
	})
	return &testServer{handler: handler, queue: q, brand: brand}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) count(t *testing.T, name enums.QueueName) int64 {
	t.Helper()
	counts, err := s.queue.Counts(context.Background(), name)
	require.NoError(t, err)
	return counts[enums.JobStateWaiting] + counts[enums.JobStateDelayed]
}

func webhookRequest(topic, webhookID, body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/shopify", strings.NewReader(body))
	req.Header.Set(shopify.HeaderTopic, topic)
	req.Header.Set(shopify.HeaderWebhookID, webhookID)
	req.Header.Set(shopify.HeaderShopDomain, "acme.myshopify.com")
	req.Header.Set(shopify.HeaderHmac, signature)
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestHealthRoutes(t *testing.T) {
	srv := newTestServer(t, stubPinger{})

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-BrandPulse-Env"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReportsDependencyFailure(t *testing.T) {
	srv := newTestServer(t, stubPinger{err: errors.New("connection refused")})

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, pkgerrors.MetadataFor(pkgerrors.CodeDependency).HTTPStatus, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeDependency), errorCode(t, rec))
}

func TestShopifyWebhookEnqueuesOnce(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	body := `{"id":1001,"created_at":"2024-03-05T10:00:00Z","total_price":"500.00","currency":"USD"}`
	sig := shopify.SignWebhook(webhookSecret, []byte(body))

	rec := srv.do(webhookRequest(shopify.TopicOrdersCreate, "wh-1", body, sig))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, srv.count(t, enums.QueueCommerceEvents))

	rec = srv.do(webhookRequest(shopify.TopicOrdersCreate, "wh-1", body, sig))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)
	assert.EqualValues(t, 1, srv.count(t, enums.QueueCommerceEvents))
}

func TestShopifyWebhookRejectsBadSignature(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	body := `{"id":1001}`

	rec := srv.do(webhookRequest(shopify.TopicOrdersCreate, "wh-2", body, shopify.SignWebhook("other", []byte(body))))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.EqualValues(t, 0, srv.count(t, enums.QueueCommerceEvents))

	rec = srv.do(webhookRequest(shopify.TopicOrdersCreate, "wh-2", body, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestShopifyWebhookRejectsUnknownTopic(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	body := `{"id":1}`

	rec := srv.do(webhookRequest("products/create", "wh-3", body, shopify.SignWebhook(webhookSecret, []byte(body))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, rec))
}

func TestShopifyWebhookFailureReleasesMarker(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	bad := `{"id":5,"order_id":0}`
	sig := shopify.SignWebhook(webhookSecret, []byte(bad))

	rec := srv.do(webhookRequest(shopify.TopicRefundsCreate, "wh-4", bad, sig))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	good := `{"id":5,"order_id":1001,"created_at":"2024-03-06T10:00:00Z"}`
	rec = srv.do(webhookRequest(shopify.TopicRefundsCreate, "wh-4", good, shopify.SignWebhook(webhookSecret, []byte(good))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "duplicate")
	assert.EqualValues(t, 1, srv.count(t, enums.QueueCommerceEvents))
}

func syncRequest(brandID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/brands/"+brandID+"/historical-sync", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestHistoricalSyncTrigger(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	id := srv.brand.ID.String()

	rec := srv.do(syncRequest(id, "k-1", `{"createdAtMin":"2024-01-01T00:00:00Z","requestedBy":"ops"}`))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var body struct {
		Data struct {
			JobID     string `json:"jobId"`
			Coalesced bool   `json:"coalesced"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.Data.JobID)
	assert.False(t, body.Data.Coalesced)
	assert.EqualValues(t, 1, srv.count(t, enums.QueueHistoricalSync))

	replay := srv.do(syncRequest(id, "k-1", `{"createdAtMin":"2024-01-01T00:00:00Z","requestedBy":"ops"}`))
	assert.Equal(t, http.StatusAccepted, replay.Code)
	assert.Contains(t, replay.Body.String(), body.Data.JobID)

	reused := srv.do(syncRequest(id, "k-1", `{}`))
	assert.Equal(t, http.StatusConflict, reused.Code)
}

func TestHistoricalSyncValidation(t *testing.T) {
	srv := newTestServer(t, stubPinger{})

	rec := srv.do(syncRequest("not-a-uuid", "k-1", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(syncRequest(srv.brand.ID.String(), "", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(syncRequest(srv.brand.ID.String(), "k-2", `{"createdAtMin":"2024-02-01T00:00:00Z","createdAtMax":"2024-01-01T00:00:00Z"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(syncRequest(srv.brand.ID.String(), "k-3", `{"unknown":true}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(syncRequest(uuid.NewString(), "k-4", `{}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoricalSyncRateLimited(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	id := srv.brand.ID.String()

	for i, key := range []string{"a", "b"} {
		rec := srv.do(syncRequest(id, key, `{}`))
		require.Equal(t, http.StatusAccepted, rec.Code, "request %d", i)
	}
	rec := srv.do(syncRequest(id, "c", `{}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestGatewayMounted(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	rec := srv.do(httptest.NewRequest(http.MethodGet, "/ws?brandId="+srv.brand.ID.String(), nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
