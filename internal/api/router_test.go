package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qs3c/premium_server/config"
	"github.com/qs3c/premium_server/internal/api/handler"
	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/jwt"
	"github.com/qs3c/premium_server/internal/pkg/lock"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
	"github.com/qs3c/premium_server/internal/pkg/queue"
	"github.com/qs3c/premium_server/internal/pkg/response"
	"github.com/qs3c/premium_server/internal/pkg/ws"
	"github.com/qs3c/premium_server/internal/repository"
	"github.com/qs3c/premium_server/internal/service"
	"github.com/qs3c/premium_server/internal/testutil"
)

const testSecret = "router-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *config.Config) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	_, client := testutil.SetupTestRedis(t)

	cfg := &config.Config{
		JWT:       config.JWTConfig{Secret: testSecret, ExpireHours: 1},
		RateLimit: config.RateLimitConfig{ProofPerMinute: 1, ProofBurst: 1},
		Premium:   config.PremiumConfig{AdminIDs: []int64{1}},
	}
	cfg.ApplyDefaults()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	clk := clock.Real()
	m := metrics.New()
	publisher := pubsub.NewPublisher(client, cfg.Queue.NotifyChannel)

	entRepo := repository.NewEntitlementRepository(db)
	planRepo := repository.NewPlanRepository(db)
	expiry := service.NewExpiryService(entRepo, queue.NewDelayQueue(client, cfg.Queue.ExpiryQueue), publisher, clk, m, log, cfg.Premium.BatchSize)
	entitlements := service.NewEntitlementService(db, entRepo, expiry, publisher, clk, m, log)
	transactions := service.NewTransactionService(db, repository.NewTransactionRepository(db), planRepo, entRepo,
		entitlements, nil, node, publisher, clk, m, log)
	transfers := service.NewTransferService(db, entRepo, expiry, lock.NewLocker(client, cfg.Queue.TransferLockNS), publisher, clk, m, log)
	plans := service.NewPlanService(planRepo, log)
	require.NoError(t, plans.EnsureDefaults(cfg.Premium.Plans))

	router := NewRouter(
		handler.NewPremiumHandler(entitlements, transfers, plans),
		handler.NewTransactionHandler(transactions, cfg.Premium, cfg.OSS.MaxProofSize),
		handler.NewAdminHandler(entitlements, transactions, expiry, cfg.Premium.MinGrant()),
		handler.NewWebSocketHandler(ws.NewHub(log), cfg.JWT.Secret, nil, log),
		m.Registry,
		cfg,
	)
	return router.Setup(), cfg
}

func call(t *testing.T, engine *gin.Engine, method, path string, userID int64, body string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, err := jwt.GenerateToken(userID, testSecret, 1)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var resp response.Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestRouter_PublicPlans(t *testing.T) {
	engine, _ := setupRouter(t)

	_, resp := call(t, engine, "GET", "/api/v1/premium/plans", 0, "")
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, float64(3), resp.Data.(map[string]interface{})["total"])
}

func TestRouter_RequiresAuth(t *testing.T) {
	engine, _ := setupRouter(t)

	_, resp := call(t, engine, "GET", "/api/v1/premium/status", 0, "")
	assert.Equal(t, response.CodeAuthFailed, resp.Code)

	_, resp = call(t, engine, "GET", "/api/v1/premium/status", 5, "")
	assert.Equal(t, response.CodeSuccess, resp.Code)
}

func TestRouter_AdminOnly(t *testing.T) {
	engine, _ := setupRouter(t)

	_, resp := call(t, engine, "POST", "/api/v1/admin/premium/users/5/grant", 5, `{"duration":"30d"}`)
	assert.Equal(t, response.CodePermissionDenied, resp.Code)

	_, resp = call(t, engine, "POST", "/api/v1/admin/premium/users/5/grant", 1, `{"duration":"30d"}`)
	assert.Equal(t, response.CodeSuccess, resp.Code)

	_, resp = call(t, engine, "GET", "/api/v1/premium/status", 5, "")
	user := resp.Data.(map[string]interface{})["user"].(map[string]interface{})
	assert.Equal(t, true, user["active"])
}

func TestRouter_ProofRateLimited(t *testing.T) {
	engine, _ := setupRouter(t)

	path := "/api/v1/premium/transactions/QUO1/proof"
	_, resp := call(t, engine, "POST", path, 5, `{"proof_url":"https://img.example.com/a.png"}`)
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)

	w, resp := call(t, engine, "POST", path, 5, `{"proof_url":"https://img.example.com/a.png"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.CodeTooManyRequests, resp.Code)

	// 其他用户不受影响
	_, resp = call(t, engine, "POST", path, 6, `{"proof_url":"https://img.example.com/a.png"}`)
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestRouter_UploadDisabledWithoutOSS(t *testing.T) {
	engine, _ := setupRouter(t)

	_, resp := call(t, engine, "POST", "/api/v1/premium/transactions", 5, `{"guild_id":700,"plan_id":1}`)
	require.Equal(t, response.CodeSuccess, resp.Code)
	txnID := resp.Data.(map[string]interface{})["transaction"].(map[string]interface{})["txn_id"].(string)

	w := httptest.NewRecorder()
	body, contentType := multipartBody(t, "pay.png", []byte("png"))
	req := httptest.NewRequest("POST", "/api/v1/premium/transactions/"+txnID+"/proof/upload", body)
	req.Header.Set("Content-Type", contentType)
	token, err := jwt.GenerateToken(5, testSecret, 1)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	engine.ServeHTTP(w, req)

	var uploadResp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploadResp))
	assert.Equal(t, response.CodeParamError, uploadResp.Code)
}

func TestRouter_Metrics(t *testing.T) {
	engine, _ := setupRouter(t)

	_, resp := call(t, engine, "POST", "/api/v1/admin/premium/users/5/grant", 1, `{"duration":"1d"}`)
	require.Equal(t, response.CodeSuccess, resp.Code)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "premium_notify_failures_total")
}

func TestRouter_WebSocketRequiresToken(t *testing.T) {
	engine, _ := setupRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/ws", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func multipartBody(t *testing.T, filename string, content []byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}
