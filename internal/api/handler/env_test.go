package handler

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/premium_server/config"
	"github.com/qs3c/premium_server/internal/api/middleware"
	"github.com/qs3c/premium_server/internal/model"
	"github.com/qs3c/premium_server/internal/pkg/clock"
	"github.com/qs3c/premium_server/internal/pkg/lock"
	"github.com/qs3c/premium_server/internal/pkg/metrics"
	"github.com/qs3c/premium_server/internal/pkg/pubsub"
	"github.com/qs3c/premium_server/internal/pkg/queue"
	"github.com/qs3c/premium_server/internal/pkg/response"
	"github.com/qs3c/premium_server/internal/repository"
	"github.com/qs3c/premium_server/internal/service"
	"github.com/qs3c/premium_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminID int64 = 9000

type stubUploader struct {
	calls int
}

func (u *stubUploader) UploadProof(txnID string, _ []byte, ext string) (string, error) {
	u.calls++
	return "https://cdn.example.com/proofs/" + txnID + ext, nil
}

type testEnv struct {
	DB       *gorm.DB
	Queue    *queue.DelayQueue
	Uploader *stubUploader

	premium      *PremiumHandler
	transactions *TransactionHandler
	admin        *AdminHandler
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	_, client := testutil.SetupTestRedis(t)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	clk := clock.Real()
	m := metrics.New()
	publisher := pubsub.NewPublisher(client, "test_notify")
	delayQueue := queue.NewDelayQueue(client, "test:expiry")
	uploader := &stubUploader{}

	entRepo := repository.NewEntitlementRepository(db)
	planRepo := repository.NewPlanRepository(db)
	expiry := service.NewExpiryService(entRepo, delayQueue, publisher, clk, m, log, 100)
	entitlements := service.NewEntitlementService(db, entRepo, expiry, publisher, clk, m, log)
	transactions := service.NewTransactionService(db, repository.NewTransactionRepository(db), planRepo, entRepo,
		entitlements, uploader, node, publisher, clk, m, log)
	transfers := service.NewTransferService(db, entRepo, expiry, lock.NewLocker(client, "test:transfer"), publisher, clk, m, log)
	plans := service.NewPlanService(planRepo, log)

	premiumCfg := config.PremiumConfig{UPIID: "premium@upi", PaymentWindowDays: 3}
	return &testEnv{
		DB:           db,
		Queue:        delayQueue,
		Uploader:     uploader,
		premium:      NewPremiumHandler(entitlements, transfers, plans),
		transactions: NewTransactionHandler(transactions, premiumCfg, 1<<20),
		admin:        NewAdminHandler(entitlements, transactions, expiry, 24*time.Hour),
	}
}

// mockAuth 模拟认证中间件
func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetRequest(c, middleware.Request{ActorID: userID, IsAdmin: userID == adminID})
		c.Next()
	}
}

// router 注册与正式路由相同的路径，认证由 mockAuth 代替
func (e *testEnv) router(actorID int64) *gin.Engine {
	r := gin.New()
	r.GET("/plans", e.premium.Plans)

	authed := r.Group("")
	if actorID != 0 {
		authed.Use(mockAuth(actorID))
	}
	authed.GET("/status", e.premium.Status)
	authed.POST("/guilds/:guild_id/activate", e.premium.Activate)
	authed.POST("/guilds/:guild_id/deactivate", e.premium.Deactivate)
	authed.POST("/guilds/:guild_id/transfer", e.premium.Transfer)
	authed.GET("/guilds/:guild_id/backup", e.premium.Backup)

	authed.POST("/transactions", e.transactions.Create)
	authed.GET("/transactions", e.transactions.ListMine)
	authed.GET("/transactions/:txn_id", e.transactions.Get)
	authed.POST("/transactions/:txn_id/proof", e.transactions.SubmitProof)
	authed.POST("/transactions/:txn_id/proof/upload", e.transactions.UploadProof)

	admin := authed.Group("/admin")
	for path, kind := range map[string]model.SubjectKind{"/users/:id": model.SubjectUser, "/guilds/:id": model.SubjectGuild} {
		admin.GET(path, e.admin.Get(kind))
		admin.POST(path+"/grant", e.admin.Grant(kind))
		admin.POST(path+"/revoke", e.admin.Revoke(kind))
	}
	admin.GET("/transactions", e.admin.ListTransactions)
	admin.POST("/transactions/:txn_id/verify", e.admin.Verify)
	admin.POST("/transactions/:txn_id/deny", e.admin.Deny)
	admin.POST("/sweep", e.admin.Sweep)
	return r
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return data
}

func pathID(id int64) string {
	return strconv.FormatInt(id, 10)
}
