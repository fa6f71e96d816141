package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/config"
	"github.com/NaturesProfit7/Warehouse-Automation/keycrm"
	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/NaturesProfit7/Warehouse-Automation/models/reports"
	"github.com/NaturesProfit7/Warehouse-Automation/store"
	"github.com/NaturesProfit7/Warehouse-Automation/utils"
	"github.com/NaturesProfit7/Warehouse-Automation/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

const stockReportCacheKey = "report:stock"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

type engine struct {
	store      workflow.Store
	ledger     *workflow.Ledger
	pipeline   *workflow.Pipeline
	calculator *workflow.Calculator
}

var (
	engineOnce sync.Once
	engineInst *engine
)

// getEngine wires the core components against the shared DB handle. It is
// only called after the readiness gate, so config.GetDB() is non-nil.
func getEngine() *engine {
	engineOnce.Do(func() {
		logger := config.GetLogger()
		planning := config.GetPlanningParams()
		st := store.NewGormStore(config.GetDB())
		locks := workflow.NewSkuLocks(config.GetRedisLock())
		ledger := workflow.NewLedger(st, locks, logger)
		engineInst = &engine{
			store:      st,
			ledger:     ledger,
			pipeline:   workflow.NewPipeline(st, ledger, logger, planning),
			calculator: workflow.NewCalculator(st, planning, logger),
		}
	})
	return engineInst
}

var (
	crmClientOnce sync.Once
	crmClient     *keycrm.Client
	crmClientErr  error
)

func getCrmClient() (*keycrm.Client, error) {
	crmClientOnce.Do(func() {
		crmClient, crmClientErr = keycrm.NewClientFromEnv()
	})
	return crmClient, crmClientErr
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func keycrmWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "keycrmWebhookHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.JSON(http.StatusOK, gin.H{"action": "ignored", "reason": "unreadable body"})
			return
		}

		signature := c.GetHeader("X-KeyCRM-Signature")
		if signature == "" {
			signature = c.GetHeader("X-Signature")
		}
		if !keycrm.VerifySignature(os.Getenv("KEYCRM_WEBHOOK_SECRET"), body, signature) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		var env keycrm.WebhookEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			config.LogError(logger, "server.go", "keycrmWebhookHandler", "Unmarshal body", string(body), err)
			// Malformed payload: ack/drop to avoid infinite retries.
			c.JSON(http.StatusOK, gin.H{"action": "ignored", "reason": "malformed payload"})
			return
		}
		if env.OrderId() == "" {
			config.LogError(logger, "server.go", "keycrmWebhookHandler", "missing order id", string(body), errors.New("context.id required"))
			c.JSON(http.StatusOK, gin.H{"action": "ignored", "reason": "missing order id"})
			return
		}

		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())

		// Cheap pre-check before spending a CRM API call: non-actionable
		// status transitions are acknowledged without fetching lines.
		preEvent := workflow.OrderEvent{
			Source:   workflow.SourceKeyCRM,
			OrderId:  env.OrderId(),
			StatusId: env.Context.StatusId,
			Status:   env.Context.Status,
		}
		if !preEvent.IsActionable(config.GetPlanningParams()) {
			c.JSON(http.StatusOK, gin.H{
				"action":         string(workflow.ActionIgnored),
				"order_id":       env.OrderId(),
				"correlation_id": cid,
			})
			return
		}

		client, err := getCrmClient()
		if err != nil {
			config.LogError(logger, "server.go", "keycrmWebhookHandler", "crm client", nil, err)
			c.Status(http.StatusServiceUnavailable)
			return
		}
		order, err := client.GetOrder(c.Request.Context(), env.OrderId())
		if err != nil {
			if errors.Is(err, keycrm.ErrOrderNotFound) {
				// Permanent: the order is gone, retrying won't help.
				c.JSON(http.StatusOK, gin.H{"action": "ignored", "reason": "order not found"})
				return
			}
			config.LogError(logger, "server.go", "keycrmWebhookHandler", "GetOrder", env.OrderId(), err)
			// Non-2xx tells the CRM to redeliver.
			c.Status(http.StatusBadGateway)
			return
		}

		event, err := order.ToOrderEvent(&env)
		if err != nil {
			config.LogError(logger, "server.go", "keycrmWebhookHandler", "ToOrderEvent", env.OrderId(), err)
			c.JSON(http.StatusOK, gin.H{"action": "ignored", "reason": "malformed order"})
			return
		}

		result, err := getEngine().pipeline.Ingest(c.Request.Context(), *event)
		if err != nil {
			if errors.Is(err, workflow.ErrMalformedEvent) {
				c.JSON(http.StatusOK, gin.H{"action": "ignored", "reason": err.Error()})
				return
			}
			// Transient (and anything else unexpected): redeliver.
			c.Status(http.StatusInternalServerError)
			return
		}

		if result.Action == workflow.ActionApplied {
			_ = config.RemoveRedisKey(stockReportCacheKey)
		}
		c.JSON(http.StatusOK, gin.H{
			"action":         string(result.Action),
			"order_id":       result.OrderId,
			"movements":      len(result.Movements),
			"unmapped":       len(result.Unmapped),
			"skipped_lines":  result.SkippedLines,
			"correlation_id": cid,
		})
	}
}

// operatorAuthMiddleware guards the operator API with a static bearer
// token. The operator name travels in a header so movements carry it.
func operatorAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(os.Getenv("OPERATOR_API_TOKEN"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "operator api not configured"})
			return
		}
		got := c.GetHeader("token")
		if got == "" {
			auth := c.GetHeader("Authorization")
			got = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
		if got != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if name := strings.TrimSpace(c.GetHeader("x-operator")); name != "" {
			c.Request = c.Request.WithContext(utils.SetOperatorNameInContext(c.Request.Context(), name))
		}
		c.Next()
	}
}

func operatorName(c *gin.Context, fallback string) string {
	if name, ok := utils.GetOperatorNameFromContext(c.Request.Context()); ok && name != "" {
		return name
	}
	return fallback
}

type receiptRequest struct {
	BlankSku string `json:"blank_sku" binding:"required"`
	Qty      int    `json:"qty" binding:"required"`
	User     string `json:"user"`
	Note     string `json:"note"`
}

func receiptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req receiptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		m, err := getEngine().ledger.AddReceipt(c.Request.Context(), req.BlankSku, req.Qty, operatorName(c, req.User), req.Note)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = config.RemoveRedisKey(stockReportCacheKey)
		c.JSON(http.StatusOK, gin.H{
			"movement_id":   m.ID,
			"blank_sku":     m.BlankSku,
			"qty":           m.Qty,
			"balance_after": m.BalanceAfter,
		})
	}
}

type correctionRequest struct {
	BlankSku string `json:"blank_sku" binding:"required"`
	Delta    int    `json:"delta" binding:"required"`
	User     string `json:"user"`
	Reason   string `json:"reason" binding:"required"`
}

func correctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req correctionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		m, err := getEngine().ledger.AddCorrection(c.Request.Context(), req.BlankSku, req.Delta, operatorName(c, req.User), req.Reason)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = config.RemoveRedisKey(stockReportCacheKey)
		c.JSON(http.StatusOK, gin.H{
			"movement_id":   m.ID,
			"blank_sku":     m.BlankSku,
			"qty":           m.Qty,
			"balance_after": m.BalanceAfter,
		})
	}
}

type scrapRequest struct {
	BlankSku string `json:"blank_sku" binding:"required"`
	Qty      int    `json:"qty" binding:"required"`
	User     string `json:"user"`
	Reason   string `json:"reason" binding:"required"`
}

func scrapHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req scrapRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		m, err := getEngine().ledger.AddScrap(c.Request.Context(), req.BlankSku, req.Qty, operatorName(c, req.User), req.Reason)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = config.RemoveRedisKey(stockReportCacheKey)
		c.JSON(http.StatusOK, gin.H{
			"movement_id":   m.ID,
			"blank_sku":     m.BlankSku,
			"qty":           m.Qty,
			"balance_after": m.BalanceAfter,
		})
	}
}

type stockReportResponse struct {
	Recommendations []*workflow.Recommendation `json:"recommendations"`
	Metrics         workflow.StockMetrics      `json:"metrics"`
	GeneratedAt     time.Time                  `json:"generated_at"`
}

func buildStockReport(ctx context.Context) (*stockReportResponse, error) {
	var cached stockReportResponse
	if found, err := config.GetRedisObject(stockReportCacheKey, &cached); err == nil && found {
		return &cached, nil
	}

	eng := getEngine()
	recs, err := eng.calculator.RecomputeAll(ctx)
	if err != nil {
		return nil, err
	}
	report := stockReportResponse{
		Recommendations: recs,
		Metrics:         eng.calculator.Metrics(recs),
		GeneratedAt:     time.Now().UTC(),
	}
	_ = config.SetRedisObject(stockReportCacheKey, &report, reportCacheTTL())
	return &report, nil
}

func reportCacheTTL() time.Duration {
	// Env: REPORT_CACHE_TTL_SECONDS (default 120s)
	ttl := 120
	if v := strings.TrimSpace(os.Getenv("REPORT_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return time.Duration(ttl) * time.Second
}

func stockReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := buildStockReport(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func stockReportXlsxHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := buildStockReport(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=stock_report.xlsx")
		if err := reports.ExportStockXlsx(c.Writer, report.Recommendations); err != nil {
			config.LogError(config.GetLogger(), "server.go", "stockReportXlsxHandler", "ExportStockXlsx", nil, err)
		}
	}
}

func stockBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sku := c.Param("sku")
		balance, err := getEngine().ledger.BalanceOf(c.Request.Context(), sku)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, workflow.ErrBlankNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"blank_sku": sku, "balance": balance})
	}
}

func stockMovementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sku := c.Param("sku")
		days := 30
		if v := strings.TrimSpace(c.Query("days")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				days = n
			}
		}
		from, to := utils.GetLastDaysRange(days)
		movements, err := getEngine().ledger.HistoryOf(c.Request.Context(), sku, from, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"blank_sku": sku, "movements": movements})
	}
}

func unmappedListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resolution := models.UnmappedResolution(c.DefaultQuery("resolution", string(models.UnmappedResolutionPending)))
		items, err := models.ListUnmappedItems(c.Request.Context(), resolution)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

type resolveUnmappedRequest struct {
	Resolution string `json:"resolution" binding:"required"`
	BlankSku   string `json:"blank_sku"`
	ResolvedBy string `json:"resolved_by"`
}

func unmappedResolveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var req resolveUnmappedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		item, err := models.ResolveUnmappedItem(
			c.Request.Context(), id,
			models.UnmappedResolution(req.Resolution),
			operatorName(c, req.ResolvedBy), req.BlankSku,
		)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

type recomputeRequest struct {
	BlankSku string `json:"blank_sku"`
}

func recomputeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recomputeRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		_ = config.RemoveRedisKey(stockReportCacheKey)

		eng := getEngine()
		if req.BlankSku != "" {
			rec, err := eng.calculator.Recompute(c.Request.Context(), req.BlankSku)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"recommendations": []*workflow.Recommendation{rec}})
			return
		}
		recs, err := eng.calculator.RecomputeAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"recommendations": recs,
			"metrics":         eng.calculator.Metrics(recs),
		})
	}
}

func verifyLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		eng := getEngine()
		drifted, err := workflow.VerifyLedger(c.Request.Context(), eng.store, config.GetLogger())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(drifted) > 0 {
			if err := workflow.EnqueueDriftAlert(c.Request.Context(), eng.store, drifted); err != nil {
				config.LogError(config.GetLogger(), "server.go", "verifyLedgerHandler", "EnqueueDriftAlert", nil, err)
			}
		}
		c.JSON(http.StatusOK, gin.H{"drift_count": len(drifted), "drifted": drifted})
	}
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id"`
}

// outboxReplayHandler requeues DEAD/FAILED outbox rows for another
// publish attempt.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.RecordId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}

		db := config.GetDB()
		now := time.Now().UTC()
		if err := db.WithContext(c.Request.Context()).
			Model(&models.NotificationRecord{}).
			Where("id = ?", req.RecordId).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			}).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"record_id":       req.RecordId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}

func listBlanksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		blanks, err := models.ListActiveBlanks(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"blanks": blanks})
	}
}

func createBlankHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewBlank
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		blank, err := models.CreateBlank(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, blank)
	}
}

func updateBlankHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var input models.NewBlank
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		blank, err := models.UpdateBlank(c.Request.Context(), id, &input)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, blank)
	}
}

func deactivateBlankHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		blank, err := models.DeactivateBlank(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, blank)
	}
}

func listMappingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		mappings, err := models.ListActiveProductMappings(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"mappings": mappings})
	}
}

func createMappingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProductMapping
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		mapping, err := models.CreateProductMapping(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, mapping)
	}
}

func deactivateMappingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		mapping, err := models.DeactivateProductMapping(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, mapping)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-operator", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/webhook/keycrm", keycrmWebhookHandler())

	op := r.Group("/", operatorAuthMiddleware())
	op.POST("/stock/receipts", receiptHandler())
	op.POST("/stock/corrections", correctionHandler())
	op.POST("/stock/scrap", scrapHandler())
	op.GET("/stock/report", stockReportHandler())
	op.GET("/stock/report.xlsx", stockReportXlsxHandler())
	op.GET("/stock/balance/:sku", stockBalanceHandler())
	op.GET("/stock/movements/:sku", stockMovementsHandler())
	op.GET("/stock/unmapped", unmappedListHandler())
	op.POST("/stock/unmapped/:id/resolve", unmappedResolveHandler())
	op.POST("/stock/recompute", recomputeHandler())
	op.POST("/stock/verify", verifyLedgerHandler())
	op.GET("/blanks", listBlanksHandler())
	op.POST("/blanks", createBlankHandler())
	op.PUT("/blanks/:id", updateBlankHandler())
	op.DELETE("/blanks/:id", deactivateBlankHandler())
	op.GET("/mappings", listMappingsHandler())
	op.POST("/mappings", createMappingHandler())
	op.DELETE("/mappings/:id", deactivateMappingHandler())
	// Ops tooling: replay outbox messages that were marked DEAD/FAILED.
	op.POST("/internal/ops/outbox/replay", outboxReplayHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP()

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
