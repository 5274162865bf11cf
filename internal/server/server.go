// Package server exposes the engine's HTTP surface: order intake, the
// per-order WebSocket subscription bridge, health, and metrics. Full
// field-level validation and routing tables live upstream; intake here checks
// only structural well-formedness.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dexflow/engine/internal/model"
	"github.com/dexflow/engine/internal/orderqueue"
	"github.com/dexflow/engine/internal/publisher"
)

// SubscriberFactory opens a fresh Redis connection for one WebSocket
// subscriber. Subscriber connections are separate from the publishing
// connection so a slow consumer never blocks publication.
type SubscriberFactory func() *redis.Client

// Server wires the gin routes over the engine's collaborators.
type Server struct {
	db         *gorm.DB
	rdb        redis.UniversalClient
	queue      orderqueue.Queue
	subscriber SubscriberFactory
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// New creates a Server.
func New(db *gorm.DB, rdb redis.UniversalClient, queue orderqueue.Queue, subscriber SubscriberFactory, cacheTTL time.Duration, logger *zap.Logger) *Server {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Server{
		db:         db,
		rdb:        rdb,
		queue:      queue,
		subscriber: subscriber,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// Routes registers all endpoints on the given engine.
func (s *Server) Routes(r *gin.Engine) {
	r.POST("/api/orders/execute", s.executeOrder)
	r.GET("/ws/orders/:orderId", s.subscribeOrder)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

type executeRequest struct {
	TokenIn     string          `json:"tokenIn" binding:"required"`
	TokenOut    string          `json:"tokenOut" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	SlippageBps int64           `json:"slippageBps"`
	UserID      string          `json:"userId" binding:"required"`
}

func (s *Server) executeOrder(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	if req.SlippageBps < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slippageBps must be non-negative"})
		return
	}

	ctx := c.Request.Context()
	orderID := uuid.NewString()
	queuedAt := time.Now().UTC()

	row := publisher.OrderRow{
		ID:           orderID,
		UserID:       req.UserID,
		CurrentState: string(model.StateQueued),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Error("order insert failed", zap.String("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record order"})
		return
	}

	record := map[string]string{
		"status":       string(model.StateQueued),
		"tokenIn":      req.TokenIn,
		"tokenOut":     req.TokenOut,
		"amount":       req.Amount.String(),
		"timeQueuedAt": queuedAt.Format(time.RFC3339Nano),
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, publisher.CacheKey(orderID), record)
	pipe.Expire(ctx, publisher.CacheKey(orderID), s.cacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("cache seed failed", zap.String("order_id", orderID), zap.Error(err))
	}

	created := model.NewStateEvent(orderID, model.StateQueued, map[string]any{
		"event":    "ORDER_CREATED",
		"tokenIn":  req.TokenIn,
		"tokenOut": req.TokenOut,
		"amount":   req.Amount,
	})
	if payload, err := created.BroadcastPayload(); err == nil {
		if err := s.rdb.Publish(ctx, publisher.GlobalChannel, payload).Err(); err != nil {
			s.logger.Warn("creation broadcast failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	task := model.OrderTask{
		OrderID:     orderID,
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		Amount:      req.Amount,
		SlippageBps: req.SlippageBps,
		UserID:      req.UserID,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Error("enqueue failed", zap.String("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue order"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"orderId":      orderID,
		"status":       model.StateQueued,
		"tokenIn":      req.TokenIn,
		"tokenOut":     req.TokenOut,
		"amount":       req.Amount,
		"slippageBps":  req.SlippageBps,
		"timeQueuedAt": queuedAt.Format(time.RFC3339Nano),
	})
}
