package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reward_ledger/internal/economy"
	"reward_ledger/internal/logger"
	"reward_ledger/internal/metrics"
	"reward_ledger/internal/notify"
)

const shutdownTimeout = 5 * time.Second

func NewRouter(engine *economy.Engine, verifier *Verifier, hub *notify.Hub) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(), gin.Recovery(), metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	h := NewHandlers(engine, hub)
	api := r.Group("/api/v1", Authenticate(verifier))
	{
		api.POST("/onboard", h.Onboard)
		api.POST("/welcome/ack", h.AcknowledgeWelcome)
		api.GET("/balance", h.Balance)
		api.GET("/transactions", h.History)
		api.POST("/spin", h.Spin)
		api.POST("/login-bonus", h.LoginBonus)
		api.GET("/tasks", h.ListTasks)
		api.GET("/tasks/:task_id", h.TaskStatus)
		api.POST("/tasks/:task_id/start", h.StartTask)
		api.POST("/tasks/:task_id/complete", h.CompleteTask)
		api.GET("/referrals", h.Referrals)
		api.GET("/withdrawals", h.ListWithdrawals)
		api.POST("/withdrawals", h.RequestWithdrawal)
		api.GET("/withdrawal-methods", h.WithdrawalMethods)
		api.GET("/notifications", h.Notifications)
	}

	admin := api.Group("/admin", RequireRole(RoleAdmin))
	{
		admin.GET("/stats", h.Stats)
		admin.GET("/withdrawals/pending", h.PendingWithdrawals)
		admin.GET("/withdrawals/top", h.TopWithdrawers)
		admin.POST("/withdrawals/:request_id/resolve", h.ResolveWithdrawal)
		admin.POST("/users/:user_id/block", h.SetBlocked)
		admin.POST("/users/:user_id/earnings", h.RecordEarning)
		admin.POST("/users/:user_id/features/:feature", h.ClaimFeature)
		admin.POST("/referrals", h.ProcessReferral)
		admin.GET("/prize-tables/:table_id/draw", h.DrawPrize)
	}
	return r
}

// RequestLogger writes one structured line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.L.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user_id", currentUser(c)),
		)
	}
}

// Run serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	serv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.L.Info("server starting", zap.String("addr", addr))
		if err := serv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-groupCtx.Done()
		logger.L.Info("server stopping", zap.String("addr", addr))
		timeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return serv.Shutdown(timeCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L.Info("server stopped", zap.String("addr", addr))
	return nil
}
