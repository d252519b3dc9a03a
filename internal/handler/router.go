package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(s Services, webhookSecret string, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger.Named("access")))
	r.Use(CORSMiddleware())

	h := NewHandler(s, webhookSecret, logger)

	api := r.Group("/api/v1")
	{
		// 网关回调用签名认证，不走身份头
		api.POST("/payment/webhook", h.PaymentWebhook)

		authed := api.Group("", IdentityMiddleware(s.Accounts))

		wallet := authed.Group("/wallet")
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/reconcile", h.Reconcile)
			wallet.POST("/transfer", h.Transfer)
		}

		payment := authed.Group("/payment")
		{
			payment.POST("/initiate", h.InitiatePayment)
			payment.GET("/verify", h.VerifyPayment)
		}

		order := authed.Group("/order")
		{
			order.POST("/place", h.PlaceOrder)
			order.GET("/detail", h.GetOrder)
			order.POST("/confirm", h.ConfirmOrder)
			order.POST("/fee/resolve", h.ResolveFee)
			order.POST("/deliver", h.DeliverOrder)
			order.POST("/cancel", h.CancelOrder)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
