package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// API 路由组
	api := r.Group("/api/v1")

	// 支付回调不挂站点中间件：站点从订单记录反查
	callback := api.Group("/payment/callback")
	{
		callback.POST("/wechat", h.WechatCallback)
		callback.POST("/alipay", h.AlipayCallback)
	}

	biz := api.Group("")
	biz.Use(SiteMiddleware())
	{
		// 账户相关
		account := biz.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/transactions", h.ListTransactions)
		}

		// 充值订单相关
		order := biz.Group("/order")
		{
			order.POST("/create", h.CreateOrder)
			order.GET("/detail", h.GetOrder)
			order.GET("/list", h.ListOrders)
			order.POST("/cancel", h.CancelOrder)
		}

		// 分析任务相关
		task := biz.Group("/task")
		{
			task.POST("/submit", h.SubmitTask)
			task.GET("/detail", h.GetTask)
			task.GET("/list", h.ListTasks)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
