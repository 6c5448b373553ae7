package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditpay/internal/config"
	"creditpay/internal/handler"
	"creditpay/internal/infrastructure/cache"
	"creditpay/internal/infrastructure/database"
	"creditpay/internal/infrastructure/mq"
	"creditpay/internal/job"
	"creditpay/internal/limiter"
	"creditpay/internal/payment"
	"creditpay/internal/service"
	"creditpay/internal/upstream"
	"creditpay/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka 生产者
	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		log.Fatalf("Kafka 初始化失败: %v", err)
	}
	defer producer.Close()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 组装服务
	gateways := payment.NewRegistry(payment.NewWechatGateway(), payment.NewAlipayGateway())
	rateLimiter := limiter.NewRateLimiter()
	go rateLimiter.StartEviction(ctx, time.Minute)

	ledger := service.NewLedgerService(db)
	orderService := service.NewOrderService(db, cfg, gateways, ledger, rateLimiter)
	taskService := service.NewTaskService(db, redisClient, cfg, ledger, upstream.NewClient(&cfg.Upstream))

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, producer, cfg)
	go outboxSender.Start(ctx)

	cleanupJob := job.NewTaskCleanupJob(taskService, cfg)
	go cleanupJob.Start(ctx)

	// 设置路由
	h := handler.NewHandler(cfg, orderService, taskService, ledger)
	router := handler.SetupRouter(h)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
