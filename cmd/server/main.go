package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campuswallet/internal/config"
	"campuswallet/internal/handler"
	"campuswallet/internal/infrastructure/cache"
	"campuswallet/internal/infrastructure/database"
	"campuswallet/internal/infrastructure/gateway"
	"campuswallet/internal/infrastructure/logger"
	"campuswallet/internal/infrastructure/mq"
	"campuswallet/internal/job"
	"campuswallet/internal/service"
	"campuswallet/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg := config.LoadConfig(*configPath)

	zl, err := logger.NewZapLog(cfg.Log.Level)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zl.Sync()

	// 初始化 ID 生成器
	idgen.Init(int64(cfg.Server.WorkerID))

	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		zl.Fatal("初始化 MySQL 失败", zap.Error(err))
	}

	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		zl.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	defer redisClient.Close()

	publisher, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		zl.Fatal("初始化 Kafka 失败", zap.Error(err))
	}
	defer publisher.Close()

	deps := service.NewDeps(db, redisClient, service.NewOutboxNotifier(db, cfg), gateway.NewClient(&cfg.Gateway), cfg, zl)

	payments, err := service.NewPaymentService(deps)
	if err != nil {
		zl.Fatal("初始化充值服务失败", zap.Error(err))
	}
	services := handler.Services{
		Accounts:  service.NewAccountService(deps),
		Transfers: service.NewTransferService(deps),
		Payments:  payments,
		Orders:    service.NewOrderService(deps),
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, publisher, cfg, zl)
	go outboxSender.Start(ctx)

	expiryJob := job.NewPaymentExpiryJob(db, payments, zl)
	go expiryJob.Start(ctx)

	staleJob := job.NewStalePaymentJob(db, payments, cfg, zl)
	go staleJob.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.SetupRouter(services, cfg.Gateway.SecretKey, zl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("正在关闭服务...")

	// 停止后台任务，再取消进行中的请求上下文
	staleJob.Stop()
	expiryJob.Stop()
	outboxSender.Stop()
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("服务关闭异常", zap.Error(err))
	}

	zl.Info("服务已关闭")
}
