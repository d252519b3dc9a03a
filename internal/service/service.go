package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campuswallet/internal/config"
	"campuswallet/internal/infrastructure/gateway"
	"campuswallet/internal/infrastructure/lock"
	"campuswallet/internal/infrastructure/metrics"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Identity 已经通过上游认证的调用方
type Identity struct {
	AccountID string
	Role      string
}

// Gateway 支付网关
type Gateway interface {
	Initialize(ctx context.Context, req gateway.InitRequest) (*gateway.InitResult, error)
	Verify(ctx context.Context, reference string) (*gateway.Verification, error)
}

// Deps 各个服务共用的依赖
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Locks    *lock.Manager
	Guard    *lock.LocalGuard
	Notifier Notifier
	Gateway  Gateway
	Monitor  *RiskMonitor
	Config   *config.Config
	Logger   *zap.Logger
}

// NewDeps 按配置组装依赖，notifier 和 gw 由调用方决定具体实现
func NewDeps(db *gorm.DB, rdb *redis.Client, notifier Notifier, gw Gateway, cfg *config.Config, logger *zap.Logger) Deps {
	return Deps{
		DB:       db,
		Redis:    rdb,
		Locks:    lock.NewManager(rdb, time.Duration(cfg.Business.LockTTLSeconds)*time.Second),
		Guard:    lock.NewLocalGuard(),
		Notifier: notifier,
		Gateway:  gw,
		Monitor:  NewRiskMonitor(db, cfg.Risk, logger),
		Config:   cfg,
		Logger:   logger,
	}
}

// enter 进程内去重 + 分布式锁，返回统一的释放函数
func enter(ctx context.Context, d Deps, caller, op string, lockOp string, resourceIDs ...string) (func(), error) {
	leave, ok := d.Guard.TryEnter(caller, op)
	if !ok {
		metrics.LockBusyTotal.WithLabelValues(op).Inc()
		return nil, fmt.Errorf("%w: %s", ErrBusy, op)
	}

	handles, err := d.Locks.AcquireAll(ctx, lockOp, resourceIDs...)
	if err != nil {
		leave()
		if errors.Is(err, lock.ErrBusy) {
			metrics.LockBusyTotal.WithLabelValues(lockOp).Inc()
			return nil, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return nil, err
	}

	return func() {
		// 用独立的 context 释放锁，请求被取消时也要把锁还回去
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := handles.Release(releaseCtx); err != nil {
			d.Logger.Warn("释放分布式锁失败", zap.String("op", lockOp), zap.Error(err))
		}
		leave()
	}, nil
}
