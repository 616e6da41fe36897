package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offerledger/internal/config"
	"offerledger/internal/handler"
	"offerledger/internal/infrastructure/cache"
	"offerledger/internal/infrastructure/database"
	"offerledger/internal/infrastructure/logger"
	"offerledger/internal/infrastructure/mq"
	"offerledger/internal/infrastructure/payment"
	"offerledger/internal/job"
	"offerledger/internal/repository"
	"offerledger/internal/service"
	"offerledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "offerledger",
		Short:        "Credit ledger and revenue distribution for the offer marketplace",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "配置文件路径")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newPayoutCmd(&configPath),
		newOutboxCmd(&configPath),
	)
	return root
}

// app 命令共用的依赖
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
	rdb *redis.Client
}

func bootstrap(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, err
	}

	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return nil, err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db}

	// Redis 不可用时退化为只依赖数据库唯一约束
	rdb, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		log.Warn("Redis 不可用，并发控制仅依赖数据库约束", zap.Error(err))
	} else {
		a.rdb = rdb
	}
	return a, nil
}

func (a *app) services() (*service.Services, error) {
	processor := payment.NewStripeProcessor(a.cfg.Stripe, nil)
	if a.rdb == nil {
		return service.NewServices(a.db, nil, processor, a.cfg, a.log)
	}
	return service.NewServices(a.db, a.rdb, processor, a.cfg, a.log)
}

func (a *app) close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	a.log.Sync()
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务和后台任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(a)
		},
	}
}

func serve(a *app) error {
	cfg, log := a.cfg, a.log

	if cfg.Stripe.AllowUnverifiedWebhooks {
		log.Warn("已允许处理未校验签名的回调，仅限开发环境", logger.SecurityEvent())
	}

	svc, err := a.services()
	if err != nil {
		return err
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(a.db, producer, cfg, log)
		go outboxSender.Start(ctx)
	} else {
		log.Warn("Kafka 未启用，出站消息保留在 outbox_message 表中")
	}

	compensateJob := job.NewPayoutCompensateJob(a.db, svc.Payouts, cfg, log)
	go compensateJob.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.SetupRouter(svc, cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	log.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭异常", zap.Error(err))
	}

	log.Info("服务已关闭")
	return nil
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建或更新数据表",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.AutoMigrate(a.db); err != nil {
				return err
			}
			a.log.Info("数据表已更新")
			return nil
		},
	}
}

func newPayoutCmd(configPath *string) *cobra.Command {
	payout := &cobra.Command{
		Use:   "payout",
		Short: "提现运维操作",
	}

	var status string
	settle := &cobra.Command{
		Use:   "settle <transfer-ref|payout-id>",
		Short: "手工结算一笔提现，用于回调丢失的情况",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			svc, err := a.services()
			if err != nil {
				return err
			}
			if err := svc.Reconciler.SettleTransfer(cmd.Context(), args[0], status); err != nil {
				return err
			}
			a.log.Info("提现已手工结算", zap.String("ref", args[0]), zap.String("status", status))
			return nil
		},
	}
	settle.Flags().StringVar(&status, "status", "", "结算结果：paid 或 failed")
	settle.MarkFlagRequired("status")

	payout.AddCommand(settle)
	return payout
}

func newOutboxCmd(configPath *string) *cobra.Command {
	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "出站消息运维操作",
	}

	var limit int
	requeue := &cobra.Command{
		Use:   "requeue",
		Short: "把发送失败的消息放回待发送",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := repository.NewOutboxRepository(a.db).Requeue(cmd.Context(), limit)
			if err != nil {
				return err
			}
			a.log.Info("消息已重新入队", zap.Int64("count", n))
			return nil
		},
	}
	requeue.Flags().IntVar(&limit, "limit", 1000, "最多处理条数")

	outbox.AddCommand(requeue)
	return outbox
}
