package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	"go.uber.org/zap"

	"github.com/hewenyu/meshlite/internal/config"
	"github.com/hewenyu/meshlite/internal/dns"
	"github.com/hewenyu/meshlite/internal/registry"
	"github.com/hewenyu/meshlite/internal/snapshot"
	"github.com/hewenyu/meshlite/internal/store/etcd"
	"github.com/hewenyu/meshlite/pkg/logger"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 内存指标，收到SIGUSR1时输出
	sink := gometrics.NewInmemSink(10*time.Second, time.Minute)
	signalHandler := gometrics.DefaultInmemSignal(sink)
	defer signalHandler.Stop()

	store, closeStore, err := openSnapshotStore(cfg)
	if err != nil {
		log.Fatal("初始化快照存储失败", zap.Error(err))
	}
	defer closeStore()

	reg := registry.New(cfg.RegistryConfig(),
		registry.WithLogger(log),
		registry.WithMetricSink(sink),
		registry.WithSnapshotStore(store),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.Start(ctx); err != nil {
		log.Fatal("启动注册中心失败", zap.Error(err))
	}
	log.Info("注册中心已启动",
		zap.String("address", reg.Address()),
		zap.String("snapshot", cfg.Snapshot.Backend),
	)

	var dnsServer dns.Service
	if cfg.DNS.Enabled {
		dnsServer = dns.NewServer(cfg.DNSConfig(), reg, log)
		if err := dnsServer.Start(ctx); err != nil {
			log.Fatal("启动DNS服务失败", zap.Error(err))
		}
	}

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("接收到关闭信号，正在优雅关闭...", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if dnsServer != nil {
		if err := dnsServer.Stop(); err != nil {
			log.Warn("停止DNS服务失败", zap.Error(err))
		}
	}
	if err := reg.Stop(shutdownCtx); err != nil {
		log.Error("停止注册中心失败", zap.Error(err))
	}
}

// openSnapshotStore 根据配置选择快照后端
func openSnapshotStore(cfg *config.Config) (snapshot.Store, func(), error) {
	switch cfg.Snapshot.Backend {
	case config.SnapshotEtcd:
		client, err := etcd.NewClient(etcd.Config{
			Endpoints:      cfg.Etcd.Endpoints,
			Username:       cfg.Etcd.Username,
			Password:       cfg.Etcd.Password,
			DialTimeout:    cfg.Etcd.DialTimeout,
			RequestTimeout: cfg.Etcd.RequestTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Etcd.DialTimeout)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return snapshot.NewEtcd(client, cfg.Snapshot.Key), func() { _ = client.Close() }, nil

	case config.SnapshotRedis:
		store, err := snapshot.NewRedis(snapshot.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Snapshot.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	return snapshot.Noop{}, func() {}, nil
}
