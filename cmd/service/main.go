package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/meshlite/internal/config"
	"github.com/hewenyu/meshlite/pkg/logger"
	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/result"
	"github.com/hewenyu/meshlite/pkg/schema"
	"github.com/hewenyu/meshlite/pkg/service"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	var svc *service.Service
	endpoints := service.Endpoints{
		// echo 原样返回info
		"echo": {
			Schema: schema.Schema{"info": schema.String()},
			Handler: func(_ context.Context, p schema.Payload) result.Result[*schema.Object] {
				return result.Ok(schema.New().Put("info", p.GetString("info")))
			},
		},
		// relay 把info转发给指定名称的服务的echo
		"relay": {
			Schema: schema.Schema{"to": schema.String(), "info": schema.String()},
			Handler: func(ctx context.Context, p schema.Payload) result.Result[*schema.Object] {
				payload := schema.New().Put("info", p.GetString("info")).Validate(schema.Schema{"info": schema.String()})
				if payload.IsError() {
					return result.Error[*schema.Object](payload.Err())
				}
				call, err := svc.RequestByName(ctx, p.GetString("to"), "echo", payload.Unwrap())
				if err != nil {
					return result.Error[*schema.Object](err.Error())
				}
				res, err := call.Wait(ctx)
				if err != nil {
					return result.Error[*schema.Object](err.Error())
				}
				return res
			},
		},
	}

	svc = service.New(cfg.ServiceConfig(), endpoints,
		service.WithLogger(log),
		service.WithSelfExclusion(),
		service.WithOnServiceOpen(func(e model.ServiceEntry) {
			log.Info("发现服务", zap.Stringer("service", e))
		}),
		service.WithOnServiceClose(func(e model.ServiceEntry) {
			log.Info("服务已下线", zap.Stringer("service", e))
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatal("启动服务失败", zap.Error(err))
	}
	log.Info("服务已启动",
		zap.String("id", svc.ID().String()),
		zap.String("address", svc.Address()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("接收到关闭信号，正在优雅关闭...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := svc.Dispose(shutdownCtx); err != nil {
		log.Error("关闭服务失败", zap.Error(err))
	}
}
