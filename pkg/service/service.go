package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/hewenyu/meshlite/internal/loop"
	imetrics "github.com/hewenyu/meshlite/internal/metrics"
	"github.com/hewenyu/meshlite/pkg/logger"
	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/requester"
	"github.com/hewenyu/meshlite/pkg/schema"
)

var (
	// ErrInvalidState 当前状态不允许该操作
	ErrInvalidState = errors.New("invalid service state")
	// ErrNoSuchService 没有找到匹配的服务
	ErrNoSuchService = errors.New("no such service")
)

// State 服务生命周期状态，只能单向推进
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateDisposing
	StateStopped
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDisposing:
		return "disposing"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Service 是一个服务实例的运行时：对外提供endpoint，维护其他服务的本地缓存
type Service struct {
	cfg       Config
	user      Endpoints
	endpoints Endpoints
	logger    logger.Logger
	sink      metrics.MetricSink
	requester *requester.Requester
	cache     *PeerCache

	onOpen      func(model.ServiceEntry)
	onClose     func(model.ServiceEntry)
	excludeSelf bool

	state         atomic.Int32
	endpointNames []string
	entry         model.ServiceEntry
	echo          *echo.Echo
	listener      net.Listener
	refresher     *loop.Loop
	refreshMu     sync.Mutex
}

// New 创建服务，Start之前不会监听端口
func New(cfg Config, endpoints Endpoints, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg.withDefaults(),
		user:   endpoints,
		logger: logger.NewNop(),
		cache:  NewPeerCache(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sink = imetrics.OrDefault(s.sink)
	s.logger = s.logger.Named(s.cfg.Name)
	if s.requester == nil {
		s.requester = requester.New(
			requester.WithTimeout(s.cfg.RequestTimeout),
			requester.WithLogger(s.logger),
			requester.WithMetricSink(s.sink),
		)
	}
	return s
}

// Start 绑定端口并开始提供服务，启用注册时向注册中心注册。
// 只能在Created状态调用一次
func (s *Service) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("%w: cannot start in state %s", ErrInvalidState, s.State())
	}

	s.endpoints = s.buildEndpoints(s.user)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("监听端口 %d 失败: %w", s.cfg.Port, err)
	}
	s.listener = ln
	port := ln.Addr().(*net.TCPAddr).Port

	s.entry = model.ServiceEntry{
		ID:                 s.cfg.ID,
		Name:               s.cfg.Name,
		Tags:               s.cfg.Tags,
		Address:            s.cfg.advertise(port),
		Metadata:           s.cfg.Metadata,
		RegisterIntervalMs: uint64(s.cfg.RegisterInterval.Milliseconds()),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Listener = ln
	e.Use(middleware.Recover())
	e.GET("/", s.dispatch)
	e.GET("/*", s.dispatch)
	s.echo = e

	go func() {
		if err := e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("服务已启动",
		zap.String("id", s.cfg.ID.String()),
		zap.String("address", s.entry.Address),
		zap.Int("port", port),
	)

	if s.cfg.Register {
		if err := s.register(ctx); err != nil {
			_ = e.Shutdown(context.Background())
			s.state.Store(int32(StateStopped))
			return err
		}

		s.refresher = loop.New("peercache-"+s.cfg.Name, s.cfg.RefreshInterval, s.refreshTick, s.logger, s.sink)
		s.refresher.Start(context.Background())
	}

	s.state.Store(int32(StateRunning))
	return nil
}

// register 向注册中心注册本实例，并用返回的列表初始化缓存
func (s *Service) register(ctx context.Context) error {
	res := s.requester.Do(ctx, s.cfg.RegistryURL, "add", s.entryPayload())
	if res.IsError() {
		return fmt.Errorf("向注册中心 %s 注册失败: %s", s.cfg.RegistryURL, res.Err())
	}

	entries, err := model.EntriesFromList(res.Unwrap().GetList("services"))
	if err != nil {
		return fmt.Errorf("解析注册中心返回的服务列表失败: %w", err)
	}
	s.replaceCache(entries)

	s.logger.Info("已注册到注册中心",
		zap.String("registry", s.cfg.RegistryURL),
		zap.Int("services", len(entries)),
	)
	return nil
}

// Dispose 停止服务，启用注册时尽力从注册中心注销。可重复调用
func (s *Service) Dispose(ctx context.Context) error {
	for {
		st := s.State()
		switch st {
		case StateDisposing, StateStopped:
			return nil
		case StateStarting:
			return fmt.Errorf("%w: cannot dispose while starting", ErrInvalidState)
		}
		if s.state.CompareAndSwap(int32(st), int32(StateDisposing)) {
			if st == StateCreated {
				s.state.Store(int32(StateStopped))
				return nil
			}
			break
		}
	}

	if s.refresher != nil {
		s.refresher.Stop()
	}

	if s.cfg.Register {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.DisposeTimeout)
		res := s.requester.Do(rctx, s.cfg.RegistryURL, "remove", s.entryPayload())
		cancel()
		if res.IsError() {
			s.logger.Warn("从注册中心注销失败", zap.String("error", res.Err()))
		}
	}

	err := s.echo.Shutdown(ctx)
	s.state.Store(int32(StateStopped))
	s.logger.Info("服务已停止", zap.String("id", s.cfg.ID.String()))
	if err != nil {
		return fmt.Errorf("关闭HTTP服务失败: %w", err)
	}
	return nil
}

// State 当前状态
func (s *Service) State() State {
	return State(s.state.Load())
}

// ID 实例ID
func (s *Service) ID() uuid.UUID {
	return s.cfg.ID
}

// Name 服务名称
func (s *Service) Name() string {
	return s.cfg.Name
}

// Entry 本实例的注册信息，Start之后有效
func (s *Service) Entry() model.ServiceEntry {
	return s.entry
}

// Port 实际监听的端口，Start之后有效
func (s *Service) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Address 注册地址，Start之后有效
func (s *Service) Address() string {
	return s.entry.Address
}

// Logger 服务使用的日志
func (s *Service) Logger() logger.Logger {
	return s.logger
}

// Requester 服务使用的Requester
func (s *Service) Requester() *requester.Requester {
	return s.requester
}

// Cache 本地服务缓存
func (s *Service) Cache() *PeerCache {
	return s.cache
}

func (s *Service) entryPayload() schema.Payload {
	return s.entry.ToObject().Validate(model.EntrySchema).Unwrap()
}
