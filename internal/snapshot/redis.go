package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/hewenyu/meshlite/pkg/model"
)

// DefaultRedisKey redis中保存快照的键
const DefaultRedisKey = "_meshlite_services"

// RedisConfig redis连接配置，Addr可以是host:port或redis://地址
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Redis 把快照保存在redis的单个键中
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis 创建redis快照
func NewRedis(cfg RedisConfig) (*Redis, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: redis.NewClient(opts), key: key}, nil
}

func redisOptions(cfg RedisConfig) (*redis.Options, error) {
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("解析redis地址失败: %w", err)
		}
		return opts, nil
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	return &redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

// Save 实现Store
func (s *Redis) Save(ctx context.Context, entries []model.ServiceEntry) error {
	data, err := encode(entries)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis保存快照失败 [%s]: %w", s.key, err)
	}
	return nil
}

// Load 实现Store
func (s *Redis) Load(ctx context.Context) ([]model.ServiceEntry, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis读取快照失败 [%s]: %w", s.key, err)
	}
	return decode(data)
}

// Ping 检查redis是否可用
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis健康检查失败: %w", err)
	}
	return nil
}

// Close 关闭连接
func (s *Redis) Close() error {
	return s.client.Close()
}
