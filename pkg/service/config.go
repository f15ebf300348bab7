package service

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRefreshInterval 刷新本地服务缓存的默认间隔
	DefaultRefreshInterval = 10 * time.Second
	// DefaultCacheMaxAge 缓存超过该时间后查询前强制刷新
	DefaultCacheMaxAge = 60 * time.Second
	// DefaultRegisterInterval 注册中心检查本实例存活的默认间隔
	DefaultRegisterInterval = 60 * time.Second
	// DefaultDisposeTimeout 关闭时向注册中心注销的超时时间
	DefaultDisposeTimeout = time.Second
	// DefaultAdvertiseHost 对外公布的默认主机名
	DefaultAdvertiseHost = "localhost"
)

// Config 服务运行时配置
type Config struct {
	ID   uuid.UUID // 为空时自动生成
	Name string
	Tags []string
	Port int // 0 表示由系统分配

	// AdvertiseHost 与实际端口组成注册到注册中心的地址
	AdvertiseHost string
	// AdvertiseAddress 不为空时直接作为注册地址，优先于AdvertiseHost
	AdvertiseAddress string
	Metadata         map[string]string

	RegistryURL      string
	Register         bool
	RegisterInterval time.Duration
	RefreshInterval  time.Duration
	CacheMaxAge      time.Duration
	RequestTimeout   time.Duration
	DisposeTimeout   time.Duration
}

// withDefaults 填充未设置的字段
func (c Config) withDefaults() Config {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.AdvertiseHost == "" {
		c.AdvertiseHost = DefaultAdvertiseHost
	}
	if c.RegisterInterval <= 0 {
		c.RegisterInterval = DefaultRegisterInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.CacheMaxAge <= 0 {
		c.CacheMaxAge = DefaultCacheMaxAge
	}
	if c.DisposeTimeout <= 0 {
		c.DisposeTimeout = DefaultDisposeTimeout
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c
}

// advertise 返回注册到注册中心的地址
func (c Config) advertise(port int) string {
	if c.AdvertiseAddress != "" {
		return c.AdvertiseAddress
	}
	return net.JoinHostPort(c.AdvertiseHost, strconv.Itoa(port))
}
