package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/hewenyu/meshlite/internal/dns"
	"github.com/hewenyu/meshlite/internal/registry"
	"github.com/hewenyu/meshlite/pkg/service"
)

// 快照后端
const (
	SnapshotNone  = "none"
	SnapshotEtcd  = "etcd"
	SnapshotRedis = "redis"
)

// Config 应用程序配置结构
type Config struct {
	// 服务实例配置
	Service struct {
		ID               string            `mapstructure:"id"` // 为空时自动生成
		Name             string            `mapstructure:"name"`
		Tags             []string          `mapstructure:"tags"`
		Port             int               `mapstructure:"port"` // 0 表示由系统分配
		AdvertiseHost    string            `mapstructure:"advertise_host"`
		AdvertiseAddress string            `mapstructure:"advertise_address"`
		Metadata         map[string]string `mapstructure:"metadata"`
	} `mapstructure:"service"`

	// 注册配置
	Registration struct {
		URL            string        `mapstructure:"url"`
		Enabled        bool          `mapstructure:"enabled"`
		UpdateInterval time.Duration `mapstructure:"update_interval"` // 注册中心检查本实例的间隔
	} `mapstructure:"registration"`

	// 请求与本地缓存配置
	Request struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"request"`
	Cache struct {
		RefreshInterval time.Duration `mapstructure:"refresh_interval"`
		MaxAge          time.Duration `mapstructure:"max_age"`
	} `mapstructure:"cache"`

	// 注册中心服务端配置
	Registry struct {
		Name         string        `mapstructure:"name"`
		Port         int           `mapstructure:"port"`
		TickInterval time.Duration `mapstructure:"tick_interval"`
		GracePeriod  time.Duration `mapstructure:"grace_period"`
		PingTimeout  time.Duration `mapstructure:"ping_timeout"`
	} `mapstructure:"registry"`

	// 快照配置
	Snapshot struct {
		Backend string `mapstructure:"backend"` // "none", "etcd" 或 "redis"
		Key     string `mapstructure:"key"`
	} `mapstructure:"snapshot"`

	// etcd配置
	Etcd struct {
		Endpoints      []string      `mapstructure:"endpoints"`
		Username       string        `mapstructure:"username"`
		Password       string        `mapstructure:"password"`
		DialTimeout    time.Duration `mapstructure:"dial_timeout"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"etcd"`

	// redis配置
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	// DNS服务配置
	DNS struct {
		Enabled       bool          `mapstructure:"enabled"`
		ListenAddress string        `mapstructure:"listen_address"`
		Port          int           `mapstructure:"port"`
		Protocol      string        `mapstructure:"protocol"` // "udp", "tcp", 或 "both"
		Domain        string        `mapstructure:"domain"`
		TTL           time.Duration `mapstructure:"ttl"`
	} `mapstructure:"dns"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("meshlite")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.meshlite")
		v.AddConfigPath("/etc/meshlite")
	}
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// 找不到默认配置文件时使用默认值，其他错误直接返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("MESHLITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVariables(v); err != nil {
		return nil, fmt.Errorf("绑定环境变量错误: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.id", "")
	v.SetDefault("service.name", "unnamed")
	v.SetDefault("service.tags", []string{})
	v.SetDefault("service.port", 0)
	v.SetDefault("service.advertise_host", service.DefaultAdvertiseHost)
	v.SetDefault("service.advertise_address", "")

	v.SetDefault("registration.url", "http://localhost:2999/")
	v.SetDefault("registration.enabled", true)
	v.SetDefault("registration.update_interval", service.DefaultRegisterInterval)

	v.SetDefault("request.timeout", 3*time.Second)
	v.SetDefault("cache.refresh_interval", service.DefaultRefreshInterval)
	v.SetDefault("cache.max_age", service.DefaultCacheMaxAge)

	v.SetDefault("registry.name", "SVC-REGISTER")
	v.SetDefault("registry.port", 2999)
	v.SetDefault("registry.tick_interval", registry.DefaultTickInterval)
	v.SetDefault("registry.grace_period", registry.DefaultGracePeriod)
	v.SetDefault("registry.ping_timeout", registry.DefaultPingTimeout)

	v.SetDefault("snapshot.backend", SnapshotNone)
	v.SetDefault("snapshot.key", "")

	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.username", "")
	v.SetDefault("etcd.password", "")
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.request_timeout", 3*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("dns.enabled", false)
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 5353)
	v.SetDefault("dns.protocol", "udp")
	v.SetDefault("dns.domain", "mesh.local")
	v.SetDefault("dns.ttl", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// bindEnvVariables 绑定简写形式的环境变量
func bindEnvVariables(v *viper.Viper) error {
	bindings := map[string][]string{
		"service.id":                   {"MESHLITE_SERVICE_ID", "MESHLITE_ID"},
		"service.name":                 {"MESHLITE_SERVICE_NAME", "MESHLITE_NAME"},
		"service.tags":                 {"MESHLITE_SERVICE_TAGS", "MESHLITE_TAGS"},
		"service.port":                 {"MESHLITE_SERVICE_PORT", "MESHLITE_PORT"},
		"registration.url":             {"MESHLITE_REGISTRATION_URL", "MESHLITE_REGISTER_URL"},
		"registration.enabled":         {"MESHLITE_REGISTRATION_ENABLED", "MESHLITE_DO_REGISTER"},
		"registration.update_interval": {"MESHLITE_REGISTRATION_UPDATE_INTERVAL", "MESHLITE_REGISTER_UPDATE_INTERVAL"},
		"registry.port":                {"MESHLITE_REGISTRY_PORT"},
		"etcd.endpoints":               {"MESHLITE_ETCD_ENDPOINTS"},
		"redis.addr":                   {"MESHLITE_REDIS_ADDR"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate 检查配置的合法性
func (c *Config) Validate() error {
	if c.Service.ID != "" {
		if _, err := uuid.Parse(c.Service.ID); err != nil {
			return fmt.Errorf("无效的服务ID %q: %w", c.Service.ID, err)
		}
	}
	if c.Service.Port < 0 || c.Service.Port > 65535 {
		return fmt.Errorf("无效的服务端口: %d", c.Service.Port)
	}
	if c.Registration.Enabled && c.Registration.URL == "" {
		return fmt.Errorf("启用注册时注册中心地址不能为空")
	}
	switch c.Snapshot.Backend {
	case SnapshotNone, SnapshotEtcd, SnapshotRedis:
	default:
		return fmt.Errorf("未知的快照后端: %s", c.Snapshot.Backend)
	}
	switch c.DNS.Protocol {
	case "udp", "tcp", "both":
	default:
		return fmt.Errorf("未知的DNS协议: %s", c.DNS.Protocol)
	}
	return nil
}

// ServiceConfig 转换为服务运行时配置
func (c *Config) ServiceConfig() service.Config {
	var id uuid.UUID
	if c.Service.ID != "" {
		id = uuid.MustParse(c.Service.ID)
	}

	return service.Config{
		ID:               id,
		Name:             c.Service.Name,
		Tags:             splitTags(c.Service.Tags),
		Port:             c.Service.Port,
		AdvertiseHost:    c.Service.AdvertiseHost,
		AdvertiseAddress: c.Service.AdvertiseAddress,
		Metadata:         c.Service.Metadata,
		RegistryURL:      c.Registration.URL,
		Register:         c.Registration.Enabled,
		RegisterInterval: c.Registration.UpdateInterval,
		RefreshInterval:  c.Cache.RefreshInterval,
		CacheMaxAge:      c.Cache.MaxAge,
		RequestTimeout:   c.Request.Timeout,
	}
}

// RegistryConfig 转换为注册中心配置，注册中心自身不注册
func (c *Config) RegistryConfig() registry.Config {
	svc := c.ServiceConfig()
	svc.Name = c.Registry.Name
	svc.Port = c.Registry.Port
	svc.Register = false

	// 配置文件中显式设置为0表示不使用宽限期
	grace := c.Registry.GracePeriod
	if grace == 0 {
		grace = registry.NoGracePeriod
	}

	return registry.Config{
		Service:      svc,
		TickInterval: c.Registry.TickInterval,
		GracePeriod:  grace,
		PingTimeout:  c.Registry.PingTimeout,
	}
}

// DNSConfig 转换为DNS服务配置
func (c *Config) DNSConfig() *dns.Config {
	cfg := dns.DefaultConfig()
	cfg.DNSAddr = net.JoinHostPort(c.DNS.ListenAddress, strconv.Itoa(c.DNS.Port))
	cfg.Domain = c.DNS.Domain
	cfg.TTL = uint32(c.DNS.TTL / time.Second)
	cfg.EnableUDP = c.DNS.Protocol == "udp" || c.DNS.Protocol == "both"
	cfg.EnableTCP = c.DNS.Protocol == "tcp" || c.DNS.Protocol == "both"
	return cfg
}

// splitTags 兼容以逗号分隔的单个字符串
func splitTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
