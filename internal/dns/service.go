package dns

import (
	"context"
	"net"
	"time"

	"github.com/hewenyu/meshlite/pkg/model"
)

// Service 定义DNS服务的接口
type Service interface {
	// Start 启动DNS服务
	Start(ctx context.Context) error

	// Stop 停止DNS服务
	Stop() error
}

// UDPService 是通过UDP提供服务的DNS服务，可以查询实际监听的地址
type UDPService interface {
	Service

	// UDPAddr 返回实际监听的UDP地址，未启动时为nil
	UDPAddr() net.Addr
}

// Directory 提供当前的服务成员列表，由注册中心实现
type Directory interface {
	Services() []model.ServiceEntry
}

// Config 定义DNS服务的配置项
type Config struct {
	// DNSAddr 是DNS服务的监听地址，格式为 "ip:port"
	DNSAddr string

	// Domain 是服务域名后缀
	Domain string

	// TTL 是DNS响应的存活时间（秒）
	TTL uint32

	// Timeout 是读写超时时间
	Timeout time.Duration

	// EnableTCP 是否启用TCP监听
	EnableTCP bool

	// EnableUDP 是否启用UDP监听
	EnableUDP bool
}

// DefaultConfig 返回默认的DNS服务配置
func DefaultConfig() *Config {
	return &Config{
		DNSAddr:   ":5353",
		Domain:    "mesh.local",
		TTL:       10,
		Timeout:   5 * time.Second,
		EnableTCP: false,
		EnableUDP: true,
	}
}
