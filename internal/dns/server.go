package dns

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/meshlite/pkg/logger"
	"github.com/hewenyu/meshlite/pkg/model"
)

// tagLabel 按标签查询时使用的子域
const tagLabel = "tag"

// server 以DNS的形式只读地暴露注册中心的成员表
type server struct {
	config     *Config
	directory  Directory
	logger     logger.Logger
	udpServer  *dns.Server
	tcpServer  *dns.Server
	udpAddr    net.Addr
	shutdownWg sync.WaitGroup
}

// NewServer 创建一个新的DNS服务实例
func NewServer(config *Config, directory Directory, log logger.Logger) Service {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &server{
		config:    config,
		directory: directory,
		logger:    log.Named("dns"),
	}
}

var _ UDPService = (*server)(nil)

// Start 绑定端口并在后台提供服务，绑定失败时直接返回错误
func (s *server) Start(ctx context.Context) error {
	handler := dns.NewServeMux()
	handler.HandleFunc(".", s.handleDNSRequest)

	if s.config.EnableUDP {
		pc, err := net.ListenPacket("udp", s.config.DNSAddr)
		if err != nil {
			return fmt.Errorf("监听UDP地址 %s 失败: %w", s.config.DNSAddr, err)
		}
		s.udpAddr = pc.LocalAddr()
		s.udpServer = &dns.Server{
			PacketConn:   pc,
			Handler:      handler,
			UDPSize:      65535,
			ReadTimeout:  s.config.Timeout,
			WriteTimeout: s.config.Timeout,
		}
		s.serve("udp", s.udpServer)
	}

	if s.config.EnableTCP {
		ln, err := net.Listen("tcp", s.config.DNSAddr)
		if err != nil {
			_ = s.Stop()
			return fmt.Errorf("监听TCP地址 %s 失败: %w", s.config.DNSAddr, err)
		}
		s.tcpServer = &dns.Server{
			Listener:     ln,
			Handler:      handler,
			ReadTimeout:  s.config.Timeout,
			WriteTimeout: s.config.Timeout,
		}
		s.serve("tcp", s.tcpServer)
	}

	s.logger.Info("DNS服务已启动",
		zap.String("addr", s.config.DNSAddr),
		zap.String("domain", s.config.Domain),
	)
	return nil
}

func (s *server) serve(network string, srv *dns.Server) {
	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		if err := srv.ActivateAndServe(); err != nil {
			s.logger.Warn("DNS服务器退出", zap.String("net", network), zap.Error(err))
		}
	}()
}

// UDPAddr 实际监听的UDP地址
func (s *server) UDPAddr() net.Addr {
	return s.udpAddr
}

// Stop 停止DNS服务器
func (s *server) Stop() error {
	var errs []error

	if s.udpServer != nil {
		if err := s.udpServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("关闭UDP服务器失败: %w", err))
		}
	}

	if s.tcpServer != nil {
		if err := s.tcpServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("关闭TCP服务器失败: %w", err))
		}
	}

	s.shutdownWg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("停止DNS服务器时发生错误: %v", errs)
	}

	return nil
}

// handleDNSRequest 处理DNS请求
func (s *server) handleDNSRequest(w dns.ResponseWriter, r *dns.Msg) {
	if err := w.WriteMsg(s.reply(r)); err != nil {
		s.logger.Warn("发送DNS响应失败", zap.Error(err))
	}
}

// reply 根据当前成员表构造响应，找不到记录时返回NXDOMAIN
func (s *server) reply(r *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	for _, q := range r.Question {
		matches, ok := s.lookup(q.Name)
		if !ok || len(matches) == 0 {
			continue
		}

		switch q.Qtype {
		case dns.TypeA:
			s.answerA(m, q, matches)
		case dns.TypeSRV:
			s.answerSRV(m, q, matches)
		}
	}

	if len(m.Answer) == 0 {
		m.Rcode = dns.RcodeNameError
	}
	return m
}

// lookup 解析查询的域名
// 格式: <name>.<domain> 或 <tag>.tag.<domain>
func (s *server) lookup(qname string) ([]model.ServiceEntry, bool) {
	name := strings.ToLower(strings.TrimSuffix(qname, "."))
	suffix := "." + strings.ToLower(s.config.Domain)
	if !strings.HasSuffix(name, suffix) {
		return nil, false
	}
	name = strings.TrimSuffix(name, suffix)

	match := func(e model.ServiceEntry) bool { return strings.EqualFold(e.Name, name) }
	if parts := strings.Split(name, "."); len(parts) == 2 && parts[1] == tagLabel {
		tag := parts[0]
		match = func(e model.ServiceEntry) bool {
			for _, t := range e.Tags {
				if strings.EqualFold(t, tag) {
					return true
				}
			}
			return false
		}
	}

	var out []model.ServiceEntry
	for _, e := range s.directory.Services() {
		if match(e) {
			out = append(out, e)
		}
	}
	return out, true
}

func (s *server) header(name string, rrtype uint16) dns.RR_Header {
	return dns.RR_Header{
		Name:   name,
		Rrtype: rrtype,
		Class:  dns.ClassINET,
		Ttl:    s.config.TTL,
	}
}

// answerA 只为以IP地址注册的成员返回A记录
func (s *server) answerA(m *dns.Msg, q dns.Question, matches []model.ServiceEntry) {
	for _, e := range matches {
		host, _, ok := splitAddress(e.Address)
		if !ok {
			continue
		}
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			continue
		}
		m.Answer = append(m.Answer, &dns.A{Hdr: s.header(q.Name, dns.TypeA), A: ip.To4()})
	}
}

// answerSRV 返回端口和目标主机，IP地址的目标在附加部分给出A记录
func (s *server) answerSRV(m *dns.Msg, q dns.Question, matches []model.ServiceEntry) {
	for idx, e := range matches {
		host, port, ok := splitAddress(e.Address)
		if !ok {
			continue
		}

		target := dns.Fqdn(host)
		ip := net.ParseIP(host)
		if ip != nil {
			target = fmt.Sprintf("instance-%d.%s.%s.", idx, strings.ToLower(e.Name), s.config.Domain)
		}

		m.Answer = append(m.Answer, &dns.SRV{
			Hdr:    s.header(q.Name, dns.TypeSRV),
			Port:   port,
			Target: target,
		})
		if ip != nil && ip.To4() != nil {
			m.Extra = append(m.Extra, &dns.A{Hdr: s.header(target, dns.TypeA), A: ip.To4()})
		}
	}
}

// splitAddress 解析host:port或完整URL形式的地址
func splitAddress(address string) (string, uint16, bool) {
	if strings.Contains(address, "://") {
		u, err := url.Parse(address)
		if err != nil {
			return "", 0, false
		}
		port := u.Port()
		if port == "" {
			port = "80"
			if u.Scheme == "https" {
				port = "443"
			}
		}
		address = net.JoinHostPort(u.Hostname(), port)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, false
	}
	return host, uint16(port), true
}
