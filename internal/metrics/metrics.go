package metrics

import (
	"time"

	"github.com/hashicorp/go-metrics"
)

var (
	// MetricDispatchCount 服务端处理的调用次数
	MetricDispatchCount = []string{"meshlite", "dispatch", "count"}
	// MetricDispatchErrorCount 服务端返回错误结果的次数
	MetricDispatchErrorCount = []string{"meshlite", "dispatch", "error", "count"}
	// MetricDispatchLatency 服务端处理耗时
	MetricDispatchLatency = []string{"meshlite", "dispatch", "latency"}
	// MetricRequestCount 发出的请求次数
	MetricRequestCount = []string{"meshlite", "request", "count"}
	// MetricRequestLatency 请求耗时
	MetricRequestLatency = []string{"meshlite", "request", "latency"}
	// MetricRequestErrorCount 失败的请求次数
	MetricRequestErrorCount = []string{"meshlite", "request", "error", "count"}
	// MetricPeerCacheRefreshCount 本地服务缓存刷新次数
	MetricPeerCacheRefreshCount = []string{"meshlite", "peercache", "refresh", "count"}
	// MetricPeerCacheSize 本地服务缓存中的条目数
	MetricPeerCacheSize = []string{"meshlite", "peercache", "size"}
	// MetricRegistryMembers 注册中心当前成员数
	MetricRegistryMembers = []string{"meshlite", "registry", "members"}
	// MetricRegistryAddCount 注册次数
	MetricRegistryAddCount = []string{"meshlite", "registry", "add", "count"}
	// MetricRegistryRemoveCount 注销次数
	MetricRegistryRemoveCount = []string{"meshlite", "registry", "remove", "count"}
	// MetricRegistryEvictCount 因存活检查失败被驱逐的次数
	MetricRegistryEvictCount = []string{"meshlite", "registry", "evict", "count"}
	// MetricRegistryPingLatency 存活检查耗时
	MetricRegistryPingLatency = []string{"meshlite", "registry", "ping", "latency"}
	// MetricRegistryNotifyErrorCount 变更通知失败次数
	MetricRegistryNotifyErrorCount = []string{"meshlite", "registry", "notify", "error", "count"}
	// MetricLoopOverrunCount 周期任务超出间隔的次数
	MetricLoopOverrunCount = []string{"meshlite", "loop", "overrun", "count"}
)

const (
	LabelEndpoint = "endpoint"
	LabelService  = "service"
	LabelLoop     = "loop"
)

// L 创建一个标签
func L(name, value string) metrics.Label {
	return metrics.Label{Name: name, Value: value}
}

// OrDefault 未指定时使用全局默认的MetricSink
func OrDefault(sink metrics.MetricSink) metrics.MetricSink {
	if sink == nil {
		return metrics.Default()
	}
	return sink
}

// MeasureSince 以毫秒记录从start开始的耗时
func MeasureSince(sink metrics.MetricSink, key []string, start time.Time, labels ...metrics.Label) {
	elapsed := float32(time.Since(start)) / float32(time.Millisecond)
	sink.AddSampleWithLabels(key, elapsed, labels)
}
