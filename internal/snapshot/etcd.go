package snapshot

import (
	"context"

	"github.com/hewenyu/meshlite/internal/store/etcd"
	"github.com/hewenyu/meshlite/pkg/model"
)

// DefaultEtcdKey etcd中保存快照的键
const DefaultEtcdKey = "/meshlite/registry/services"

// KV 快照使用的键值操作，由 etcd.Client 实现
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

var _ KV = (*etcd.Client)(nil)

// Etcd 把快照保存在etcd的单个键中
type Etcd struct {
	kv  KV
	key string
}

// NewEtcd 创建etcd快照，key为空时使用默认值
func NewEtcd(kv KV, key string) *Etcd {
	if key == "" {
		key = DefaultEtcdKey
	}
	return &Etcd{kv: kv, key: key}
}

// Save 实现Store，空列表时删除键
func (s *Etcd) Save(ctx context.Context, entries []model.ServiceEntry) error {
	if len(entries) == 0 {
		return s.kv.Delete(ctx, s.key)
	}
	data, err := encode(entries)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, s.key, data)
}

// Load 实现Store
func (s *Etcd) Load(ctx context.Context) ([]model.ServiceEntry, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	return decode(data)
}
