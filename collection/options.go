package collection

import "github.com/hashicorp/go-hclog"

const (
	// DefaultMaxLimit 是单页的最大条目数
	DefaultMaxLimit = 50
	// DefaultMaxSlots 是每种类型的用户槽位数量
	DefaultMaxSlots = 16
	// DefaultCacheSize 是条目缓存的容量
	DefaultCacheSize = 4096
	// DefaultParallelism 是批量转发的并发上限
	DefaultParallelism = 8
)

// Options 定义集合的配置
type Options struct {
	MaxLimit    int
	MaxSlots    int
	CacheSize   int
	Parallelism int
	Gate        Gate
	Logger      hclog.Logger
	Listeners   []Listener

	// 以下字段只在集合首次初始化时使用
	Admin         string
	DefaultLabel  string
	DefaultCodeID uint64
	CodeIDs       []uint64
	IndexNames    map[IndexID]string
}

// Option 定义 Options 的配置函数
type Option func(*Options)

// WithMaxLimit 设置单页最大条目数
func WithMaxLimit(n int) Option {
	return func(o *Options) {
		o.MaxLimit = n
	}
}

// WithMaxSlots 设置每种类型的槽位数量
func WithMaxSlots(n int) Option {
	return func(o *Options) {
		o.MaxSlots = n
	}
}

// WithCacheSize 设置条目缓存容量，0 表示不缓存
func WithCacheSize(n int) Option {
	return func(o *Options) {
		o.CacheSize = n
	}
}

// WithParallelism 设置批量转发的并发上限
func WithParallelism(n int) Option {
	return func(o *Options) {
		o.Parallelism = n
	}
}

// WithGate 设置 ACL 检查
func WithGate(g Gate) Option {
	return func(o *Options) {
		o.Gate = g
	}
}

// WithLogger 设置日志
func WithLogger(l hclog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithListener 追加一个变更监听
func WithListener(l Listener) Option {
	return func(o *Options) {
		o.Listeners = append(o.Listeners, l)
	}
}

// WithAdmin 设置集合管理员
func WithAdmin(addr string) Option {
	return func(o *Options) {
		o.Admin = addr
	}
}

// WithDefaultLabel 设置子合约的默认标签
func WithDefaultLabel(label string) Option {
	return func(o *Options) {
		o.DefaultLabel = label
	}
}

// WithDefaultCodeID 设置未指定 code id 时使用的默认值
func WithDefaultCodeID(id uint64) Option {
	return func(o *Options) {
		o.DefaultCodeID = id
	}
}

// WithCodeIDs 设置允许实例化的 code id
func WithCodeIDs(ids ...uint64) Option {
	return func(o *Options) {
		o.CodeIDs = ids
	}
}

// WithIndexName 给用户槽位预先命名
func WithIndexName(id IndexID, name string) Option {
	return func(o *Options) {
		if o.IndexNames == nil {
			o.IndexNames = make(map[IndexID]string)
		}
		o.IndexNames[id] = name
	}
}

func defaultOptions() *Options {
	return &Options{
		MaxLimit:    DefaultMaxLimit,
		MaxSlots:    DefaultMaxSlots,
		CacheSize:   DefaultCacheSize,
		Parallelism: DefaultParallelism,
		Logger:      hclog.NewNullLogger(),
	}
}
