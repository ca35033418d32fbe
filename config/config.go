// Package config 读取和校验服务配置
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/forever-free1/TideRepo/acl"
	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/logging"
	"github.com/forever-free1/TideRepo/storage/index"
)

// 存储引擎名
const (
	EngineBitcask = "bitcask"
	EnginePebble  = "pebble"
	EngineMemory  = "memory"
)

// Config 是服务的完整配置
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Storage    StorageConfig    `yaml:"storage"`
	Collection CollectionConfig `yaml:"collection"`
	Host       HostConfig       `yaml:"host"`
	ACL        acl.Rules        `yaml:"acl"`
	Raft       RaftConfig       `yaml:"raft"`
	Log        logging.Config   `yaml:"log"`
}

// HTTPConfig 是 HTTP 接口配置
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit 是每秒允许的变更请求数，0 表示不限
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// StorageConfig 是存储引擎配置
type StorageConfig struct {
	Engine        string  `yaml:"engine"`
	Dir           string  `yaml:"dir"`
	Keydir        string  `yaml:"keydir"`
	Compression   bool    `yaml:"compression"`
	SyncWrites    bool    `yaml:"sync_writes"`
	FileSizeLimit int64   `yaml:"file_size_limit"`
	BloomCapacity uint    `yaml:"bloom_capacity"`
	BloomFP       float64 `yaml:"bloom_fp"`
}

// CollectionConfig 是集合配置，Admin 等字段只在首次初始化时生效
type CollectionConfig struct {
	Admin         string            `yaml:"admin"`
	DefaultLabel  string            `yaml:"default_label"`
	DefaultCodeID uint64            `yaml:"default_code_id"`
	CodeIDs       []uint64          `yaml:"code_ids"`
	IndexNames    map[string]string `yaml:"index_names"`
	MaxLimit      int               `yaml:"max_limit"`
	MaxSlots      int               `yaml:"max_slots"`
	CacheSize     int               `yaml:"cache_size"`
	Parallelism   int               `yaml:"parallelism"`
}

// HostConfig 是子合约宿主配置
type HostConfig struct {
	AddressPrefix string `yaml:"address_prefix"`
}

// RaftConfig 是复制配置，Enabled 为 false 时单机运行
type RaftConfig struct {
	Enabled   bool   `yaml:"enabled"`
	NodeID    string `yaml:"node_id"`
	BindAddr  string `yaml:"bind_addr"`
	Bootstrap bool   `yaml:"bootstrap"`
	Peers     []Peer `yaml:"peers"`
}

// Peer 是一个初始集群成员
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":8080", RateLimit: 100, Burst: 200},
		Storage: StorageConfig{
			Engine:        EngineBitcask,
			Dir:           "data",
			Keydir:        index.KindBTree.String(),
			Compression:   true,
			FileSizeLimit: 64 << 20,
			BloomCapacity: 1 << 20,
			BloomFP:       0.01,
		},
		Collection: CollectionConfig{
			DefaultCodeID: 1,
			MaxLimit:      collection.DefaultMaxLimit,
			MaxSlots:      collection.DefaultMaxSlots,
			CacheSize:     collection.DefaultCacheSize,
			Parallelism:   collection.DefaultParallelism,
		},
		Host: HostConfig{AddressPrefix: "child1"},
		Raft: RaftConfig{NodeID: "node1", BindAddr: "127.0.0.1:7000"},
		Log:  logging.Config{Level: "info"},
	}
}

// Load 读取 YAML 文件并覆盖默认值，path 为空时返回默认配置
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Parse 把 YAML 合并进 cfg，未知字段报错
func Parse(data []byte, cfg *Config) error {
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return fmt.Errorf("解析配置失败: %w", err)
	}
	return nil
}

// ValidationError 是一个字段的校验错误
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate 校验配置，返回全部错误
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		invalid("http.addr", "%v", err)
	}
	if c.HTTP.RateLimit < 0 {
		invalid("http.rate_limit", "不能为负数")
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.Burst < 1 {
		invalid("http.burst", "开启限流时至少为 1")
	}

	if !slices.Contains([]string{EngineBitcask, EnginePebble, EngineMemory}, c.Storage.Engine) {
		invalid("storage.engine", "未知的引擎 %q", c.Storage.Engine)
	}
	if c.Storage.Engine != EngineMemory && c.Storage.Dir == "" {
		invalid("storage.dir", "不能为空")
	}
	if _, ok := index.ParseKind(c.Storage.Keydir); !ok {
		invalid("storage.keydir", "未知的 keydir %q", c.Storage.Keydir)
	}
	if c.Storage.FileSizeLimit <= 0 {
		invalid("storage.file_size_limit", "必须为正数")
	}
	if c.Storage.BloomFP <= 0 || c.Storage.BloomFP >= 1 {
		invalid("storage.bloom_fp", "必须在 (0, 1) 之间")
	}

	if c.Collection.MaxLimit < 1 {
		invalid("collection.max_limit", "至少为 1")
	}
	if c.Collection.MaxSlots < 1 || c.Collection.MaxSlots > 256 {
		invalid("collection.max_slots", "必须在 [1, 256] 之间")
	}
	for name := range c.Collection.IndexNames {
		id, err := collection.ParseIndexID(name)
		if err != nil {
			invalid("collection.index_names", "%v", err)
			continue
		}
		if id.Builtin() {
			invalid("collection.index_names", "内置索引 %s 不能命名", id)
		}
	}
	if err := c.ACL.Validate(); err != nil {
		invalid("acl", "%v", err)
	}

	if c.Raft.Enabled {
		if c.Raft.NodeID == "" {
			invalid("raft.node_id", "不能为空")
		}
		if _, _, err := net.SplitHostPort(c.Raft.BindAddr); err != nil {
			invalid("raft.bind_addr", "%v", err)
		}
		if c.Storage.Engine == EngineMemory {
			invalid("storage.engine", "复制模式需要持久化引擎")
		}
	}
	return errors.Join(errs...)
}

// CollectionOptions 把配置转换为集合选项
func (c *Config) CollectionOptions() ([]collection.Option, error) {
	cc := c.Collection
	opts := []collection.Option{
		collection.WithAdmin(cc.Admin),
		collection.WithDefaultLabel(cc.DefaultLabel),
		collection.WithDefaultCodeID(cc.DefaultCodeID),
		collection.WithCodeIDs(cc.CodeIDs...),
		collection.WithMaxLimit(cc.MaxLimit),
		collection.WithMaxSlots(cc.MaxSlots),
		collection.WithCacheSize(cc.CacheSize),
		collection.WithParallelism(cc.Parallelism),
	}
	for name, label := range cc.IndexNames {
		id, err := collection.ParseIndexID(name)
		if err != nil {
			return nil, err
		}
		opts = append(opts, collection.WithIndexName(id, label))
	}
	return opts, nil
}
