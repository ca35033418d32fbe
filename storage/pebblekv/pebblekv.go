// Package pebblekv 把 cockroachdb/pebble 适配为有序存储引擎
package pebblekv

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/forever-free1/TideRepo/storage"
)

// Options 定义引擎配置
type Options struct {
	// InMemory 使用内存文件系统，目录参数被忽略
	InMemory bool
	// Sync 每次提交是否 fsync WAL
	Sync bool
}

// Option 定义 Options 的配置函数
type Option func(*Options)

// WithInMemory 使用内存文件系统
func WithInMemory() Option {
	return func(o *Options) {
		o.InMemory = true
	}
}

// WithSync 设置提交时是否同步
func WithSync(sync bool) Option {
	return func(o *Options) {
		o.Sync = sync
	}
}

// DB 是 pebble 引擎的包装
type DB struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

// Open 打开 pebble 数据库
func Open(dir string, opts ...Option) (*DB, error) {
	options := &Options{Sync: true}
	for _, opt := range opts {
		opt(options)
	}

	pebbleOpts := &pebble.Options{}
	if options.InMemory {
		pebbleOpts.FS = vfs.NewMem()
	}

	db, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("打开 pebble 失败: %w", err)
	}

	writeOpts := pebble.NoSync
	if options.Sync {
		writeOpts = pebble.Sync
	}
	return &DB{db: db, writeOpts: writeOpts}, nil
}

// Put 写入键值对
func (d *DB) Put(key, value []byte) error {
	return d.db.Set(key, value, d.writeOpts)
}

// Get 根据键获取值的副本
func (d *DB) Get(key []byte) ([]byte, error) {
	value, closer, err := d.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Delete 删除键
func (d *DB) Delete(key []byte) error {
	return d.db.Delete(key, d.writeOpts)
}

// Scan 按字节序遍历范围内的键值对
func (d *DB) Scan(opts storage.ScanOptions, fn storage.ScanFunc) error {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: opts.Lower,
		UpperBound: opts.Upper,
	})
	if err != nil {
		return fmt.Errorf("创建迭代器失败: %w", err)
	}

	if opts.Reverse {
		for valid := iter.Last(); valid; valid = iter.Prev() {
			if !fn(iter.Key(), iter.Value()) {
				break
			}
		}
	} else {
		for valid := iter.First(); valid; valid = iter.Next() {
			if !fn(iter.Key(), iter.Value()) {
				break
			}
		}
	}

	return errors.Join(iter.Error(), iter.Close())
}

// NewBatch 创建一个写批次
func (d *DB) NewBatch() storage.Batch {
	return &batch{b: d.db.NewBatch(), writeOpts: d.writeOpts}
}

// Close 关闭数据库
func (d *DB) Close() error {
	return d.db.Close()
}

type batch struct {
	b         *pebble.Batch
	writeOpts *pebble.WriteOptions
	n         int
}

func (b *batch) Put(key, value []byte) {
	// pebble 的 Batch 只在内存缓冲中出错，这里忽略
	_ = b.b.Set(key, value, nil)
	b.n++
}

func (b *batch) Delete(key []byte) {
	_ = b.b.Delete(key, nil)
	b.n++
}

func (b *batch) Len() int {
	return b.n
}

func (b *batch) Commit() error {
	defer b.b.Close()
	if err := b.b.Commit(b.writeOpts); err != nil {
		return fmt.Errorf("提交批次失败: %w", err)
	}
	return nil
}

var _ storage.OrderedEngine = (*DB)(nil)
