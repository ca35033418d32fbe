// Package memkv 提供基于 B 树的内存有序存储引擎
// 主要用于测试和不需要持久化的单机部署
package memkv

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/forever-free1/TideRepo/storage"
)

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// DB 是内存中的有序键值存储
type DB struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[item]
	closed bool
}

// Open 创建一个空的内存存储
func Open() *DB {
	return &DB{tree: btree.NewG[item](32, less)}
}

// Put 写入键值对
func (db *DB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return storage.ErrClosed
	}
	db.tree.ReplaceOrInsert(item{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

// Get 根据键获取值的副本
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, storage.ErrClosed
	}
	it, ok := db.tree.Get(item{key: key})
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return bytes.Clone(it.value), nil
}

// Delete 删除键，不存在时不报错
func (db *DB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return storage.ErrClosed
	}
	db.tree.Delete(item{key: key})
	return nil
}

// Len 返回键数量
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tree.Len()
}

// Scan 按字节序遍历范围内的键值对
// 回调期间持有读锁，回调里不能再写入 DB
func (db *DB) Scan(opts storage.ScanOptions, fn storage.ScanFunc) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return storage.ErrClosed
	}

	if !opts.Reverse {
		visit := func(it item) bool {
			if opts.Upper != nil && bytes.Compare(it.key, opts.Upper) >= 0 {
				return false
			}
			return fn(it.key, it.value)
		}
		if opts.Lower != nil {
			db.tree.AscendGreaterOrEqual(item{key: opts.Lower}, visit)
		} else {
			db.tree.Ascend(visit)
		}
		return nil
	}

	visit := func(it item) bool {
		if opts.Lower != nil && bytes.Compare(it.key, opts.Lower) < 0 {
			return false
		}
		if opts.Upper != nil && bytes.Equal(it.key, opts.Upper) {
			return true
		}
		return fn(it.key, it.value)
	}
	if opts.Upper != nil {
		db.tree.DescendLessOrEqual(item{key: opts.Upper}, visit)
	} else {
		db.tree.Descend(visit)
	}
	return nil
}

// NewBatch 创建一个写批次
func (db *DB) NewBatch() storage.Batch {
	return &batch{db: db}
}

// Close 关闭存储，释放全部数据
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	db.tree.Clear(false)
	return nil
}

type op struct {
	key    []byte
	value  []byte
	delete bool
}

type batch struct {
	db  *DB
	ops []op
}

func (b *batch) Put(key, value []byte) {
	b.ops = append(b.ops, op{key: bytes.Clone(key), value: bytes.Clone(value)})
}

func (b *batch) Delete(key []byte) {
	b.ops = append(b.ops, op{key: bytes.Clone(key), delete: true})
}

func (b *batch) Len() int {
	return len(b.ops)
}

// Commit 在一次写锁内应用全部操作
func (b *batch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if b.db.closed {
		return storage.ErrClosed
	}
	for _, o := range b.ops {
		if o.delete {
			b.db.tree.Delete(item{key: o.key})
			continue
		}
		b.db.tree.ReplaceOrInsert(item{key: o.key, value: o.value})
	}
	b.ops = nil
	return nil
}

var _ storage.OrderedEngine = (*DB)(nil)
