package bitcask

import (
	"bytes"

	"github.com/forever-free1/TideRepo/storage"
)

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch 在内存中收集写操作，Commit 时一次性追加到活跃文件
// 重启时只有带提交记录的批次会被重放
type Batch struct {
	db        *DB
	ops       []batchOp
	committed bool
}

// Put 记录一次写入
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: bytes.Clone(key), value: bytes.Clone(value)})
}

// Delete 记录一次删除
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: bytes.Clone(key), delete: true})
}

// Len 返回操作数量
func (b *Batch) Len() int {
	return len(b.ops)
}

// Commit 提交批次
func (b *Batch) Commit() error {
	if b.committed {
		return ErrBatchCommitted
	}
	for _, op := range b.ops {
		if !op.delete && len(op.key) == 0 {
			return ErrEmptyKey
		}
	}
	if err := b.db.writeBatch(b.ops); err != nil {
		return err
	}
	b.committed = true
	return nil
}

var _ storage.Batch = (*Batch)(nil)
