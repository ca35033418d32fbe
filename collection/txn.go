package collection

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/forever-free1/TideRepo/storage"
)

// reader 是只读的点查能力，引擎和 txn 都满足
type reader interface {
	Get(key []byte) ([]byte, error)
}

type pendingWrite struct {
	value  []byte
	delete bool
}

// txn 是一次变更的写缓冲
// 读取先看缓冲再看引擎；Commit 时作为一个批次原子写入，出错时整体丢弃
type txn struct {
	engine  storage.OrderedEngine
	pending map[string]*pendingWrite
	order   []string
}

var _ Stage = (*txn)(nil)

func newTxn(engine storage.OrderedEngine) *txn {
	return &txn{
		engine:  engine,
		pending: make(map[string]*pendingWrite),
	}
}

func (tx *txn) Get(key []byte) ([]byte, error) {
	if w, ok := tx.pending[string(key)]; ok {
		if w.delete {
			return nil, storage.ErrKeyNotFound
		}
		return w.value, nil
	}
	return tx.engine.Get(key)
}

// has 判断键是否存在
func (tx *txn) has(key []byte) (bool, error) {
	_, err := tx.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

func (tx *txn) record(key []byte, w *pendingWrite) {
	k := string(key)
	if _, ok := tx.pending[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.pending[k] = w
}

func (tx *txn) Put(key, value []byte) {
	tx.record(key, &pendingWrite{value: bytes.Clone(value)})
}

func (tx *txn) Delete(key []byte) {
	tx.record(key, &pendingWrite{delete: true})
}

// touched 返回以 prefix 开头的被改动过的键（去掉前缀）
func (tx *txn) touched(prefix byte) []string {
	var out []string
	for _, k := range tx.order {
		if len(k) > 0 && k[0] == prefix {
			out = append(out, k[1:])
		}
	}
	return out
}

// Commit 把缓冲写入引擎
func (tx *txn) Commit() error {
	if len(tx.order) == 0 {
		return nil
	}
	batch := tx.engine.NewBatch()
	for _, k := range tx.order {
		w := tx.pending[k]
		if w.delete {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), w.value)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}
