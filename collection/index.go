package collection

import (
	"bytes"
	"fmt"

	"github.com/forever-free1/TideRepo/storage"
)

// scanChunk 是每次从引擎拉取的键数量
// 回调在引擎扫描之外执行，回调里可以安全地再读引擎
const scanChunk = 64

// Range 是值的范围，Lower 为闭区间，Upper 为开区间，nil 表示不限
type Range struct {
	Lower *Value
	Upper *Value
}

// ScanOptions 描述一次索引遍历
type ScanOptions struct {
	Desc   bool
	Equals *Value
	Range  *Range
	// After 不为空时从该键之后（不含）继续
	After *Cursor
}

// Index 是 (value, addr) 的有序键集合
// 值升序排列，同一个值内按地址升序；逆序遍历时值降序，同值内地址仍然升序
type Index struct {
	id     IndexID
	engine storage.Scanner
}

// ID 返回索引标识
func (ix *Index) ID() IndexID {
	return ix.id
}

// Type 返回索引的值类型
func (ix *Index) Type() ValueType {
	return ix.id.Kind.ValueType()
}

func (ix *Index) checkType(v Value) error {
	if v.Type != ix.Type() {
		return fmt.Errorf("索引 %s 需要 %s, 得到 %s: %w", ix.id, ix.Type(), v.Type, ErrTypeMismatch)
	}
	return nil
}

// insert 写入 (value, addr)，已存在时返回 ErrDuplicateKey
func (ix *Index) insert(tx *txn, c Cursor) error {
	if err := ix.checkType(c.Value); err != nil {
		return err
	}
	key := indexKey(ix.id, c)
	exists, err := tx.has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("索引 %s 键 (%s, %s): %w", ix.id, c.Value, c.Address, ErrDuplicateKey)
	}
	tx.Put(key, nil)
	return nil
}

// remove 删除 (value, addr)，不存在时返回 ErrNotFound
func (ix *Index) remove(tx *txn, c Cursor) error {
	key := indexKey(ix.id, c)
	exists, err := tx.has(key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("索引 %s 键 (%s, %s): %w", ix.id, c.Value, c.Address, ErrNotFound)
	}
	tx.Delete(key)
	return nil
}

func (ix *Index) checkOptions(opts ScanOptions) error {
	if opts.Equals != nil {
		if err := ix.checkType(*opts.Equals); err != nil {
			return err
		}
	}
	if opts.Range != nil {
		for _, b := range []*Value{opts.Range.Lower, opts.Range.Upper} {
			if b == nil {
				continue
			}
			if err := ix.checkType(*b); err != nil {
				return err
			}
		}
	}
	if opts.After != nil {
		if err := ix.checkType(opts.After.Value); err != nil {
			return err
		}
	}
	return nil
}

// bounds 计算遍历的键区间 [lo, hi)
func (ix *Index) bounds(opts ScanOptions) (lo, hi []byte) {
	base := indexPrefix(ix.id)
	lo, hi = base, storage.PrefixEnd(base)
	if opts.Equals != nil {
		lo = valuePrefix(ix.id, *opts.Equals)
		hi = storage.PrefixEnd(lo)
	}
	if opts.Range != nil {
		if opts.Range.Lower != nil {
			lo = maxKey(lo, valuePrefix(ix.id, *opts.Range.Lower))
		}
		if opts.Range.Upper != nil {
			hi = minKey(hi, valuePrefix(ix.id, *opts.Range.Upper))
		}
	}
	return lo, hi
}

// Scan 按选项遍历索引，fn 返回 false 时停止
func (ix *Index) Scan(opts ScanOptions, fn func(Cursor) (bool, error)) error {
	if err := ix.checkOptions(opts); err != nil {
		return err
	}
	lo, hi := ix.bounds(opts)

	if !opts.Desc {
		start := lo
		if opts.After != nil {
			start = maxKey(start, keyAfter(indexKey(ix.id, *opts.After)))
		}
		_, err := ix.walk(start, hi, fn)
		return err
	}

	upper := hi
	if opts.After != nil {
		// 先把游标所在值组里剩下的地址走完
		group := valuePrefix(ix.id, opts.After.Value)
		start := maxKey(lo, keyAfter(indexKey(ix.id, *opts.After)))
		end := minKey(hi, storage.PrefixEnd(group))
		if bytes.Compare(start, end) < 0 {
			cont, err := ix.walk(start, end, fn)
			if err != nil || !cont {
				return err
			}
		}
		upper = minKey(upper, group)
	}

	// 逐组后退：找到 upper 之前的最后一个键，再正向走完它所在的值组
	for bytes.Compare(lo, upper) < 0 {
		last, ok, err := ix.lastKey(lo, upper)
		if err != nil || !ok {
			return err
		}
		c, err := parseIndexKey(ix.id, last)
		if err != nil {
			return err
		}
		group := maxKey(lo, valuePrefix(ix.id, c.Value))
		cont, err := ix.walk(group, upper, fn)
		if err != nil || !cont {
			return err
		}
		upper = group
	}
	return nil
}

// walk 正向遍历 [lo, hi)，返回是否应当继续
func (ix *Index) walk(lo, hi []byte, fn func(Cursor) (bool, error)) (bool, error) {
	for {
		if hi != nil && bytes.Compare(lo, hi) >= 0 {
			return true, nil
		}
		var keys [][]byte
		err := ix.engine.Scan(storage.ScanOptions{Lower: lo, Upper: hi}, func(key, _ []byte) bool {
			keys = append(keys, bytes.Clone(key))
			return len(keys) < scanChunk
		})
		if err != nil {
			return false, fmt.Errorf("扫描索引 %s 失败: %w", ix.id, err)
		}

		for _, key := range keys {
			c, err := parseIndexKey(ix.id, key)
			if err != nil {
				return false, err
			}
			cont, err := fn(c)
			if err != nil || !cont {
				return false, err
			}
		}

		if len(keys) < scanChunk {
			return true, nil
		}
		lo = keyAfter(keys[len(keys)-1])
	}
}

// lastKey 返回 [lo, hi) 中最大的键
func (ix *Index) lastKey(lo, hi []byte) ([]byte, bool, error) {
	var last []byte
	err := ix.engine.Scan(storage.ScanOptions{Lower: lo, Upper: hi, Reverse: true}, func(key, _ []byte) bool {
		last = bytes.Clone(key)
		return false
	})
	if err != nil {
		return nil, false, fmt.Errorf("逆序定位索引 %s 失败: %w", ix.id, err)
	}
	return last, last != nil, nil
}

// keyAfter 返回严格大于 key 的最小键
func keyAfter(key []byte) []byte {
	next := make([]byte, len(key)+1)
	copy(next, key)
	return next
}

func maxKey(a, b []byte) []byte {
	if bytes.Compare(a, b) >= 0 {
		return a
	}
	return b
}

// minKey 中 nil 表示没有上界
func minKey(a, b []byte) []byte {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if bytes.Compare(a, b) <= 0 {
		return a
	}
	return b
}
