package index

import (
	"bytes"

	"github.com/forever-free1/TideRepo/storage"
	"github.com/google/btree"
)

// DefaultDegree 是 B 树节点的默认度数
const DefaultDegree = 32

type keydirItem struct {
	key []byte
	pos *storage.Position
}

func lessItem(a, b keydirItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// BTreeIndex 是基于 B 树的 keydir 实现
// 正序和逆序的范围定位都是对数复杂度
type BTreeIndex struct {
	tree *btree.BTreeG[keydirItem]
}

// NewBTreeIndex 创建指定度数的 B 树索引
func NewBTreeIndex(degree int) *BTreeIndex {
	if degree < 2 {
		degree = DefaultDegree
	}
	return &BTreeIndex{
		tree: btree.NewG[keydirItem](degree, lessItem),
	}
}

// Put 写入键到位置的映射
func (idx *BTreeIndex) Put(key []byte, pos *storage.Position) {
	idx.tree.ReplaceOrInsert(keydirItem{key: bytes.Clone(key), pos: pos})
}

// Get 根据键获取位置
func (idx *BTreeIndex) Get(key []byte) *storage.Position {
	item, ok := idx.tree.Get(keydirItem{key: key})
	if !ok {
		return nil
	}
	return item.pos
}

// Delete 删除键
func (idx *BTreeIndex) Delete(key []byte) bool {
	_, ok := idx.tree.Delete(keydirItem{key: key})
	return ok
}

// Size 返回键数量
func (idx *BTreeIndex) Size() int {
	return idx.tree.Len()
}

// Iterate 按范围和方向遍历
func (idx *BTreeIndex) Iterate(opts storage.ScanOptions, fn Visitor) {
	if !opts.Reverse {
		visit := func(item keydirItem) bool {
			if opts.Upper != nil && bytes.Compare(item.key, opts.Upper) >= 0 {
				return false
			}
			return fn(item.key, item.pos)
		}
		if opts.Lower != nil {
			idx.tree.AscendGreaterOrEqual(keydirItem{key: opts.Lower}, visit)
		} else {
			idx.tree.Ascend(visit)
		}
		return
	}

	visit := func(item keydirItem) bool {
		if opts.Lower != nil && bytes.Compare(item.key, opts.Lower) < 0 {
			return false
		}
		// 上界是开区间，跳过与上界相等的键
		if opts.Upper != nil && bytes.Equal(item.key, opts.Upper) {
			return true
		}
		return fn(item.key, item.pos)
	}
	if opts.Upper != nil {
		idx.tree.DescendLessOrEqual(keydirItem{key: opts.Upper}, visit)
	} else {
		idx.tree.Descend(visit)
	}
}

// Close 释放树
func (idx *BTreeIndex) Close() {
	idx.tree.Clear(false)
}

var _ Index = (*BTreeIndex)(nil)
