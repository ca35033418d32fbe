package index

import (
	"bytes"

	"github.com/forever-free1/TideRepo/storage"
	"github.com/plar/go-adaptive-radix-tree"
)

// ARTIndex 是基于自适应基数树（Adaptive Radix Tree）的 keydir 实现
// 叶子按字节序遍历，适合前缀密集的键空间
type ARTIndex struct {
	tree art.Tree
}

// NewARTIndex 创建一个新的 ART 索引实例
func NewARTIndex() *ARTIndex {
	return &ARTIndex{
		tree: art.New(),
	}
}

// Put 写入键值对到 ART 索引
// 参数：
//   - key: 键，树中保存的是副本
//   - pos: 位置指针
func (idx *ARTIndex) Put(key []byte, pos *storage.Position) {
	idx.tree.Insert(art.Key(bytes.Clone(key)), pos)
}

// Get 根据键从 ART 索引获取位置
// 参数：
//   - key: 键
// 返回：
//   - *storage.Position: 位置指针，不存在返回 nil
func (idx *ARTIndex) Get(key []byte) *storage.Position {
	value, found := idx.tree.Search(art.Key(key))
	if !found {
		return nil
	}
	return value.(*storage.Position)
}

// Delete 从 ART 索引中删除键
// 参数：
//   - key: 键
// 返回：
//   - bool: 是否删除成功
func (idx *ARTIndex) Delete(key []byte) bool {
	_, deleted := idx.tree.Delete(art.Key(key))
	return deleted
}

// Size 返回 ART 索引中的键数量
func (idx *ARTIndex) Size() int {
	return idx.tree.Size()
}

// Iterate 按字节序遍历范围内的叶子
// 树只支持正序遍历，逆序时先收集范围内的叶子再倒序回调
// 参数：
//   - opts: 范围和方向，Lower 闭区间，Upper 开区间
//   - fn: 回调，返回 false 时停止
func (idx *ARTIndex) Iterate(opts storage.ScanOptions, fn Visitor) {
	if !opts.Reverse {
		idx.tree.ForEach(func(node art.Node) bool {
			key := []byte(node.Key())
			if opts.Lower != nil && bytes.Compare(key, opts.Lower) < 0 {
				return true
			}
			if opts.Upper != nil && bytes.Compare(key, opts.Upper) >= 0 {
				return false
			}
			return fn(key, node.Value().(*storage.Position))
		}, art.TraverseLeaf)
		return
	}

	var nodes []art.Node
	idx.tree.ForEach(func(node art.Node) bool {
		key := []byte(node.Key())
		if opts.Upper != nil && bytes.Compare(key, opts.Upper) >= 0 {
			return false
		}
		if opts.Lower == nil || bytes.Compare(key, opts.Lower) >= 0 {
			nodes = append(nodes, node)
		}
		return true
	}, art.TraverseLeaf)

	for i := len(nodes) - 1; i >= 0; i-- {
		if !fn([]byte(nodes[i].Key()), nodes[i].Value().(*storage.Position)) {
			return
		}
	}
}

// Close 关闭 ART 索引
func (idx *ARTIndex) Close() {
	// ART 树没有需要关闭的资源，GC 会自动回收
}

// 确保 ARTIndex 实现了 Index 接口
var _ Index = (*ARTIndex)(nil)
