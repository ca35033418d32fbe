package index

import "github.com/forever-free1/TideRepo/storage"

// Visitor 是有序遍历的回调，返回 false 时停止
type Visitor func(key []byte, pos *storage.Position) bool

// Index 是 keydir 的抽象接口
// 负责存储键到文件位置（Position）的映射，并支持按字节序遍历
type Index interface {
	// Put 写入键到位置的映射，已存在时覆盖
	Put(key []byte, pos *storage.Position)

	// Get 根据键获取位置，不存在返回 nil
	Get(key []byte) *storage.Position

	// Delete 删除键，返回是否删除成功
	Delete(key []byte) bool

	// Size 返回索引中的键数量
	Size() int

	// Iterate 按 opts 描述的范围和方向遍历键
	Iterate(opts storage.ScanOptions, fn Visitor)

	// Close 关闭索引，释放资源
	Close()
}

// Kind 定义 keydir 的实现类型
type Kind int

const (
	// KindBTree 使用 B 树，范围定位为对数复杂度（默认）
	KindBTree Kind = iota
	// KindART 使用自适应基数树，逆序遍历需要先收集范围内的键
	KindART
)

// String 返回 keydir 类型名称
func (k Kind) String() string {
	switch k {
	case KindART:
		return "art"
	default:
		return "btree"
	}
}

// ParseKind 解析配置中的 keydir 类型名称
func ParseKind(name string) (Kind, bool) {
	switch name {
	case "", "btree":
		return KindBTree, true
	case "art":
		return KindART, true
	default:
		return KindBTree, false
	}
}

// New 按类型创建 keydir
func New(kind Kind) Index {
	if kind == KindART {
		return NewARTIndex()
	}
	return NewBTreeIndex(DefaultDegree)
}
