package storage

import "errors"

// ErrKeyNotFound 表示键不存在的错误
var ErrKeyNotFound = errors.New("key not found")

// ErrClosed 表示存储引擎已关闭
var ErrClosed = errors.New("engine is closed")

// Position 表示数据在文件中的位置
type Position struct {
	FileID uint32 // 数据文件 ID
	Offset int64  // 偏移量
	Size   uint32 // 数据大小
}

// Engine 是存储引擎的抽象接口
// 实现了键值存储的基本操作：Put、Get、Delete、Close
type Engine interface {
	// Put 写入键值对
	Put(key []byte, value []byte) error

	// Get 根据键获取值
	// 键不存在时返回 ErrKeyNotFound
	Get(key []byte) ([]byte, error)

	// Delete 删除键值对，键不存在时不报错
	Delete(key []byte) error

	// Close 关闭存储引擎，释放资源
	Close() error
}

// ScanOptions 描述一次有序范围扫描
// Lower 为闭区间下界，Upper 为开区间上界，nil 表示不限制
type ScanOptions struct {
	Lower   []byte
	Upper   []byte
	Reverse bool
}

// Contains 判断 key 是否落在扫描范围内
func (o ScanOptions) Contains(key []byte) bool {
	if o.Lower != nil && string(key) < string(o.Lower) {
		return false
	}
	if o.Upper != nil && string(key) >= string(o.Upper) {
		return false
	}
	return true
}

// ScanFunc 是扫描回调，返回 false 时停止扫描
// key 和 value 只在回调期间有效，需要保留时调用方负责拷贝
type ScanFunc func(key, value []byte) bool

// Scanner 提供按字节序的范围扫描
type Scanner interface {
	Scan(opts ScanOptions, fn ScanFunc) error
}

// Batch 是一组原子提交的写操作
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	// Len 返回批次中的操作数量
	Len() int
	// Commit 原子地应用全部操作，之后批次不可再用
	Commit() error
}

// Batcher 能够创建原子写批次
type Batcher interface {
	NewBatch() Batch
}

// OrderedEngine 是集合引擎依赖的存储能力：
// 点查、有序范围扫描和原子批量写
type OrderedEngine interface {
	Engine
	Scanner
	Batcher
}

// PrefixEnd 返回大于所有以 prefix 开头的键的最小键
// prefix 全部为 0xFF 时返回 nil，表示没有上界
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
