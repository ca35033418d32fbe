package index

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter 是布隆过滤器的并发安全包装
// 用于在查 keydir 之前快速排除一定不存在的键
//
// 布隆过滤器不支持删除，删除过的键会一直表现为"可能存在"，
// 所以在 Get 路径上仍需要 keydir 二次确认
type BloomFilter struct {
	filter   *bloom.BloomFilter
	expected uint
	fp       float64
	added    uint
	mu       sync.RWMutex
}

// NewBloomFilter 创建一个新的布隆过滤器
// 参数：
//   - n: 预期存储的元素数量
//   - fp: 期望的误判率
func NewBloomFilter(n uint, fp float64) *BloomFilter {
	return &BloomFilter{
		filter:   bloom.NewWithEstimates(n, fp),
		expected: n,
		fp:       fp,
	}
}

// Add 添加一个 key
func (bf *BloomFilter) Add(key []byte) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter.Add(key)
	bf.added++
}

// Test 测试一个 key 是否可能存在
// 返回 false 表示一定不存在
func (bf *BloomFilter) Test(key []byte) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.Test(key)
}

// Saturated 判断写入次数是否已超过预估容量
// 超过后误判率会明显上升，应当按当前 keydir 重建
func (bf *BloomFilter) Saturated() bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.added > bf.expected
}

// Rebuild 按新的容量重建过滤器，并用 keys 回填
func (bf *BloomFilter) Rebuild(n uint, keys func(add func(key []byte))) {
	if n < bf.expected {
		n = bf.expected
	}
	filter := bloom.NewWithEstimates(n, bf.fp)
	var added uint
	keys(func(key []byte) {
		filter.Add(key)
		added++
	})

	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter = filter
	bf.expected = n
	bf.added = added
}
