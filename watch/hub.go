// Package watch 把集合的变更事件分发给订阅者
package watch

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	art "github.com/plar/go-adaptive-radix-tree"

	"github.com/forever-free1/TideRepo/collection"
)

// Watcher 表示一个订阅者
type Watcher struct {
	// Ch 接收匹配的事件，订阅取消后关闭
	Ch chan collection.ChangeEvent

	// Prefix 是关注的地址前缀，空字符串表示全部地址
	Prefix string

	// Types 为空时接收全部类型的事件
	Types []collection.ChangeType

	closed bool
}

// NewWatcher 创建新的 Watcher
func NewWatcher(prefix string, bufferSize int, types ...collection.ChangeType) *Watcher {
	return &Watcher{
		Ch:     make(chan collection.ChangeEvent, bufferSize),
		Prefix: prefix,
		Types:  types,
	}
}

// wants 判断 watcher 是否关注该类型的事件
func (w *Watcher) wants(t collection.ChangeType) bool {
	return len(w.Types) == 0 || slices.Contains(w.Types, t)
}

func (w *Watcher) close() {
	if !w.closed {
		close(w.Ch)
		w.closed = true
	}
}

// WatchHub 管理订阅者并分发事件
// 带前缀的 watcher 放在 ART 树里，按事件地址的每个前缀查找
type WatchHub struct {
	mu sync.RWMutex

	// 关注全部地址的 watcher
	all []*Watcher

	// key: 前缀，value: []*Watcher
	prefixTree art.Tree

	count   int64
	dropped atomic.Uint64
}

// NewWatchHub 创建新的 WatchHub
func NewWatchHub() *WatchHub {
	return &WatchHub{prefixTree: art.New()}
}

// Watch 注册一个 watcher
func (h *WatchHub) Watch(prefix string, bufferSize int, types ...collection.ChangeType) *Watcher {
	watcher := NewWatcher(prefix, bufferSize, types...)

	h.mu.Lock()
	defer h.mu.Unlock()

	if prefix == "" {
		h.all = append(h.all, watcher)
	} else {
		var list []*Watcher
		if val, found := h.prefixTree.Search(art.Key(prefix)); found {
			list = val.([]*Watcher)
		}
		h.prefixTree.Insert(art.Key(prefix), append(list, watcher))
	}
	h.count++
	return watcher
}

// Unregister 取消订阅并关闭 watcher 的通道
func (h *WatchHub) Unregister(watcher *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if watcher.closed {
		return
	}
	if watcher.Prefix == "" {
		h.all = slices.DeleteFunc(h.all, func(w *Watcher) bool { return w == watcher })
	} else if val, found := h.prefixTree.Search(art.Key(watcher.Prefix)); found {
		list := slices.DeleteFunc(val.([]*Watcher), func(w *Watcher) bool { return w == watcher })
		if len(list) > 0 {
			h.prefixTree.Insert(art.Key(watcher.Prefix), list)
		} else {
			h.prefixTree.Delete(art.Key(watcher.Prefix))
		}
	}
	watcher.close()
	h.count--
}

// Notify 把事件发给所有匹配的 watcher
// 发送不阻塞，通道已满时丢弃并计数
func (h *WatchHub) Notify(event collection.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, watcher := range h.match(event.Address) {
		if watcher.closed || !watcher.wants(event.Type) {
			continue
		}
		select {
		case watcher.Ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Listener 返回可以注册到集合上的监听函数
func (h *WatchHub) Listener() collection.Listener {
	return h.Notify
}

// match 返回关注 addr 的全部 watcher，调用方持有读锁
func (h *WatchHub) match(addr string) []*Watcher {
	result := slices.Clone(h.all)
	for i := 1; i <= len(addr); i++ {
		if val, found := h.prefixTree.Search(art.Key(addr[:i])); found {
			result = append(result, val.([]*Watcher)...)
		}
	}
	return result
}

// Count 返回当前注册的 watcher 数量
func (h *WatchHub) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped 返回因通道已满而丢弃的事件数
func (h *WatchHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close 关闭所有 watcher
func (h *WatchHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, w := range h.all {
		w.close()
	}
	h.prefixTree.ForEach(func(node art.Node) bool {
		for _, w := range node.Value().([]*Watcher) {
			w.close()
		}
		return true
	})
	h.all = nil
	h.prefixTree = art.New()
	h.count = 0
}

// String 返回 WatchHub 的字符串描述
func (h *WatchHub) String() string {
	return fmt.Sprintf("WatchHub{watchers: %d}", h.Count())
}

// EventToJSON 将事件转换为 JSON 字符串
func EventToJSON(event collection.ChangeEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseEventFromJSON 从 JSON 字符串解析事件
func ParseEventFromJSON(data string) (collection.ChangeEvent, error) {
	var event collection.ChangeEvent
	err := json.Unmarshal([]byte(data), &event)
	return event, err
}
