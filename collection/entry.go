package collection

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/forever-free1/TideRepo/storage"
)

// Entry 是一个子合约在集合中的记录
// 时间字段均为 Unix 纳秒
type Entry struct {
	Address   string
	CodeID    uint64
	CreatedAt uint64
	UpdatedAt uint64
	Revision  uint64
	Height    uint64
	CreatedBy string
	Label     string
	// Values 是用户槽位上的值，没有值的槽位不出现
	Values map[IndexID]Value
}

// Clone 深拷贝条目
func (e *Entry) Clone() *Entry {
	out := *e
	out.Values = make(map[IndexID]Value, len(e.Values))
	for id, v := range e.Values {
		v.Bytes = bytes.Clone(v.Bytes)
		out.Values[id] = v
	}
	return &out
}

// builtinValue 返回内置索引上的值
func (e *Entry) builtinValue(kind Kind) Value {
	switch kind {
	case KindAddress:
		return Address(e.Address)
	case KindCodeID:
		return Numeric(e.CodeID)
	case KindCreatedAt:
		return Timestamp(e.CreatedAt)
	case KindUpdatedAt:
		return Timestamp(e.UpdatedAt)
	case KindRevision:
		return Numeric(e.Revision)
	case KindHeight:
		return Numeric(e.Height)
	case KindCreatedBy:
		return Address(e.CreatedBy)
	default:
		panic(fmt.Sprintf("unknown builtin kind %d", kind))
	}
}

// keys 返回条目拥有的全部索引键：内置索引加上用户槽位
func (e *Entry) keys() map[IndexID]Cursor {
	out := make(map[IndexID]Cursor, len(builtinKinds)+len(e.Values))
	for _, kind := range builtinKinds {
		out[IndexID{Kind: kind}] = Cursor{Value: e.builtinValue(kind), Address: e.Address}
	}
	for id, v := range e.Values {
		out[id] = Cursor{Value: v, Address: e.Address}
	}
	return out
}

// sortedIDs 返回用户槽位的有序列表
func (e *Entry) sortedIDs() []IndexID {
	ids := slices.Collect(maps.Keys(e.Values))
	slices.SortFunc(ids, func(a, b IndexID) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		return int(a.Slot) - int(b.Slot)
	})
	return ids
}

type valueRecord struct {
	Kind  Kind   `codec:"k"`
	Slot  uint8  `codec:"s"`
	Num   uint64 `codec:"n,omitempty"`
	Bytes []byte `codec:"b,omitempty"`
}

type entryRecord struct {
	Address   string        `codec:"a"`
	CodeID    uint64        `codec:"c"`
	CreatedAt uint64        `codec:"ca"`
	UpdatedAt uint64        `codec:"ua"`
	Revision  uint64        `codec:"r"`
	Height    uint64        `codec:"h"`
	CreatedBy string        `codec:"cb"`
	Label     string        `codec:"l"`
	Values    []valueRecord `codec:"v"`
}

func encodeEntry(e *Entry) ([]byte, error) {
	rec := entryRecord{
		Address:   e.Address,
		CodeID:    e.CodeID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Revision:  e.Revision,
		Height:    e.Height,
		CreatedBy: e.CreatedBy,
		Label:     e.Label,
	}
	for _, id := range e.sortedIDs() {
		v := e.Values[id]
		rec.Values = append(rec.Values, valueRecord{Kind: id.Kind, Slot: id.Slot, Num: v.Num, Bytes: v.Bytes})
	}
	return encodeRecord(&rec)
}

func decodeEntry(data []byte) (*Entry, error) {
	var rec entryRecord
	if err := decodeRecord(data, &rec); err != nil {
		return nil, err
	}
	e := &Entry{
		Address:   rec.Address,
		CodeID:    rec.CodeID,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Revision:  rec.Revision,
		Height:    rec.Height,
		CreatedBy: rec.CreatedBy,
		Label:     rec.Label,
		Values:    make(map[IndexID]Value, len(rec.Values)),
	}
	for _, vr := range rec.Values {
		id := IndexID{Kind: vr.Kind, Slot: vr.Slot}
		e.Values[id] = Value{Type: vr.Kind.ValueType(), Num: vr.Num, Bytes: vr.Bytes}
	}
	return e, nil
}

// entryStore 保存条目记录，不负责索引维护
type entryStore struct {
	engine storage.OrderedEngine
	cache  *lru.Cache[string, *Entry]
}

func newEntryStore(engine storage.OrderedEngine, cacheSize int) (*entryStore, error) {
	s := &entryStore{engine: engine}
	if cacheSize > 0 {
		cache, err := lru.New[string, *Entry](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("创建条目缓存失败: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// get 从 r 读取条目，不经过缓存
func (s *entryStore) get(r reader, addr string) (*Entry, error) {
	data, err := r.Get(entryKey(addr))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("条目 %s: %w", addr, ErrNotFound)
		}
		return nil, fmt.Errorf("读取条目失败: %w", err)
	}
	return decodeEntry(data)
}

// load 读取已提交的条目，命中缓存时直接返回
// 返回值与缓存共享，调用方不能修改
func (s *entryStore) load(addr string) (*Entry, error) {
	if s.cache != nil {
		if e, ok := s.cache.Get(addr); ok {
			return e, nil
		}
	}
	e, err := s.get(s.engine, addr)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(addr, e)
	}
	return e, nil
}

func (s *entryStore) put(tx *txn, e *Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	tx.Put(entryKey(e.Address), data)
	return nil
}

func (s *entryStore) delete(tx *txn, addr string) {
	tx.Delete(entryKey(addr))
}

// invalidate 在提交后剔除被改动过的条目
func (s *entryStore) invalidate(addrs []string) {
	if s.cache == nil {
		return
	}
	for _, addr := range addrs {
		s.cache.Remove(addr)
	}
}

func (s *entryStore) purge() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// scan 按地址顺序遍历全部已提交条目
func (s *entryStore) scan(fn func(*Entry) (bool, error)) error {
	lo := []byte{prefixEntry}
	hi := storage.PrefixEnd(lo)
	for {
		var raws [][]byte
		var last []byte
		err := s.engine.Scan(storage.ScanOptions{Lower: lo, Upper: hi}, func(key, value []byte) bool {
			raws = append(raws, bytes.Clone(value))
			last = bytes.Clone(key)
			return len(raws) < scanChunk
		})
		if err != nil {
			return fmt.Errorf("扫描条目失败: %w", err)
		}
		if len(raws) > 0 {
			lo = keyAfter(last)
		}

		for _, raw := range raws {
			e, err := decodeEntry(raw)
			if err != nil {
				return err
			}
			cont, err := fn(e)
			if err != nil || !cont {
				return err
			}
		}
		if len(raws) < scanChunk {
			return nil
		}
	}
}
