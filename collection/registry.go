package collection

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/forever-free1/TideRepo/storage"
)

// IndexMeta 是用户槽位的元数据
// 槽位第一次被使用时写入，类型从此固定
type IndexMeta struct {
	Kind       Kind      `codec:"k"`
	Slot       uint8     `codec:"s"`
	Type       ValueType `codec:"t"`
	Name       string    `codec:"n"`
	Size       uint64    `codec:"z"`
	UpdatedAt  uint64    `codec:"u"`
	UpdatedKey string    `codec:"uk"`
}

// ID 返回元数据对应的索引
func (m IndexMeta) ID() IndexID {
	return IndexID{Kind: m.Kind, Slot: m.Slot}
}

// Registry 把索引标识映射到索引结构并维护槽位类型
type Registry struct {
	engine   storage.OrderedEngine
	maxSlots int
}

func newRegistry(engine storage.OrderedEngine, maxSlots int) *Registry {
	return &Registry{engine: engine, maxSlots: maxSlots}
}

// Get 返回索引结构
// 内置索引总是存在；从未使用过的用户槽位返回空索引
func (r *Registry) Get(id IndexID) (*Index, error) {
	if err := id.validate(r.maxSlots); err != nil {
		return nil, err
	}
	return &Index{id: id, engine: r.engine}, nil
}

// DeclareOrValidate 在槽位首次使用时绑定类型，之后类型不一致返回 ErrTypeMismatch
func (r *Registry) DeclareOrValidate(tx *txn, id IndexID, t ValueType) error {
	if err := id.validate(r.maxSlots); err != nil {
		return err
	}
	if id.Builtin() {
		return fmt.Errorf("内置索引 %s 不能手动赋值: %w", id, ErrInvalidIndex)
	}
	if t != id.Kind.ValueType() {
		return fmt.Errorf("槽位 %s 需要 %s, 得到 %s: %w", id, id.Kind.ValueType(), t, ErrTypeMismatch)
	}

	meta, ok, err := r.meta(tx, id)
	if err != nil {
		return err
	}
	if ok {
		if meta.Type != t {
			return fmt.Errorf("槽位 %s 已绑定 %s: %w", id, meta.Type, ErrTypeMismatch)
		}
		return nil
	}
	return r.saveMeta(tx, IndexMeta{Kind: id.Kind, Slot: id.Slot, Type: t})
}

// insert 写入索引键并更新槽位元数据
func (r *Registry) insert(tx *txn, id IndexID, c Cursor, now uint64) error {
	ix, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := ix.insert(tx, c); err != nil {
		return err
	}
	return r.touch(tx, id, c, 1, now)
}

// remove 删除索引键并更新槽位元数据
func (r *Registry) remove(tx *txn, id IndexID, c Cursor, now uint64) error {
	ix, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := ix.remove(tx, c); err != nil {
		return err
	}
	return r.touch(tx, id, c, -1, now)
}

func (r *Registry) touch(tx *txn, id IndexID, c Cursor, delta int, now uint64) error {
	if id.Builtin() {
		return nil
	}
	meta, ok, err := r.meta(tx, id)
	if err != nil {
		return err
	}
	if !ok {
		meta = IndexMeta{Kind: id.Kind, Slot: id.Slot, Type: id.Kind.ValueType()}
	}
	if delta < 0 {
		if meta.Size > 0 {
			meta.Size--
		}
	} else {
		meta.Size++
	}
	meta.UpdatedAt = now
	meta.UpdatedKey = c.Token()
	return r.saveMeta(tx, meta)
}

// rename 设置槽位的显示名称
func (r *Registry) rename(tx *txn, id IndexID, name string) error {
	if err := id.validate(r.maxSlots); err != nil {
		return err
	}
	if id.Builtin() {
		return fmt.Errorf("内置索引 %s 不能重命名: %w", id, ErrInvalidIndex)
	}
	meta, ok, err := r.meta(tx, id)
	if err != nil {
		return err
	}
	if !ok {
		meta = IndexMeta{Kind: id.Kind, Slot: id.Slot, Type: id.Kind.ValueType()}
	}
	meta.Name = name
	return r.saveMeta(tx, meta)
}

func (r *Registry) meta(rd reader, id IndexID) (IndexMeta, bool, error) {
	data, err := rd.Get(metaKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return IndexMeta{}, false, nil
		}
		return IndexMeta{}, false, fmt.Errorf("读取索引元数据失败: %w", err)
	}
	var meta IndexMeta
	if err := decodeRecord(data, &meta); err != nil {
		return IndexMeta{}, false, err
	}
	return meta, true, nil
}

func (r *Registry) saveMeta(tx *txn, meta IndexMeta) error {
	data, err := encodeRecord(&meta)
	if err != nil {
		return err
	}
	tx.Put(metaKey(meta.ID()), data)
	return nil
}

// Meta 返回已提交的槽位元数据
func (r *Registry) Meta(id IndexID) (IndexMeta, bool, error) {
	return r.meta(r.engine, id)
}

// List 返回所有用过或命名过的槽位元数据，按 (kind, slot) 排序
func (r *Registry) List() ([]IndexMeta, error) {
	var (
		raws  [][]byte
		metas []IndexMeta
	)
	prefix := []byte{prefixMeta}
	err := r.engine.Scan(storage.ScanOptions{Lower: prefix, Upper: storage.PrefixEnd(prefix)}, func(_, value []byte) bool {
		raws = append(raws, bytes.Clone(value))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("扫描索引元数据失败: %w", err)
	}
	for _, raw := range raws {
		var meta IndexMeta
		if err := decodeRecord(raw, &meta); err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}
