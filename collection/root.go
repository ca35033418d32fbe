package collection

import (
	"errors"
	"fmt"
	"slices"

	"github.com/forever-free1/TideRepo/storage"
)

// Root 是集合级别的聚合状态
type Root struct {
	Count         uint64   `codec:"count"`
	ACLEnabled    bool     `codec:"acl"`
	Admin         string   `codec:"admin"`
	DefaultLabel  string   `codec:"label"`
	DefaultCodeID uint64   `codec:"default_code_id"`
	CodeIDs       []uint64 `codec:"code_ids"`
}

func (r *Root) clone() *Root {
	out := *r
	out.CodeIDs = slices.Clone(r.CodeIDs)
	return &out
}

// allows 判断 code id 是否允许实例化，空列表表示不限
func (r *Root) allows(codeID uint64) bool {
	return len(r.CodeIDs) == 0 || slices.Contains(r.CodeIDs, codeID)
}

func loadRoot(rd reader) (*Root, bool, error) {
	data, err := rd.Get(rootKey())
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("读取集合根失败: %w", err)
	}
	var root Root
	if err := decodeRecord(data, &root); err != nil {
		return nil, false, err
	}
	return &root, true, nil
}

func saveRoot(tx *txn, root *Root) error {
	data, err := encodeRecord(root)
	if err != nil {
		return err
	}
	tx.Put(rootKey(), data)
	return nil
}
