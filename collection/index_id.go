package collection

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind 是索引的种类：内置索引或某种类型的用户槽位
type Kind uint8

const (
	KindAddress   Kind = 1
	KindCodeID    Kind = 2
	KindCreatedAt Kind = 3
	KindUpdatedAt Kind = 4
	KindRevision  Kind = 5
	KindHeight    Kind = 6
	KindCreatedBy Kind = 7

	KindNumeric   Kind = 16
	KindText      Kind = 17
	KindBoolean   Kind = 18
	KindTimestamp Kind = 19
)

var kindNames = map[Kind]string{
	KindAddress:   "address",
	KindCodeID:    "code_id",
	KindCreatedAt: "created_at",
	KindUpdatedAt: "updated_at",
	KindRevision:  "revision",
	KindHeight:    "height",
	KindCreatedBy: "created_by",
	KindNumeric:   "numeric",
	KindText:      "text",
	KindBoolean:   "boolean",
	KindTimestamp: "timestamp",
}

// builtinKinds 是每个条目都会写入的内置索引
var builtinKinds = []Kind{
	KindAddress, KindCodeID, KindCreatedAt, KindUpdatedAt, KindRevision, KindHeight, KindCreatedBy,
}

// userKinds 是用户槽位的四种类型
var userKinds = []Kind{KindNumeric, KindText, KindBoolean, KindTimestamp}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Builtin 判断是否为内置索引
func (k Kind) Builtin() bool {
	return k < KindNumeric
}

// ValueType 返回该种类索引存放的值类型
func (k Kind) ValueType() ValueType {
	switch k {
	case KindAddress, KindCreatedBy:
		return ValueAddress
	case KindCodeID, KindRevision, KindHeight, KindNumeric:
		return ValueNumeric
	case KindCreatedAt, KindUpdatedAt, KindTimestamp:
		return ValueTimestamp
	case KindText:
		return ValueText
	case KindBoolean:
		return ValueBoolean
	default:
		return 0
	}
}

// IndexID 标识一个索引
// 内置索引的 Slot 恒为 0；同一个槽位号在不同类型下是不同的索引
type IndexID struct {
	Kind Kind
	Slot uint8
}

var (
	IndexAddress   = IndexID{Kind: KindAddress}
	IndexCodeID    = IndexID{Kind: KindCodeID}
	IndexCreatedAt = IndexID{Kind: KindCreatedAt}
	IndexUpdatedAt = IndexID{Kind: KindUpdatedAt}
	IndexRevision  = IndexID{Kind: KindRevision}
	IndexHeight    = IndexID{Kind: KindHeight}
	IndexCreatedBy = IndexID{Kind: KindCreatedBy}
)

// NumericSlot 返回数值槽位
func NumericSlot(slot uint8) IndexID { return IndexID{Kind: KindNumeric, Slot: slot} }

// TextSlot 返回文本槽位
func TextSlot(slot uint8) IndexID { return IndexID{Kind: KindText, Slot: slot} }

// BooleanSlot 返回布尔槽位
func BooleanSlot(slot uint8) IndexID { return IndexID{Kind: KindBoolean, Slot: slot} }

// TimestampSlot 返回时间戳槽位
func TimestampSlot(slot uint8) IndexID { return IndexID{Kind: KindTimestamp, Slot: slot} }

// Builtin 判断是否为内置索引
func (id IndexID) Builtin() bool {
	return id.Kind.Builtin()
}

// String 返回文本形式，如 "revision"、"numeric:3"
func (id IndexID) String() string {
	if id.Builtin() {
		return id.Kind.String()
	}
	return id.Kind.String() + ":" + strconv.Itoa(int(id.Slot))
}

// ParseIndexID 解析 String 产生的文本形式
// 参数：
//   - s: 形如 "revision" 或 "numeric:3" 的文本
// 返回：
//   - IndexID: 解析出的索引
//   - error: 名称未知、缺少或多出槽位时返回 ErrInvalidIndex
func ParseIndexID(s string) (IndexID, error) {
	name, slotStr, hasSlot := strings.Cut(s, ":")
	for kind, kn := range kindNames {
		if kn != name {
			continue
		}
		if kind.Builtin() {
			if hasSlot {
				return IndexID{}, fmt.Errorf("内置索引 %q 不接受槽位: %w", name, ErrInvalidIndex)
			}
			return IndexID{Kind: kind}, nil
		}
		if !hasSlot {
			return IndexID{}, fmt.Errorf("索引 %q 缺少槽位: %w", name, ErrInvalidIndex)
		}
		slot, err := strconv.ParseUint(slotStr, 10, 8)
		if err != nil {
			return IndexID{}, fmt.Errorf("槽位 %q 无效: %w", slotStr, ErrInvalidIndex)
		}
		return IndexID{Kind: kind, Slot: uint8(slot)}, nil
	}
	return IndexID{}, fmt.Errorf("未知索引 %q: %w", s, ErrInvalidIndex)
}

// validate 检查索引是否存在以及槽位是否越界
func (id IndexID) validate(maxSlots int) error {
	if _, ok := kindNames[id.Kind]; !ok {
		return fmt.Errorf("%s: %w", id, ErrIndexNotFound)
	}
	if id.Builtin() {
		if id.Slot != 0 {
			return fmt.Errorf("%s: %w", id, ErrIndexNotFound)
		}
		return nil
	}
	if int(id.Slot) >= maxSlots {
		return fmt.Errorf("槽位 %s 超出上限 %d: %w", id, maxSlots, ErrInvalidIndex)
	}
	return nil
}
