package collection

import (
	"encoding/base64"
	"fmt"
)

// 键空间布局（单字节前缀）：
//
//	R                                  集合根
//	E | addr                           条目记录
//	M | kind | slot                    用户槽位元数据
//	I | kind | slot | enc(value) | enc(addr)
const (
	prefixRoot  byte = 'R'
	prefixEntry byte = 'E'
	prefixMeta  byte = 'M'
	prefixIndex byte = 'I'
)

func rootKey() []byte {
	return []byte{prefixRoot}
}

func entryKey(addr string) []byte {
	key := make([]byte, 0, 1+len(addr))
	key = append(key, prefixEntry)
	return append(key, addr...)
}

func metaKey(id IndexID) []byte {
	return []byte{prefixMeta, byte(id.Kind), id.Slot}
}

func indexPrefix(id IndexID) []byte {
	return []byte{prefixIndex, byte(id.Kind), id.Slot}
}

// valuePrefix 是某个值对应的键组前缀，值相同的键都以它开头
func valuePrefix(id IndexID, v Value) []byte {
	return appendValue(indexPrefix(id), v)
}

func indexKey(id IndexID, c Cursor) []byte {
	return appendEscaped(valuePrefix(id, c.Value), []byte(c.Address))
}

// parseIndexKey 从完整的索引键中解出 (value, addr)
func parseIndexKey(id IndexID, key []byte) (Cursor, error) {
	if len(key) < 3 || key[0] != prefixIndex || key[1] != byte(id.Kind) || key[2] != id.Slot {
		return Cursor{}, fmt.Errorf("索引键前缀不匹配: %w", ErrInvalidCursor)
	}
	return decodeCursor(id.Kind.ValueType(), key[3:])
}

func decodeCursor(t ValueType, b []byte) (Cursor, error) {
	v, rest, err := readValue(t, b)
	if err != nil {
		return Cursor{}, err
	}
	addr, rest, err := readEscaped(rest)
	if err != nil {
		return Cursor{}, err
	}
	if len(rest) != 0 {
		return Cursor{}, ErrInvalidCursor
	}
	return Cursor{Value: v, Address: string(addr)}, nil
}

// Cursor 是索引中的一个键，也是分页的续读位置
type Cursor struct {
	Value   Value
	Address string
}

// Token 返回不透明的 base64url 令牌
func (c Cursor) Token() string {
	raw := appendEscaped(appendValue(nil, c.Value), []byte(c.Address))
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseCursor 解析 Token 产生的令牌，t 是目标索引的值类型
func ParseCursor(t ValueType, token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("游标不是合法的 base64url: %w", ErrInvalidCursor)
	}
	c, err := decodeCursor(t, raw)
	if err != nil {
		return Cursor{}, fmt.Errorf("解析游标失败: %w", err)
	}
	return c, nil
}
