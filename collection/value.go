package collection

import (
	"bytes"
	"cmp"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
)

// ValueType 是索引值的类型
type ValueType uint8

const (
	ValueNumeric ValueType = iota + 1
	ValueText
	ValueBoolean
	ValueTimestamp
	// ValueAddress 只用于内置的地址类索引
	ValueAddress
)

func (t ValueType) String() string {
	switch t {
	case ValueNumeric:
		return "numeric"
	case ValueText:
		return "text"
	case ValueBoolean:
		return "boolean"
	case ValueTimestamp:
		return "timestamp"
	case ValueAddress:
		return "address"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(t))
	}
}

// Value 是带类型的索引值
// 数值、时间戳和布尔值放在 Num 中，文本和地址放在 Bytes 中
type Value struct {
	Type  ValueType
	Num   uint64
	Bytes []byte
}

// Numeric 构造数值
func Numeric(n uint64) Value { return Value{Type: ValueNumeric, Num: n} }

// Text 构造文本值
func Text(s string) Value { return Value{Type: ValueText, Bytes: []byte(s)} }

// TextBytes 构造任意字节的文本值
func TextBytes(b []byte) Value { return Value{Type: ValueText, Bytes: bytes.Clone(b)} }

// Bool 构造布尔值
func Bool(b bool) Value {
	v := Value{Type: ValueBoolean}
	if b {
		v.Num = 1
	}
	return v
}

// Timestamp 构造时间戳，单位是 Unix 纳秒
func Timestamp(ns uint64) Value { return Value{Type: ValueTimestamp, Num: ns} }

// Address 构造地址值
func Address(addr string) Value { return Value{Type: ValueAddress, Bytes: []byte(addr)} }

// Compare 按类型对应的比较器比较两个同类型的值
func (v Value) Compare(o Value) int {
	switch v.Type {
	case ValueText, ValueAddress:
		return bytes.Compare(v.Bytes, o.Bytes)
	default:
		return cmp.Compare(v.Num, o.Num)
	}
}

// Equal 判断两个值是否类型相同且相等
func (v Value) Equal(o Value) bool {
	return v.Type == o.Type && v.Compare(o) == 0
}

// String 返回边界编码：数值和时间戳为十进制，布尔为 true/false，文本为标准 base64
func (v Value) String() string {
	switch v.Type {
	case ValueNumeric, ValueTimestamp:
		return strconv.FormatUint(v.Num, 10)
	case ValueBoolean:
		return strconv.FormatBool(v.Num != 0)
	case ValueText:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	default:
		return string(v.Bytes)
	}
}

// ParseValue 按边界编码解析一个值
func ParseValue(t ValueType, s string) (Value, error) {
	switch t {
	case ValueNumeric, ValueTimestamp:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("解析 %s 值失败: %w", t, ErrTypeMismatch)
		}
		return Value{Type: t, Num: n}, nil
	case ValueBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("解析布尔值失败: %w", ErrTypeMismatch)
		}
		return Bool(b), nil
	case ValueText:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Value{}, fmt.Errorf("解析文本值失败: %w", ErrTypeMismatch)
		}
		return Value{Type: ValueText, Bytes: b}, nil
	case ValueAddress:
		return Address(s), nil
	default:
		return Value{}, fmt.Errorf("未知的值类型 %d: %w", t, ErrTypeMismatch)
	}
}

// appendValue 追加值的字节序编码，编码后的字节序与比较器一致
func appendValue(dst []byte, v Value) []byte {
	switch v.Type {
	case ValueNumeric, ValueTimestamp:
		return binary.BigEndian.AppendUint64(dst, v.Num)
	case ValueBoolean:
		return append(dst, byte(v.Num))
	default:
		return appendEscaped(dst, v.Bytes)
	}
}

// appendEscaped 转义 0x00 为 0x00 0xFF，并以 0x00 0x01 结尾
// 转义后保持字典序且任何编码都不是另一个编码的前缀
func appendEscaped(dst, b []byte) []byte {
	for _, c := range b {
		if c == 0 {
			dst = append(dst, 0, 0xFF)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, 0, 1)
}

// readValue 从 b 中读出一个 t 类型的值，返回剩余字节
func readValue(t ValueType, b []byte) (Value, []byte, error) {
	switch t {
	case ValueNumeric, ValueTimestamp:
		if len(b) < 8 {
			return Value{}, nil, ErrInvalidCursor
		}
		return Value{Type: t, Num: binary.BigEndian.Uint64(b)}, b[8:], nil
	case ValueBoolean:
		if len(b) < 1 || b[0] > 1 {
			return Value{}, nil, ErrInvalidCursor
		}
		return Value{Type: t, Num: uint64(b[0])}, b[1:], nil
	default:
		raw, rest, err := readEscaped(b)
		if err != nil {
			return Value{}, nil, err
		}
		return Value{Type: t, Bytes: raw}, rest, nil
	}
}

func readEscaped(b []byte) ([]byte, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != 0 {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			break
		}
		switch b[i+1] {
		case 0xFF:
			out = append(out, 0)
			i++
		case 1:
			return out, b[i+2:], nil
		default:
			return nil, nil, ErrInvalidCursor
		}
	}
	return nil, nil, ErrInvalidCursor
}
