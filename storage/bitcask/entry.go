package bitcask

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"time"
)

// EntryType 表示记录的类型
// 最高位标记 Value 是否经过 snappy 压缩
type EntryType byte

const (
	// EntryPut 普通写入
	EntryPut EntryType = iota
	// EntryDelete 墓碑记录，重启时用于删除 keydir 中的键
	EntryDelete
	// EntryBatchPut 批次内的写入，只有读到批次提交记录后才生效
	EntryBatchPut
	// EntryBatchDelete 批次内的删除
	EntryBatchDelete
	// EntryBatchCommit 批次提交记录，不携带键值
	EntryBatchCommit

	entryCompressed EntryType = 0x80
)

// Base 去掉压缩标记后的类型
func (t EntryType) Base() EntryType {
	return t &^ entryCompressed
}

// Compressed 判断 Value 是否经过压缩
func (t EntryType) Compressed() bool {
	return t&entryCompressed != 0
}

// Entry 表示存储在数据文件中的记录条目
// 格式：| CRC32 (4B) | Timestamp (8B) | Type (1B) | KeySize (4B) | ValueSize (4B) | Key | Value |
type Entry struct {
	CRC       uint32    // 校验和
	Timestamp int64     // 写入时间
	Type      EntryType // 记录类型
	KeySize   uint32    // Key 长度
	ValueSize uint32    // Value 长度
	Key       []byte    // 键数据
	Value     []byte    // 值数据（可能已压缩）
}

// HeaderSize 固定头部大小：CRC(4) + Timestamp(8) + Type(1) + KeySize(4) + ValueSize(4)
const HeaderSize = 21

// NewEntry 创建一个新的 Entry 实例
func NewEntry(typ EntryType, key []byte, value []byte) *Entry {
	return &Entry{
		Timestamp: time.Now().UnixNano(),
		Type:      typ,
		KeySize:   uint32(len(key)),
		ValueSize: uint32(len(value)),
		Key:       key,
		Value:     value,
	}
}

// Encode 将 Entry 编码为字节切片（小端序）
func (e *Entry) Encode() []byte {
	buf := make([]byte, HeaderSize+int(e.KeySize+e.ValueSize))

	binary.LittleEndian.PutUint64(buf[4:12], uint64(e.Timestamp))
	buf[12] = byte(e.Type)
	binary.LittleEndian.PutUint32(buf[13:17], e.KeySize)
	binary.LittleEndian.PutUint32(buf[17:21], e.ValueSize)
	copy(buf[HeaderSize:HeaderSize+e.KeySize], e.Key)
	copy(buf[HeaderSize+e.KeySize:], e.Value)

	// CRC 覆盖除自身以外的全部字节
	e.CRC = crc32.ChecksumIEEE(buf[4:])
	binary.LittleEndian.PutUint32(buf[0:4], e.CRC)

	return buf
}

// decodeHeader 从头部解析 KeySize 和 ValueSize
func decodeHeader(header []byte) (keySize, valueSize uint32) {
	return binary.LittleEndian.Uint32(header[13:17]), binary.LittleEndian.Uint32(header[17:21])
}

// Decode 从字节切片解码出 Entry
func Decode(data []byte) (*Entry, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidEntry
	}

	entry := &Entry{
		CRC:       binary.LittleEndian.Uint32(data[0:4]),
		Timestamp: int64(binary.LittleEndian.Uint64(data[4:12])),
		Type:      EntryType(data[12]),
	}
	entry.KeySize, entry.ValueSize = decodeHeader(data)

	totalSize := HeaderSize + int(entry.KeySize+entry.ValueSize)
	if len(data) < totalSize {
		return nil, ErrInvalidEntry
	}

	entry.Key = data[HeaderSize : HeaderSize+entry.KeySize]
	entry.Value = data[HeaderSize+entry.KeySize : totalSize]

	if crc32.ChecksumIEEE(data[4:totalSize]) != entry.CRC {
		return nil, ErrCRCMismatch
	}

	return entry, nil
}

// Size 返回 Entry 的总大小（字节）
func (e *Entry) Size() uint32 {
	return HeaderSize + e.KeySize + e.ValueSize
}

// Equals 比较两个 Entry 是否相等
func (e *Entry) Equals(other *Entry) bool {
	if e == other {
		return true
	}
	if e == nil || other == nil {
		return false
	}
	return e.CRC == other.CRC &&
		e.Timestamp == other.Timestamp &&
		e.Type == other.Type &&
		bytes.Equal(e.Key, other.Key) &&
		bytes.Equal(e.Value, other.Value)
}
