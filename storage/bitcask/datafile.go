package bitcask

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DataFile 表示一个数据文件
// 支持追加写入、随机读取和同步操作
type DataFile struct {
	FileID   uint32       // 文件 ID，用于标识不同的数据文件
	File     *os.File     // 底层文件句柄
	WriteOff int64        // 当前写入偏移量
	mu       sync.RWMutex // 保护 File 和 WriteOff
}

// dataFileName 生成数据文件名
func dataFileName(fileID uint32) string {
	return fmt.Sprintf("%08d.data", fileID)
}

// OpenDataFile 打开或创建一个数据文件
func OpenDataFile(dir string, fileID uint32) (*DataFile, error) {
	// O_APPEND 保证写入总在文件末尾，读取走 ReadAt 不受影响
	file, err := os.OpenFile(filepath.Join(dir, dataFileName(fileID)), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开数据文件失败: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("获取文件状态失败: %w", err)
	}

	return &DataFile{
		FileID:   fileID,
		File:     file,
		WriteOff: stat.Size(),
	}, nil
}

// WriteBytes 追加写入已经编码好的数据
// 返回写入前的偏移量
func (df *DataFile) WriteBytes(data []byte) (int64, error) {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.File == nil {
		return 0, ErrFileClosed
	}

	offset := df.WriteOff
	n, err := df.File.Write(data)
	if err != nil {
		return offset, fmt.Errorf("写入字节数据失败: %w", err)
	}
	df.WriteOff += int64(n)

	return offset, nil
}

// Write 追加写入一个 Entry
func (df *DataFile) Write(entry *Entry) (int64, error) {
	return df.WriteBytes(entry.Encode())
}

// Read 从指定偏移量读取 size 字节
// 不足 size 字节时返回 io.ErrUnexpectedEOF，偏移量恰好在文件末尾时返回 io.EOF
func (df *DataFile) Read(offset int64, size uint32) ([]byte, error) {
	df.mu.RLock()
	defer df.mu.RUnlock()

	if df.File == nil {
		return nil, ErrFileClosed
	}
	if offset >= df.WriteOff {
		return nil, io.EOF
	}

	data := make([]byte, size)
	n, err := df.File.ReadAt(data, offset)
	if err != nil {
		if errors.Is(err, io.EOF) && n < int(size) {
			return nil, io.ErrUnexpectedEOF
		}
		if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("读取数据失败 (offset=%d, size=%d): %w", offset, size, err)
		}
	}

	return data, nil
}

// ReadEntry 从指定偏移量读取一个完整的 Entry
func (df *DataFile) ReadEntry(offset int64) (*Entry, error) {
	header, err := df.Read(offset, HeaderSize)
	if err != nil {
		return nil, err
	}

	keySize, valueSize := decodeHeader(header)
	data, err := df.Read(offset, HeaderSize+keySize+valueSize)
	if err != nil {
		return nil, err
	}

	return Decode(data)
}

// Truncate 丢弃 offset 之后的数据
// 仅在启动恢复时用于截掉不完整的尾部
func (df *DataFile) Truncate(offset int64) error {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.File == nil {
		return ErrFileClosed
	}
	if err := df.File.Truncate(offset); err != nil {
		return fmt.Errorf("截断数据文件失败: %w", err)
	}
	df.WriteOff = offset
	return nil
}

// Sync 将缓冲区中的数据同步到磁盘
func (df *DataFile) Sync() error {
	df.mu.RLock()
	defer df.mu.RUnlock()

	if df.File == nil {
		return ErrFileClosed
	}
	if err := df.File.Sync(); err != nil {
		return fmt.Errorf("同步数据到磁盘失败: %w", err)
	}
	return nil
}

// Close 关闭数据文件
func (df *DataFile) Close() error {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.File == nil {
		return nil
	}
	if err := df.File.Sync(); err != nil {
		return fmt.Errorf("关闭前同步数据失败: %w", err)
	}
	if err := df.File.Close(); err != nil {
		return fmt.Errorf("关闭文件失败: %w", err)
	}
	df.File = nil

	return nil
}

// GetWriteOff 获取当前写入偏移量
func (df *DataFile) GetWriteOff() int64 {
	df.mu.RLock()
	defer df.mu.RUnlock()
	return df.WriteOff
}

// GetFileID 获取文件 ID
func (df *DataFile) GetFileID() uint32 {
	return df.FileID
}

// Name 获取文件名（不含路径）
func (df *DataFile) Name() string {
	return dataFileName(df.FileID)
}
