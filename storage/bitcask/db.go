package bitcask

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/golang/snappy"

	"github.com/forever-free1/TideRepo/storage"
	"github.com/forever-free1/TideRepo/storage/index"
)

// ErrEmptyKey 表示写入了空键
var ErrEmptyKey = errors.New("key is empty")

// DB 表示 Bitcask 存储引擎的核心结构体
// 封装了数据文件管理、有序内存索引和配置选项
type DB struct {
	dir         string               // 数据目录
	activeFile  *DataFile            // 当前活跃的数据文件
	olderFiles  map[uint32]*DataFile // 历史数据文件集合
	index       index.Index          // 有序 keydir
	bloomFilter *index.BloomFilter   // 布隆过滤器，用于快速判断 key 是否存在
	options     *Options             // 配置选项
	mu          sync.RWMutex         // 写锁，保证写入顺序
	fileID      uint32               // 当前文件 ID
	closed      bool
}

// Options 定义 DB 的配置选项
type Options struct {
	// DataFileSizeLimit 单个数据文件的大小限制（字节）
	// 超过限制时创建新文件
	DataFileSizeLimit int64

	// Keydir 内存索引类型，默认 B 树
	Keydir index.Kind

	// BloomFilterCapacity 布隆过滤器的初始容量
	BloomFilterCapacity uint

	// BloomFilterFP 布隆过滤器的期望误判率
	// 值越小，需要的内存越多
	BloomFilterFP float64

	// Compression 是否用 snappy 压缩 Value
	Compression bool

	// SyncWrites 每次写入后是否立即 fsync
	SyncWrites bool
}

// Option 定义 Options 的配置函数
type Option func(*Options)

// WithDataFileSizeLimit 设置单文件大小限制
func WithDataFileSizeLimit(limit int64) Option {
	return func(o *Options) {
		o.DataFileSizeLimit = limit
	}
}

// WithKeydir 设置 keydir 索引类型
func WithKeydir(kind index.Kind) Option {
	return func(o *Options) {
		o.Keydir = kind
	}
}

// WithBloomFilter 设置布隆过滤器的初始容量和期望误判率
func WithBloomFilter(capacity uint, fp float64) Option {
	return func(o *Options) {
		o.BloomFilterCapacity = capacity
		o.BloomFilterFP = fp
	}
}

// WithCompression 开启或关闭 Value 压缩
func WithCompression(enabled bool) Option {
	return func(o *Options) {
		o.Compression = enabled
	}
}

// WithSyncWrites 开启或关闭写入后立即同步
func WithSyncWrites(enabled bool) Option {
	return func(o *Options) {
		o.SyncWrites = enabled
	}
}

// Open 打开或创建一个 Bitcask 数据库
func Open(dir string, opts ...Option) (*DB, error) {
	options := &Options{
		DataFileSizeLimit:   64 * 1024 * 1024, // 默认 64MB
		Keydir:              index.KindBTree,
		BloomFilterCapacity: 1 << 16,
		BloomFilterFP:       0.01, // 默认 1% 误判率
	}
	for _, opt := range opts {
		opt(options)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db := &DB{
		dir:         dir,
		olderFiles:  make(map[uint32]*DataFile),
		index:       index.New(options.Keydir),
		bloomFilter: index.NewBloomFilter(options.BloomFilterCapacity, options.BloomFilterFP),
		options:     options,
	}

	if err := db.bootstrap(); err != nil {
		db.closeFiles()
		return nil, fmt.Errorf("启动引导失败: %w", err)
	}

	return db, nil
}

// pendingOp 是启动时读到但尚未提交的批次操作
type pendingOp struct {
	key    []byte
	pos    *storage.Position
	delete bool
}

// bootstrap 启动引导逻辑
// 按文件 ID 顺序重放所有数据文件，重建 keydir 和布隆过滤器
//
// 批次内的记录只有在读到提交记录后才生效。
// 活跃文件末尾如果是未提交的批次或者写了一半的记录，直接截断
func (db *DB) bootstrap() error {
	files, err := os.ReadDir(db.dir)
	if err != nil {
		return fmt.Errorf("读取目录失败: %w", err)
	}

	var fileIDs []uint32
	for _, f := range files {
		if !strings.HasSuffix(f.Name(), ".data") {
			continue
		}
		var id uint32
		if _, err := fmt.Sscanf(strings.TrimSuffix(f.Name(), ".data"), "%d", &id); err == nil {
			fileIDs = append(fileIDs, id)
		}
	}

	if len(fileIDs) == 0 {
		activeFile, err := OpenDataFile(db.dir, 0)
		if err != nil {
			return fmt.Errorf("创建活跃数据文件失败: %w", err)
		}
		db.activeFile = activeFile
		return nil
	}

	sort.Slice(fileIDs, func(i, j int) bool {
		return fileIDs[i] < fileIDs[j]
	})

	for i, fileID := range fileIDs {
		dataFile, err := OpenDataFile(db.dir, fileID)
		if err != nil {
			return fmt.Errorf("打开数据文件 %d 失败: %w", fileID, err)
		}

		last := i == len(fileIDs)-1
		if last {
			db.activeFile = dataFile
			db.fileID = fileID
		} else {
			db.olderFiles[fileID] = dataFile
		}

		if err := db.replay(dataFile, last); err != nil {
			return err
		}
	}

	if db.bloomFilter.Saturated() {
		db.rebuildBloomFilter()
	}

	return nil
}

// replay 重放单个数据文件
func (db *DB) replay(dataFile *DataFile, active bool) error {
	var (
		offset     int64
		pending    []pendingOp
		batchStart int64
	)

	for {
		entry, err := dataFile.ReadEntry(offset)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if !active {
				return fmt.Errorf("数据文件 %s 偏移 %d: %w", dataFile.Name(), offset, ErrCorrupted)
			}
			// 活跃文件尾部的撕裂写入
			break
		}

		pos := &storage.Position{
			FileID: dataFile.GetFileID(),
			Offset: offset,
			Size:   entry.Size(),
		}

		switch entry.Type.Base() {
		case EntryPut:
			db.index.Put(entry.Key, pos)
			db.bloomFilter.Add(entry.Key)
		case EntryDelete:
			db.index.Delete(entry.Key)
		case EntryBatchPut, EntryBatchDelete:
			if len(pending) == 0 {
				batchStart = offset
			}
			pending = append(pending, pendingOp{
				key:    entry.Key,
				pos:    pos,
				delete: entry.Type.Base() == EntryBatchDelete,
			})
		case EntryBatchCommit:
			db.applyBatch(pending)
			pending = nil
		}

		offset += int64(entry.Size())
	}

	if len(pending) > 0 {
		offset = batchStart
	}
	if active && offset < dataFile.GetWriteOff() {
		return dataFile.Truncate(offset)
	}
	return nil
}

func (db *DB) applyBatch(ops []pendingOp) {
	for _, op := range ops {
		if op.delete {
			db.index.Delete(op.key)
			continue
		}
		db.index.Put(op.key, op.pos)
		db.bloomFilter.Add(op.key)
	}
}

// rebuildBloomFilter 按当前 keydir 重建布隆过滤器
// 调用方需要持有锁
func (db *DB) rebuildBloomFilter() {
	db.bloomFilter.Rebuild(uint(db.index.Size())*2, func(add func([]byte)) {
		db.index.Iterate(storage.ScanOptions{}, func(key []byte, _ *storage.Position) bool {
			add(key)
			return true
		})
	})
}

// encodeValue 按配置压缩 Value，返回需要附加的类型标记
func (db *DB) encodeValue(value []byte) ([]byte, EntryType) {
	if !db.options.Compression {
		return value, 0
	}
	return snappy.Encode(nil, value), entryCompressed
}

// Put 写入键值对
func (db *DB) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return storage.ErrClosed
	}
	if err := db.maybeRotate(); err != nil {
		return err
	}

	stored, flag := db.encodeValue(value)
	entry := NewEntry(EntryPut|flag, key, stored)

	offset, err := db.activeFile.Write(entry)
	if err != nil {
		return fmt.Errorf("写入数据文件失败: %w", err)
	}
	if err := db.syncIfNeeded(); err != nil {
		return err
	}

	db.index.Put(key, &storage.Position{
		FileID: db.activeFile.GetFileID(),
		Offset: offset,
		Size:   entry.Size(),
	})
	db.bloomFilter.Add(key)
	if db.bloomFilter.Saturated() {
		db.rebuildBloomFilter()
	}

	return nil
}

func (db *DB) syncIfNeeded() error {
	if !db.options.SyncWrites {
		return nil
	}
	return db.activeFile.Sync()
}

// maybeRotate 活跃文件达到大小限制时轮转
func (db *DB) maybeRotate() error {
	if db.activeFile.GetWriteOff() < db.options.DataFileSizeLimit {
		return nil
	}
	if err := db.rotateActiveFile(); err != nil {
		return fmt.Errorf("轮转活跃文件失败: %w", err)
	}
	return nil
}

// rotateActiveFile 轮转活跃文件
// 旧的活跃文件保持打开，继续服务读取
func (db *DB) rotateActiveFile() error {
	if err := db.activeFile.Sync(); err != nil {
		return fmt.Errorf("同步活跃文件失败: %w", err)
	}

	db.olderFiles[db.activeFile.GetFileID()] = db.activeFile

	db.fileID++
	newFile, err := OpenDataFile(db.dir, db.fileID)
	if err != nil {
		return fmt.Errorf("创建新的活跃文件失败: %w", err)
	}
	db.activeFile = newFile

	return nil
}

// Get 根据键获取值
// 键不存在时返回 storage.ErrKeyNotFound
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, storage.ErrClosed
	}

	// 布隆过滤器返回 false 时一定不存在
	if !db.bloomFilter.Test(key) {
		return nil, storage.ErrKeyNotFound
	}

	pos := db.index.Get(key)
	if pos == nil {
		return nil, storage.ErrKeyNotFound
	}

	return db.readValue(pos)
}

// readValue 按位置读取并解压 Value
func (db *DB) readValue(pos *storage.Position) ([]byte, error) {
	dataFile := db.activeFile
	if pos.FileID != dataFile.GetFileID() {
		var ok bool
		dataFile, ok = db.olderFiles[pos.FileID]
		if !ok {
			return nil, fmt.Errorf("数据文件 %d 不存在: %w", pos.FileID, ErrCorrupted)
		}
	}

	entry, err := dataFile.ReadEntry(pos.Offset)
	if err != nil {
		return nil, fmt.Errorf("读取 Entry 失败: %w", err)
	}

	if !entry.Type.Compressed() {
		return entry.Value, nil
	}
	value, err := snappy.Decode(nil, entry.Value)
	if err != nil {
		return nil, fmt.Errorf("解压 Value 失败: %w", err)
	}
	return value, nil
}

// Delete 删除键值对
// 键存在时追加一条墓碑记录，重启后不会复活
func (db *DB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return storage.ErrClosed
	}
	if db.index.Get(key) == nil {
		return nil
	}
	if err := db.maybeRotate(); err != nil {
		return err
	}

	if _, err := db.activeFile.Write(NewEntry(EntryDelete, key, nil)); err != nil {
		return fmt.Errorf("写入墓碑失败: %w", err)
	}
	if err := db.syncIfNeeded(); err != nil {
		return err
	}

	// 布隆过滤器不支持删除，Get 时由 keydir 二次确认
	db.index.Delete(key)
	return nil
}

// Scan 按字节序遍历范围内的键值对
// 回调期间持有读锁，回调里不能再写入 DB
func (db *DB) Scan(opts storage.ScanOptions, fn storage.ScanFunc) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return storage.ErrClosed
	}

	var err error
	db.index.Iterate(opts, func(key []byte, pos *storage.Position) bool {
		var value []byte
		value, err = db.readValue(pos)
		if err != nil {
			return false
		}
		return fn(key, value)
	})
	return err
}

// Size 返回当前存活的键数量
func (db *DB) Size() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.index.Size()
}

// Sync 将活跃文件同步到磁盘
func (db *DB) Sync() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return storage.ErrClosed
	}
	return db.activeFile.Sync()
}

// NewBatch 创建一个写批次
func (db *DB) NewBatch() storage.Batch {
	return &Batch{db: db}
}

// writeBatch 把一个批次作为连续记录写入活跃文件，末尾跟一条提交记录
func (db *DB) writeBatch(ops []batchOp) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return storage.ErrClosed
	}
	if len(ops) == 0 {
		return nil
	}
	// 一个批次不会跨文件
	if err := db.maybeRotate(); err != nil {
		return err
	}

	var (
		buf     bytes.Buffer
		offsets = make([]int64, len(ops))
		sizes   = make([]uint32, len(ops))
	)
	for i, op := range ops {
		var entry *Entry
		if op.delete {
			entry = NewEntry(EntryBatchDelete, op.key, nil)
		} else {
			stored, flag := db.encodeValue(op.value)
			entry = NewEntry(EntryBatchPut|flag, op.key, stored)
		}
		offsets[i] = int64(buf.Len())
		sizes[i] = entry.Size()
		buf.Write(entry.Encode())
	}
	buf.Write(NewEntry(EntryBatchCommit, nil, nil).Encode())

	base, err := db.activeFile.WriteBytes(buf.Bytes())
	if err != nil {
		return fmt.Errorf("写入批次失败: %w", err)
	}
	if err := db.syncIfNeeded(); err != nil {
		return err
	}

	fileID := db.activeFile.GetFileID()
	for i, op := range ops {
		if op.delete {
			db.index.Delete(op.key)
			continue
		}
		db.index.Put(op.key, &storage.Position{
			FileID: fileID,
			Offset: base + offsets[i],
			Size:   sizes[i],
		})
		db.bloomFilter.Add(op.key)
	}
	if db.bloomFilter.Saturated() {
		db.rebuildBloomFilter()
	}

	return nil
}

// Close 关闭数据库
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	err := db.closeFiles()
	db.index.Close()
	return err
}

func (db *DB) closeFiles() error {
	if db.activeFile != nil {
		if err := db.activeFile.Close(); err != nil {
			return fmt.Errorf("关闭活跃文件失败: %w", err)
		}
	}
	for _, file := range db.olderFiles {
		if err := file.Close(); err != nil {
			return fmt.Errorf("关闭旧文件失败: %w", err)
		}
	}
	return nil
}

// GetFilePath 获取指定文件 ID 的文件路径
func (db *DB) GetFilePath(fileID uint32) string {
	return filepath.Join(db.dir, dataFileName(fileID))
}

var _ storage.OrderedEngine = (*DB)(nil)
