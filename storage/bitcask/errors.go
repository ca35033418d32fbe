package bitcask

import "errors"

// ErrInvalidEntry 表示无效的 Entry 数据
var ErrInvalidEntry = errors.New("invalid entry data")

// ErrCRCMismatch 表示 CRC 校验失败
var ErrCRCMismatch = errors.New("CRC checksum mismatch")

// ErrFileClosed 表示文件已关闭
var ErrFileClosed = errors.New("file is closed")

// ErrCorrupted 表示历史数据文件中间出现无法解析的记录
var ErrCorrupted = errors.New("data file corrupted")

// ErrBatchCommitted 表示批次已经提交过
var ErrBatchCommitted = errors.New("batch already committed")
