package raft

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/hashicorp/raft"

	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/storage"
)

var errMissingPayload = errors.New("command payload missing")

// restoreBatchSize 是恢复快照时每个写批次的键数
const restoreBatchSize = 1024

// snapshotVersion 是快照流的格式版本
const snapshotVersion = 1

// CollectionFSM 把 Raft 日志应用到集合
// 集合和子合约宿主共用同一个引擎，快照覆盖引擎中的全部键值
type CollectionFSM struct {
	engine storage.OrderedEngine
	coll   *collection.Collection
	logger hclog.Logger
}

var _ raft.FSM = (*CollectionFSM)(nil)

// NewCollectionFSM 创建 FSM
func NewCollectionFSM(engine storage.OrderedEngine, coll *collection.Collection, logger hclog.Logger) *CollectionFSM {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &CollectionFSM{engine: engine, coll: coll, logger: logger}
}

// Apply 将一条日志应用到集合，返回 *Result
// 命令本身的业务错误放在 Result.Err 中，所有副本得到相同的结果
func (f *CollectionFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := decodeCommand(log.Data, &cmd); err != nil {
		f.logger.Error("无法解析日志", "index", log.Index, "error", err)
		return &Result{Err: err}
	}

	ctx := context.Background()
	call := cmd.Call
	call.Height = log.Index

	res := &Result{}
	switch cmd.Type {
	case CommandCreate:
		if cmd.Create == nil {
			res.Err = fmt.Errorf("%s: %w", cmd.Type, errMissingPayload)
			break
		}
		res.Address, res.Err = f.coll.Create(ctx, call, *cmd.Create)
	case CommandUpdateIndices:
		res.Entry, res.Err = f.coll.UpdateIndices(ctx, call, cmd.Address, cmd.Assignments)
	case CommandDelete:
		res.Deleted, res.Err = f.coll.Delete(ctx, call, cmd.Addresses)
	case CommandEnableACL:
		res.Err = f.coll.EnableACL(ctx, call)
	case CommandSetCodeIDs:
		res.Err = f.coll.SetAllowedCodeIDs(ctx, call, cmd.CodeIDs)
	case CommandRenameIndex:
		res.Err = f.coll.RenameIndex(ctx, call, cmd.Index, cmd.Name)
	case CommandExecute:
		if cmd.Execute == nil {
			res.Err = fmt.Errorf("%s: %w", cmd.Type, errMissingPayload)
			break
		}
		res.Dispatch, res.Err = f.coll.ExecuteBatch(ctx, call, *cmd.Execute)
	default:
		res.Err = fmt.Errorf("未知的命令类型: %s", cmd.Type)
	}
	return res
}

// kvPair 是快照流中的一条记录
type kvPair struct {
	Key   []byte `codec:"k"`
	Value []byte `codec:"v"`
}

type snapshotHeader struct {
	Version int    `codec:"version"`
	Count   uint64 `codec:"count"`
}

// Snapshot 复制引擎中的全部键值
// Raft 保证 Snapshot 与 Apply 不会并发执行，复制完成后 Persist 可以与 Apply 并发
func (f *CollectionFSM) Snapshot() (raft.FSMSnapshot, error) {
	var pairs []kvPair
	err := f.engine.Scan(storage.ScanOptions{}, func(key, value []byte) bool {
		pairs = append(pairs, kvPair{Key: bytes.Clone(key), Value: bytes.Clone(value)})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("扫描引擎失败: %w", err)
	}
	return &CollectionSnapshot{pairs: pairs}, nil
}

// Restore 用快照替换引擎中的全部内容
func (f *CollectionFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	dec := codec.NewDecoder(snapshot, msgpackHandle)
	var header snapshotHeader
	if err := dec.Decode(&header); err != nil {
		return fmt.Errorf("读取快照头失败: %w", err)
	}
	if header.Version != snapshotVersion {
		return fmt.Errorf("不支持的快照版本 %d", header.Version)
	}

	return f.coll.Exclusive(func() error {
		if err := f.clear(); err != nil {
			return err
		}
		batch := f.engine.NewBatch()
		for i := uint64(0); i < header.Count; i++ {
			var p kvPair
			if err := dec.Decode(&p); err != nil {
				return fmt.Errorf("读取快照第 %d 条失败: %w", i, err)
			}
			batch.Put(p.Key, p.Value)
			if batch.Len() >= restoreBatchSize {
				if err := batch.Commit(); err != nil {
					return err
				}
				batch = f.engine.NewBatch()
			}
		}
		if batch.Len() > 0 {
			if err := batch.Commit(); err != nil {
				return err
			}
		}
		f.logger.Info("已从快照恢复", "keys", header.Count)
		return nil
	})
}

// clear 删除引擎中的全部键
func (f *CollectionFSM) clear() error {
	var keys [][]byte
	err := f.engine.Scan(storage.ScanOptions{}, func(key, _ []byte) bool {
		keys = append(keys, bytes.Clone(key))
		return true
	})
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += restoreBatchSize {
		batch := f.engine.NewBatch()
		for _, k := range keys[start:min(start+restoreBatchSize, len(keys))] {
			batch.Delete(k)
		}
		if err := batch.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// CollectionSnapshot 实现 raft.FSMSnapshot
type CollectionSnapshot struct {
	pairs []kvPair
}

// Persist 把快照写入 sink，失败时取消 sink
func (s *CollectionSnapshot) Persist(sink raft.SnapshotSink) error {
	err := s.write(sink)
	if err != nil {
		return errors.Join(err, sink.Cancel())
	}
	return sink.Close()
}

func (s *CollectionSnapshot) write(w io.Writer) error {
	enc := codec.NewEncoder(w, msgpackHandle)
	if err := enc.Encode(&snapshotHeader{Version: snapshotVersion, Count: uint64(len(s.pairs))}); err != nil {
		return err
	}
	for i := range s.pairs {
		if err := enc.Encode(&s.pairs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Release 释放快照持有的数据
func (s *CollectionSnapshot) Release() {
	s.pairs = nil
}
