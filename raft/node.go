package raft

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"

	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/storage"
)

// ErrNotLeader 表示当前节点不是 leader，写请求需要发往 leader
var ErrNotLeader = raft.ErrNotLeader

const defaultApplyTimeout = 5 * time.Second

// NodeConfig 定义 Raft 节点的配置
type NodeConfig struct {
	// 节点 ID
	NodeID raft.ServerID

	// 监听地址
	BindAddr string

	// 数据目录（用于存储快照）
	DataDir string

	// 集群配置
	Bootstrap bool          // 是否引导集群
	Peers     []raft.Server // 初始集群节点

	// InMemory 使用内存传输层和快照存储，并缩短选举超时，用于单进程测试
	InMemory bool

	// ApplyTimeout 是等待日志提交的超时，为 0 时使用 5 秒
	ApplyTimeout time.Duration

	Logger hclog.Logger
}

// Node 把集合的变更串行化到 Raft 日志，读请求直接访问本地集合
type Node struct {
	raft      *raft.Raft
	fsm       *CollectionFSM
	coll      *collection.Collection
	engine    storage.OrderedEngine
	transport raft.Transport
	config    *NodeConfig
	logger    hclog.Logger
}

// NewNode 创建新的 Raft 节点
// engine 同时承载集合和子合约宿主的状态，coll 必须建立在 engine 之上
func NewNode(engine storage.OrderedEngine, coll *collection.Collection, config *NodeConfig) (*Node, error) {
	logger := config.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if config.ApplyTimeout == 0 {
		config.ApplyTimeout = defaultApplyTimeout
	}

	fsm := NewCollectionFSM(engine, coll, logger.Named("fsm"))

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = config.NodeID
	raftConfig.Logger = logger.Named("raft")

	// 日志和稳定存储使用内存实现，重启后依靠快照和其他节点追赶
	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()

	var (
		snapshots raft.SnapshotStore
		transport raft.Transport
		bindAddr  = raft.ServerAddress(config.BindAddr)
	)
	if config.InMemory {
		raftConfig.HeartbeatTimeout = 50 * time.Millisecond
		raftConfig.ElectionTimeout = 50 * time.Millisecond
		raftConfig.LeaderLeaseTimeout = 50 * time.Millisecond
		raftConfig.CommitTimeout = 5 * time.Millisecond

		snapshots = raft.NewInmemSnapshotStore()
		bindAddr, transport = raft.NewInmemTransport(bindAddr)
	} else {
		dir := filepath.Join(config.DataDir, "raft-snapshots")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建快照目录失败: %w", err)
		}
		fileSnapshots, err := raft.NewFileSnapshotStoreWithLogger(dir, 3, logger.Named("snapshots"))
		if err != nil {
			return nil, fmt.Errorf("创建快照存储失败: %w", err)
		}
		snapshots = fileSnapshots

		tcp, err := raft.NewTCPTransportWithLogger(config.BindAddr, nil, 3, 10*time.Second, logger.Named("transport"))
		if err != nil {
			return nil, fmt.Errorf("创建传输层失败: %w", err)
		}
		transport = tcp
	}

	ra, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("创建 Raft 实例失败: %w", err)
	}

	if config.Bootstrap {
		peers := config.Peers
		if len(peers) == 0 {
			peers = []raft.Server{{ID: config.NodeID, Address: bindAddr}}
		}
		if err := ra.BootstrapCluster(raft.Configuration{Servers: peers}).Error(); err != nil &&
			!errors.Is(err, raft.ErrCantBootstrap) {
			return nil, fmt.Errorf("引导集群失败: %w", err)
		}
	}

	return &Node{
		raft:      ra,
		fsm:       fsm,
		coll:      coll,
		engine:    engine,
		transport: transport,
		config:    config,
		logger:    logger,
	}, nil
}

// apply 提交命令并等待本节点应用
func (n *Node) apply(cmd *Command) (*Result, error) {
	data, err := encodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	future := n.raft.Apply(data, n.config.ApplyTimeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("提交到 Raft 失败: %w", err)
	}
	res, ok := future.Response().(*Result)
	if !ok {
		return nil, fmt.Errorf("未知的应用结果 %T", future.Response())
	}
	return res, res.Err
}

// Create 通过日志创建条目
func (n *Node) Create(_ context.Context, call collection.Call, req collection.CreateRequest) (string, error) {
	res, err := n.apply(&Command{Type: CommandCreate, Call: call, Create: &req})
	if err != nil {
		return "", err
	}
	return res.Address, nil
}

// UpdateIndices 通过日志更新条目的索引值
func (n *Node) UpdateIndices(_ context.Context, call collection.Call, addr string, assignments []collection.Assignment) (*collection.Entry, error) {
	res, err := n.apply(&Command{Type: CommandUpdateIndices, Call: call, Address: addr, Assignments: assignments})
	if err != nil {
		return nil, err
	}
	return res.Entry, nil
}

// Delete 通过日志批量删除条目
func (n *Node) Delete(_ context.Context, call collection.Call, addrs []string) ([]collection.DeleteResult, error) {
	res, err := n.apply(&Command{Type: CommandDelete, Call: call, Addresses: addrs})
	if err != nil {
		return nil, err
	}
	return res.Deleted, nil
}

// EnableACL 通过日志开启 ACL
func (n *Node) EnableACL(_ context.Context, call collection.Call) error {
	_, err := n.apply(&Command{Type: CommandEnableACL, Call: call})
	return err
}

// SetAllowedCodeIDs 通过日志替换允许的 code id
func (n *Node) SetAllowedCodeIDs(_ context.Context, call collection.Call, ids []uint64) error {
	_, err := n.apply(&Command{Type: CommandSetCodeIDs, Call: call, CodeIDs: ids})
	return err
}

// RenameIndex 通过日志重命名槽位
func (n *Node) RenameIndex(_ context.Context, call collection.Call, id collection.IndexID, name string) error {
	_, err := n.apply(&Command{Type: CommandRenameIndex, Call: call, Index: id, Name: name})
	return err
}

// ExecuteBatch 通过日志转发消息，子合约状态在每个副本上一致地变化
func (n *Node) ExecuteBatch(_ context.Context, call collection.Call, req collection.ExecuteRequest) ([]collection.DispatchResult, error) {
	res, err := n.apply(&Command{Type: CommandExecute, Call: call, Execute: &req})
	if err != nil {
		return nil, err
	}
	return res.Dispatch, nil
}

// Count 读取本地集合
func (n *Node) Count(ctx context.Context) uint64 {
	return n.coll.Count(ctx)
}

// Read 读取本地集合
func (n *Node) Read(ctx context.Context, req collection.ReadRequest) (*collection.Page, error) {
	return n.coll.Read(ctx, req)
}

// Select 读取本地集合
func (n *Node) Select(ctx context.Context, fields []string, since *collection.Since) ([]collection.Row, error) {
	return n.coll.Select(ctx, fields, since)
}

// Values 读取本地集合
func (n *Node) Values(ctx context.Context, addr string) (map[collection.IndexID]collection.Value, error) {
	return n.coll.Values(ctx, addr)
}

// Describe 读取本地集合
func (n *Node) Describe(ctx context.Context, fields []string) (*collection.Info, error) {
	return n.coll.Describe(ctx, fields)
}

// ==================== 集群管理 ====================

// AddPeer 添加节点到集群
func (n *Node) AddPeer(id raft.ServerID, address string) error {
	future := n.raft.AddVoter(id, raft.ServerAddress(address), 0, 0)
	return future.Error()
}

// RemovePeer 从集群移除节点
func (n *Node) RemovePeer(id raft.ServerID) error {
	future := n.raft.RemoveServer(id, 0, 0)
	return future.Error()
}

// GetLeader 获取当前 Leader 节点信息
func (n *Node) GetLeader() (raft.ServerAddress, bool) {
	leader := n.raft.Leader()
	return leader, leader != ""
}

// IsLeader 判断当前节点是否为 Leader
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// WaitLeader 等待集群选出 leader
func (n *Node) WaitLeader(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, ok := n.GetLeader(); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetPeers 获取集群中的所有节点
func (n *Node) GetPeers() []raft.ServerID {
	config := n.raft.GetConfiguration()
	if err := config.Error(); err != nil {
		return nil
	}

	var peers []raft.ServerID
	for _, server := range config.Configuration().Servers {
		peers = append(peers, server.ID)
	}
	return peers
}

// Snapshot 创建快照，压缩 Raft 日志
func (n *Node) Snapshot() error {
	return n.raft.Snapshot().Error()
}

// Close 关闭 Raft 节点，存储引擎由调用方关闭
func (n *Node) Close() error {
	if err := n.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("关闭 Raft 失败: %w", err)
	}
	if closer, ok := n.transport.(raft.WithClose); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("关闭传输层失败: %w", err)
		}
	}
	return nil
}
