package collection

import (
	"context"
	"errors"
)

var errNoHost = errors.New("no child host configured")

// Call 是宿主为每个请求提供的环境：调用者、区块时间（Unix 纳秒）和高度
type Call struct {
	Sender string
	Time   uint64
	Height uint64
}

// Action 是 ACL 检查的动作名
type Action string

const (
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionExecute     Action = "execute"
	ActionSetCodeIDs  Action = "set_code_ids"
	ActionRenameIndex Action = "rename_index"
)

// Gate 是外部的访问控制检查
type Gate interface {
	Allowed(ctx context.Context, sender string, action Action) (bool, error)
}

// InstantiateRequest 是实例化子合约所需的参数
type InstantiateRequest struct {
	CodeID uint64
	Msg    []byte
	Label  string
	Admin  string
}

// Instantiator 负责创建子合约并返回其地址
type Instantiator interface {
	Instantiate(ctx context.Context, call Call, req InstantiateRequest) (string, error)
}

// Stage 是一次变更的写缓冲，读取能看到尚未提交的写入
type Stage interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte)
	Delete(key []byte)
}

// StagedInstantiator 把实例化产生的写入放进调用方的写缓冲
// 宿主实现它时，Create 失败不会留下孤立的子合约
type StagedInstantiator interface {
	InstantiateStaged(ctx context.Context, call Call, req InstantiateRequest, st Stage) (string, error)
}

// Dispatcher 把消息转发给一个子合约
type Dispatcher interface {
	Execute(ctx context.Context, call Call, address string, msg []byte) ([]byte, error)
}

// StateQuery 是读取子合约状态的参数
// Fields 为空表示返回全部字段；Wallet 非空时子合约按该钱包视角返回
type StateQuery struct {
	Fields []string
	Wallet string
}

// Querier 读取子合约的状态
type Querier interface {
	Query(ctx context.Context, address string, q StateQuery) ([]byte, error)
}

// ChildHost 提供实例化、消息转发和状态查询
type ChildHost interface {
	Instantiator
	Dispatcher
	Querier
}

// ChangeType 是条目变更的类型
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// ChangeEvent 在变更提交之后发出
type ChangeEvent struct {
	Type     ChangeType `json:"type"`
	Address  string     `json:"address"`
	Revision uint64     `json:"revision"`
	Time     uint64     `json:"time"`
}

// Listener 接收变更事件，不应阻塞
type Listener func(ChangeEvent)
