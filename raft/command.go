package raft

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/forever-free1/TideRepo/collection"
)

// CommandType 是复制日志中的命令类型
type CommandType string

const (
	CommandCreate        CommandType = "create"
	CommandUpdateIndices CommandType = "update_indices"
	CommandDelete        CommandType = "delete"
	CommandEnableACL     CommandType = "enable_acl"
	CommandSetCodeIDs    CommandType = "set_code_ids"
	CommandRenameIndex   CommandType = "rename_index"
	// CommandExecute 会修改子合约状态，因此同样经过日志
	CommandExecute CommandType = "execute"
)

// Command 是一次集合变更，作为 Raft 日志的 payload
// Call 由 leader 在提交前填好，Height 在应用时取日志索引
type Command struct {
	Type CommandType     `codec:"type"`
	Call collection.Call `codec:"call"`

	Create      *collection.CreateRequest  `codec:"create,omitempty"`
	Execute     *collection.ExecuteRequest `codec:"execute,omitempty"`
	Address     string                     `codec:"address,omitempty"`
	Assignments []collection.Assignment    `codec:"assignments,omitempty"`
	Addresses   []string                   `codec:"addresses,omitempty"`
	CodeIDs     []uint64                   `codec:"code_ids,omitempty"`
	Index       collection.IndexID         `codec:"index,omitempty"`
	Name        string                     `codec:"name,omitempty"`
}

// Result 是 FSM 应用一条命令的结果，经由 ApplyFuture.Response 返回
type Result struct {
	Address  string
	Entry    *collection.Entry
	Deleted  []collection.DeleteResult
	Dispatch []collection.DispatchResult
	Err      error
}

var msgpackHandle = &codec.MsgpackHandle{}

// encodeCommand 将 Command 编码为字节数组
func encodeCommand(cmd *Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, msgpackHandle).Encode(cmd); err != nil {
		return nil, fmt.Errorf("编码命令失败: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeCommand 从字节数组解码 Command
func decodeCommand(data []byte, cmd *Command) error {
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(cmd); err != nil {
		return fmt.Errorf("解码命令失败: %w", err)
	}
	return nil
}
