package host

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/forever-free1/TideRepo/collection"
)

// Echo 原样返回收到的消息，没有状态
type Echo struct{}

func (Echo) Init(context.Context, collection.Call, []byte) ([]byte, error) {
	return nil, nil
}

func (Echo) Handle(_ context.Context, _ collection.Call, state, msg []byte) ([]byte, []byte, error) {
	return state, msg, nil
}

func (Echo) Query(_ context.Context, state []byte, _ collection.StateQuery) ([]byte, error) {
	return state, nil
}

// Counter 统计收到的消息数，响应为当前计数的十进制文本
// 初始化消息为 "fail" 时拒绝实例化；状态视图是 {"count":N}
type Counter struct{}

var (
	errRefused      = errors.New("counter: init refused")
	errUnknownField = errors.New("counter: unknown field")
)

func (Counter) Init(_ context.Context, _ collection.Call, msg []byte) ([]byte, error) {
	if string(msg) == "fail" {
		return nil, errRefused
	}
	return binary.BigEndian.AppendUint64(nil, 0), nil
}

func (Counter) Handle(_ context.Context, _ collection.Call, state, _ []byte) ([]byte, []byte, error) {
	n := counterValue(state) + 1
	return binary.BigEndian.AppendUint64(nil, n), []byte(strconv.FormatUint(n, 10)), nil
}

func (Counter) Query(_ context.Context, state []byte, q collection.StateQuery) ([]byte, error) {
	for _, f := range q.Fields {
		if f != "count" {
			return nil, fmt.Errorf("字段 %q: %w", f, errUnknownField)
		}
	}
	out := append([]byte(`{"count":`), strconv.FormatUint(counterValue(state), 10)...)
	return append(out, '}'), nil
}

func counterValue(state []byte) uint64 {
	if len(state) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(state)
}
