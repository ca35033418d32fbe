// Package host 是进程内的子合约运行时
//
// 子合约实例和地址序号保存在集合使用的同一个键值引擎里（H 前缀），
// 因此会随 raft 快照一起复制，各副本分配出的地址一致。
package host

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/storage"
)

var (
	// ErrUnknownCode 表示 code id 没有注册
	ErrUnknownCode = errors.New("unknown code id")
	// ErrNoInstance 表示地址上没有子合约
	ErrNoInstance = errors.New("no instance at address")
	// ErrAddressInUse 表示计算出的地址已被占用
	ErrAddressInUse = errors.New("address already in use")
)

const (
	prefixHost     byte = 'H'
	prefixInstance byte = 'i'
	keySequence    byte = 's'

	lockStripes = 64
)

// Code 是一份可实例化的子合约代码
type Code interface {
	// Init 返回新实例的初始状态
	Init(ctx context.Context, call collection.Call, msg []byte) ([]byte, error)
	// Handle 处理一条消息，返回新状态和响应
	Handle(ctx context.Context, call collection.Call, state, msg []byte) (newState, resp []byte, err error)
	// Query 返回状态的只读视图，q.Fields 为空表示全部字段
	Query(ctx context.Context, state []byte, q collection.StateQuery) ([]byte, error)
}

// Instance 是一个子合约实例
type Instance struct {
	Address string `codec:"a"`
	CodeID  uint64 `codec:"c"`
	Label   string `codec:"l"`
	Admin   string `codec:"ad"`
	Creator string `codec:"cr"`
	State   []byte `codec:"s"`
}

// Options 是宿主的配置
type Options struct {
	AddressPrefix string
	Logger        hclog.Logger
}

// Option 是配置函数
type Option func(*Options)

// WithAddressPrefix 设置子合约地址前缀
func WithAddressPrefix(prefix string) Option {
	return func(o *Options) {
		o.AddressPrefix = prefix
	}
}

// WithLogger 设置日志
func WithLogger(logger hclog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Host 管理代码注册表和子合约实例
type Host struct {
	engine  storage.OrderedEngine
	options Options
	logger  hclog.Logger

	codesMu sync.RWMutex
	codes   map[uint64]Code

	// seqMu 保护独立调用 Instantiate 时的地址序号
	// InstantiateStaged 的调用方自己负责串行
	seqMu sync.Mutex
	// 按地址分段加锁，同一地址的消息串行执行
	stripes [lockStripes]sync.Mutex
}

var (
	_ collection.ChildHost          = (*Host)(nil)
	_ collection.StagedInstantiator = (*Host)(nil)
)

var msgpackHandle = &codec.MsgpackHandle{}

// New 创建宿主
func New(engine storage.OrderedEngine, opts ...Option) *Host {
	options := Options{AddressPrefix: "child1", Logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(&options)
	}
	return &Host{
		engine:  engine,
		options: options,
		logger:  options.Logger,
		codes:   make(map[uint64]Code),
	}
}

// Register 注册一份代码，已存在时覆盖
func (h *Host) Register(codeID uint64, code Code) {
	h.codesMu.Lock()
	defer h.codesMu.Unlock()
	h.codes[codeID] = code
}

func (h *Host) code(codeID uint64) (Code, error) {
	h.codesMu.RLock()
	defer h.codesMu.RUnlock()
	code, ok := h.codes[codeID]
	if !ok {
		return nil, fmt.Errorf("code id %d: %w", codeID, ErrUnknownCode)
	}
	return code, nil
}

// Instantiate 创建子合约实例并立即提交
// 序号与实例在同一批次中写入
func (h *Host) Instantiate(ctx context.Context, call collection.Call, req collection.InstantiateRequest) (string, error) {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()

	st := newWriteStage(h.engine)
	addr, err := h.InstantiateStaged(ctx, call, req, st)
	if err != nil {
		return "", err
	}
	if err := st.commit(); err != nil {
		return "", fmt.Errorf("保存子合约失败: %w", err)
	}
	return addr, nil
}

// InstantiateStaged 创建子合约实例，只把实例和新序号写入 st
//
// 地址由 (code id, label, 序号) 的 xxhash 决定。序号从 st 读取，
// 因此同一个 st 中连续实例化会得到不同地址。
//
// 参数：
//   - ctx: 传给子合约 Init 的上下文
//   - call: 调用环境，Sender 记为实例的创建者
//   - req: 实例化参数
//   - st: 写缓冲，由调用方提交或丢弃
//
// 返回：
//   - string: 新实例的地址
//   - error: code id 未注册、地址被占用或 Init 失败时返回错误，此时 st 不会被修改
func (h *Host) InstantiateStaged(ctx context.Context, call collection.Call, req collection.InstantiateRequest, st collection.Stage) (string, error) {
	code, err := h.code(req.CodeID)
	if err != nil {
		return "", err
	}

	seq, err := sequence(st)
	if err != nil {
		return "", err
	}
	addr := h.address(req.CodeID, req.Label, seq)
	if _, err := st.Get(instanceKey(addr)); err == nil {
		return "", fmt.Errorf("%s: %w", addr, ErrAddressInUse)
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return "", err
	}

	state, err := code.Init(ctx, call, req.Msg)
	if err != nil {
		return "", fmt.Errorf("初始化子合约失败: %w", err)
	}

	inst := &Instance{
		Address: addr,
		CodeID:  req.CodeID,
		Label:   req.Label,
		Admin:   req.Admin,
		Creator: call.Sender,
		State:   state,
	}
	data, err := encode(inst)
	if err != nil {
		return "", err
	}
	st.Put(instanceKey(addr), data)
	st.Put(sequenceKey(), binary.BigEndian.AppendUint64(nil, seq+1))

	h.logger.Debug("子合约已实例化", "address", addr, "code_id", req.CodeID)
	return addr, nil
}

// Execute 把消息交给子合约处理并保存新状态
func (h *Host) Execute(ctx context.Context, call collection.Call, addr string, msg []byte) ([]byte, error) {
	mu := &h.stripes[xxhash.Sum64String(addr)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	inst, err := h.Instance(addr)
	if err != nil {
		return nil, err
	}
	code, err := h.code(inst.CodeID)
	if err != nil {
		return nil, err
	}

	state, resp, err := code.Handle(ctx, call, inst.State, msg)
	if err != nil {
		return nil, err
	}
	inst.State = state
	data, err := encode(inst)
	if err != nil {
		return nil, err
	}
	if err := h.engine.Put(instanceKey(addr), data); err != nil {
		return nil, fmt.Errorf("保存子合约状态失败: %w", err)
	}
	return resp, nil
}

// Query 按字段读取子合约状态
// 与 Execute 使用同一把分段锁，不会读到处理到一半的状态
func (h *Host) Query(ctx context.Context, addr string, q collection.StateQuery) ([]byte, error) {
	mu := &h.stripes[xxhash.Sum64String(addr)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	inst, err := h.Instance(addr)
	if err != nil {
		return nil, err
	}
	code, err := h.code(inst.CodeID)
	if err != nil {
		return nil, err
	}
	return code.Query(ctx, inst.State, q)
}

// Instance 返回地址上的子合约实例
func (h *Host) Instance(addr string) (*Instance, error) {
	data, err := h.engine.Get(instanceKey(addr))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("%s: %w", addr, ErrNoInstance)
		}
		return nil, err
	}
	var inst Instance
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(&inst); err != nil {
		return nil, fmt.Errorf("解码子合约失败: %w", err)
	}
	return &inst, nil
}

func sequence(st collection.Stage) (uint64, error) {
	data, err := st.Get(sequenceKey())
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("地址序号长度 %d 无效", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (h *Host) address(codeID uint64, label string, seq uint64) string {
	d := xxhash.New()
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], codeID)
	binary.BigEndian.PutUint64(buf[8:], seq)
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(label)
	return h.options.AddressPrefix + hex.EncodeToString(d.Sum(nil))
}

func instanceKey(addr string) []byte {
	key := make([]byte, 0, 2+len(addr))
	key = append(key, prefixHost, prefixInstance)
	return append(key, addr...)
}

func sequenceKey() []byte {
	return []byte{prefixHost, keySequence}
}

func encode(inst *Instance) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, msgpackHandle).Encode(inst); err != nil {
		return nil, fmt.Errorf("编码子合约失败: %w", err)
	}
	return buf, nil
}
