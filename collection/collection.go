// Package collection 实现带多个二级索引的子合约集合
//
// 全部状态保存在一个有序键值引擎中：集合根、条目记录、槽位元数据和索引键。
// 每次变更都在写缓冲中完成并作为一个批次提交，任一步失败都不会留下痕迹。
// 变更之间互斥，查询只读取已提交的状态。
package collection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/forever-free1/TideRepo/storage"
)

// Assignment 是对一个用户槽位的赋值
// Clear 为 true 时移除该槽位上的值
type Assignment struct {
	ID    IndexID
	Value Value
	Clear bool
}

// Set 构造一个赋值
func Set(id IndexID, v Value) Assignment {
	return Assignment{ID: id, Value: v}
}

// Clear 构造一个清除赋值
func Clear(id IndexID) Assignment {
	return Assignment{ID: id, Clear: true}
}

// CreateRequest 是创建条目的参数
type CreateRequest struct {
	// CodeID 为 0 时使用集合的默认 code id
	CodeID uint64
	Msg    []byte
	// Label 为空时使用集合的默认标签
	Label   string
	Admin   string
	Indices []Assignment
}

// DeleteResult 是批量删除中单个地址的结果
type DeleteResult struct {
	Address string
	Err     error
}

// Collection 是集合管理器
type Collection struct {
	mu       sync.RWMutex
	engine   storage.OrderedEngine
	host     ChildHost
	registry *Registry
	entries  *entryStore
	root     *Root
	options  *Options
	logger   hclog.Logger
}

// New 在引擎上打开集合，引擎中没有集合根时按选项初始化
//
// 参数：
//   - engine: 保存集合根、条目和索引的引擎
//   - host: 子合约宿主，为 nil 时 Create 和 ExecuteBatch 不可用
//   - opts: 初始化选项，集合根已存在时只有运行期选项生效
//
// 返回：
//   - *Collection: 集合实例
//   - error: 选项非法或集合根无法读写时返回错误
func New(engine storage.OrderedEngine, host ChildHost, opts ...Option) (*Collection, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.MaxLimit < 1 {
		return nil, fmt.Errorf("最大分页 %d 无效: %w", options.MaxLimit, ErrInvalidLimit)
	}
	if options.MaxSlots < 1 || options.MaxSlots > 256 {
		return nil, fmt.Errorf("槽位数量 %d 无效: %w", options.MaxSlots, ErrInvalidIndex)
	}
	if options.Parallelism < 1 {
		options.Parallelism = 1
	}

	entries, err := newEntryStore(engine, options.CacheSize)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		engine:   engine,
		host:     host,
		registry: newRegistry(engine, options.MaxSlots),
		entries:  entries,
		options:  options,
		logger:   options.Logger,
	}

	root, ok, err := loadRoot(engine)
	if err != nil {
		return nil, err
	}
	if !ok {
		if root, err = c.initialize(); err != nil {
			return nil, fmt.Errorf("初始化集合失败: %w", err)
		}
		c.logger.Info("集合已初始化", "admin", root.Admin)
	}
	c.root = root

	return c, nil
}

func (c *Collection) initialize() (*Root, error) {
	root := &Root{
		Admin:         c.options.Admin,
		DefaultLabel:  c.options.DefaultLabel,
		DefaultCodeID: c.options.DefaultCodeID,
		CodeIDs:       normalizeCodeIDs(c.options.CodeIDs),
	}
	tx := newTxn(c.engine)
	for id, name := range c.options.IndexNames {
		if err := c.registry.rename(tx, id, name); err != nil {
			return nil, err
		}
	}
	if err := saveRoot(tx, root); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return root, nil
}

// Registry 返回索引注册表
func (c *Collection) Registry() *Registry {
	return c.registry
}

// Exclusive 在持有写锁期间执行 fn，用于整体替换引擎内容
// fn 返回后重新加载集合根并清空缓存
func (c *Collection) Exclusive(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := fn(); err != nil {
		return err
	}
	c.entries.purge()
	root, ok, err := loadRoot(c.engine)
	if err != nil {
		return err
	}
	if !ok {
		if root, err = c.initialize(); err != nil {
			return err
		}
	}
	c.root = root
	return nil
}

// mutate 在写锁内执行 fn，成功时提交写缓冲并在解锁后通知监听者
func (c *Collection) mutate(op string, fn func(tx *txn, root *Root) ([]ChangeEvent, error)) error {
	c.mu.Lock()
	events, err := c.apply(fn)
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("变更已回滚", "op", op, "error", err)
		return err
	}
	c.logger.Debug("变更已提交", "op", op, "events", len(events))

	for _, ev := range events {
		for _, l := range c.options.Listeners {
			l(ev)
		}
	}
	return nil
}

func (c *Collection) apply(fn func(tx *txn, root *Root) ([]ChangeEvent, error)) ([]ChangeEvent, error) {
	tx := newTxn(c.engine)
	root := c.root.clone()

	events, err := fn(tx, root)
	if err != nil {
		return nil, err
	}
	if err := saveRoot(tx, root); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	c.entries.invalidate(tx.touched(prefixEntry))
	c.root = root
	return events, nil
}

// authorize 在 ACL 开启时询问 Gate
func (c *Collection) authorize(ctx context.Context, root *Root, call Call, action Action) error {
	if !root.ACLEnabled {
		return nil
	}
	if c.options.Gate == nil {
		return fmt.Errorf("%s 没有配置 ACL: %w", action, ErrUnauthorized)
	}
	ok, err := c.options.Gate.Allowed(ctx, call.Sender, action)
	if err != nil {
		return fmt.Errorf("ACL 检查失败: %w: %w", ErrUnauthorized, err)
	}
	if !ok {
		return fmt.Errorf("%s 不允许 %s: %w", call.Sender, action, ErrUnauthorized)
	}
	return nil
}

// authorizeAdmin 管理员总是允许，其他调用者需要 ACL 开启且 Gate 放行
func (c *Collection) authorizeAdmin(ctx context.Context, root *Root, call Call, action Action) error {
	if root.Admin != "" && call.Sender == root.Admin {
		return nil
	}
	if !root.ACLEnabled {
		return fmt.Errorf("%s 不是管理员: %w", call.Sender, ErrUnauthorized)
	}
	return c.authorize(ctx, root, call, action)
}

// validateAssignments 校验赋值并在需要时绑定槽位类型
// 同一个槽位出现多次时以最后一次为准
func (c *Collection) validateAssignments(tx *txn, assignments []Assignment) ([]Assignment, error) {
	seen := make(map[IndexID]int, len(assignments))
	out := make([]Assignment, 0, len(assignments))
	for _, a := range assignments {
		if a.Clear {
			if err := a.ID.validate(c.options.MaxSlots); err != nil {
				return nil, err
			}
			if a.ID.Builtin() {
				return nil, fmt.Errorf("内置索引 %s 不能清除: %w", a.ID, ErrInvalidIndex)
			}
		} else if err := c.registry.DeclareOrValidate(tx, a.ID, a.Value.Type); err != nil {
			return nil, err
		}

		if i, ok := seen[a.ID]; ok {
			out[i] = a
			continue
		}
		seen[a.ID] = len(out)
		out = append(out, a)
	}
	return out, nil
}

// Create 实例化子合约并登记为新条目，返回子合约地址
func (c *Collection) Create(ctx context.Context, call Call, req CreateRequest) (string, error) {
	var addr string
	err := c.mutate("create", func(tx *txn, root *Root) ([]ChangeEvent, error) {
		if err := c.authorize(ctx, root, call, ActionCreate); err != nil {
			return nil, err
		}

		codeID := req.CodeID
		if codeID == 0 {
			codeID = root.DefaultCodeID
		}
		if codeID == 0 || !root.allows(codeID) {
			return nil, fmt.Errorf("code id %d: %w", codeID, ErrCodeIDNotAllowed)
		}

		assignments, err := c.validateAssignments(tx, req.Indices)
		if err != nil {
			return nil, err
		}

		label := req.Label
		if label == "" {
			label = root.DefaultLabel
		}
		if c.host == nil {
			return nil, fmt.Errorf("没有子合约宿主: %w", ErrChildInstantiationFailed)
		}
		ireq := InstantiateRequest{
			CodeID: codeID,
			Msg:    req.Msg,
			Label:  label,
			Admin:  req.Admin,
		}
		var a string
		if sh, ok := c.host.(StagedInstantiator); ok {
			// 子合约的写入与条目在同一批次提交
			a, err = sh.InstantiateStaged(ctx, call, ireq, tx)
		} else {
			a, err = c.host.Instantiate(ctx, call, ireq)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrChildInstantiationFailed, err)
		}
		if a == "" {
			return nil, fmt.Errorf("子合约地址为空: %w", ErrChildInstantiationFailed)
		}

		exists, err := tx.has(entryKey(a))
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("条目 %s 已存在: %w", a, ErrDuplicateKey)
		}

		e := &Entry{
			Address:   a,
			CodeID:    codeID,
			CreatedAt: call.Time,
			UpdatedAt: call.Time,
			Height:    call.Height,
			CreatedBy: call.Sender,
			Label:     label,
			Values:    make(map[IndexID]Value, len(assignments)),
		}
		for _, as := range assignments {
			if !as.Clear {
				e.Values[as.ID] = as.Value
			}
		}
		for id, cur := range e.keys() {
			if err := c.registry.insert(tx, id, cur, call.Time); err != nil {
				return nil, err
			}
		}
		if err := c.entries.put(tx, e); err != nil {
			return nil, err
		}
		root.Count++

		addr = a
		return []ChangeEvent{{Type: ChangeCreated, Address: a, Time: call.Time}}, nil
	})
	if err != nil {
		return "", err
	}
	return addr, nil
}

// UpdateIndices 修改条目的槽位值
// 不管有几个赋值，revision 恰好加一，updated_at 设为调用时间
func (c *Collection) UpdateIndices(ctx context.Context, call Call, addr string, assignments []Assignment) (*Entry, error) {
	var updated *Entry
	err := c.mutate("update_indices", func(tx *txn, root *Root) ([]ChangeEvent, error) {
		e, err := c.entries.get(tx, addr)
		if err != nil {
			return nil, err
		}
		// 子合约可以更新自己的索引
		if call.Sender != addr {
			if err := c.authorize(ctx, root, call, ActionUpdate); err != nil {
				return nil, err
			}
		}

		assignments, err := c.validateAssignments(tx, assignments)
		if err != nil {
			return nil, err
		}

		for _, as := range assignments {
			if old, ok := e.Values[as.ID]; ok {
				if err := c.registry.remove(tx, as.ID, Cursor{Value: old, Address: addr}, call.Time); err != nil {
					return nil, err
				}
				delete(e.Values, as.ID)
			}
			if as.Clear {
				continue
			}
			if err := c.registry.insert(tx, as.ID, Cursor{Value: as.Value, Address: addr}, call.Time); err != nil {
				return nil, err
			}
			e.Values[as.ID] = as.Value
		}

		for _, id := range []IndexID{IndexUpdatedAt, IndexRevision} {
			if err := c.registry.remove(tx, id, Cursor{Value: e.builtinValue(id.Kind), Address: addr}, call.Time); err != nil {
				return nil, err
			}
		}
		// updated_at 不回退
		e.UpdatedAt = max(e.UpdatedAt, call.Time)
		e.Revision++
		for _, id := range []IndexID{IndexUpdatedAt, IndexRevision} {
			if err := c.registry.insert(tx, id, Cursor{Value: e.builtinValue(id.Kind), Address: addr}, call.Time); err != nil {
				return nil, err
			}
		}
		if err := c.entries.put(tx, e); err != nil {
			return nil, err
		}

		updated = e
		return []ChangeEvent{{Type: ChangeUpdated, Address: addr, Revision: e.Revision, Time: e.UpdatedAt}}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete 批量删除条目，不调用子合约
// ACL 失败时整体失败；单个地址不存在只记录在结果里，其余地址照常删除
func (c *Collection) Delete(ctx context.Context, call Call, addrs []string) ([]DeleteResult, error) {
	results := make([]DeleteResult, len(addrs))
	err := c.mutate("delete", func(tx *txn, root *Root) ([]ChangeEvent, error) {
		if err := c.authorize(ctx, root, call, ActionDelete); err != nil {
			return nil, err
		}

		var events []ChangeEvent
		for i, addr := range addrs {
			results[i] = DeleteResult{Address: addr}

			e, err := c.entries.get(tx, addr)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					results[i].Err = err
					continue
				}
				return nil, err
			}
			for id, cur := range e.keys() {
				if err := c.registry.remove(tx, id, cur, call.Time); err != nil {
					return nil, err
				}
			}
			c.entries.delete(tx, addr)
			root.Count--
			events = append(events, ChangeEvent{Type: ChangeDeleted, Address: addr, Revision: e.Revision, Time: call.Time})
		}

		if failed := len(addrs) - len(events); failed > 0 {
			c.logger.Warn("部分条目删除失败", "requested", len(addrs), "failed", failed)
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// EnableACL 开启 ACL，只有管理员可以调用，开启后不可关闭
func (c *Collection) EnableACL(ctx context.Context, call Call) error {
	return c.mutate("enable_acl", func(_ *txn, root *Root) ([]ChangeEvent, error) {
		if root.Admin == "" || call.Sender != root.Admin {
			return nil, fmt.Errorf("%s 不是管理员: %w", call.Sender, ErrUnauthorized)
		}
		if root.ACLEnabled {
			return nil, ErrAlreadyEnabled
		}
		root.ACLEnabled = true
		c.logger.Info("ACL 已开启", "by", call.Sender)
		return nil, nil
	})
}

// SetAllowedCodeIDs 替换允许实例化的 code id 列表，空列表表示不限
func (c *Collection) SetAllowedCodeIDs(ctx context.Context, call Call, ids []uint64) error {
	return c.mutate("set_code_ids", func(_ *txn, root *Root) ([]ChangeEvent, error) {
		if err := c.authorizeAdmin(ctx, root, call, ActionSetCodeIDs); err != nil {
			return nil, err
		}
		root.CodeIDs = normalizeCodeIDs(ids)
		return nil, nil
	})
}

// RenameIndex 设置用户槽位的显示名称
func (c *Collection) RenameIndex(ctx context.Context, call Call, id IndexID, name string) error {
	return c.mutate("rename_index", func(tx *txn, root *Root) ([]ChangeEvent, error) {
		if err := c.authorizeAdmin(ctx, root, call, ActionRenameIndex); err != nil {
			return nil, err
		}
		return nil, c.registry.rename(tx, id, name)
	})
}

func normalizeCodeIDs(ids []uint64) []uint64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
