package collection

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
)

// SinceKind 区分按 revision 还是按 updated_at 过滤
type SinceKind uint8

const (
	SinceRevision SinceKind = iota + 1
	SinceTime
)

// Since 只保留 revision 或 updated_at 不小于 Value 的条目
type Since struct {
	Kind  SinceKind
	Value uint64
}

// Match 判断条目是否满足过滤条件，nil 总是满足
func (s *Since) Match(e *Entry) bool {
	if s == nil {
		return true
	}
	switch s.Kind {
	case SinceRevision:
		return e.Revision >= s.Value
	case SinceTime:
		return e.UpdatedAt >= s.Value
	default:
		return true
	}
}

// Filter 描述要遍历的索引和过滤条件
type Filter struct {
	Index  IndexID
	Desc   bool
	Since  *Since
	Equals *Value
	Range  *Range
}

// ReadRequest 是分页读取的参数
type ReadRequest struct {
	Filter
	Cursor *Cursor
	Limit  int
	// Meta 为 true 时返回完整条目
	Meta bool
	// State 非空时向每个子合约查询状态
	State *StateQuery
}

// Record 是读取结果中的一项
type Record struct {
	Address string
	Meta    *Entry
	State   []byte
}

// Page 是一页结果，Next 为空表示已经读完
type Page struct {
	Entries []Record
	Next    *Cursor
}

// ExecuteRequest 是批量转发的参数
type ExecuteRequest struct {
	Filter
	Msg []byte
}

// DispatchResult 是单个子合约的转发结果
type DispatchResult struct {
	Address  string
	Response []byte
	Err      error
}

// Row 是 Select 投影出的一行，键为字段名
type Row map[string]any

// 可投影的字段
const (
	FieldAddress   = "address"
	FieldCodeID    = "code_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldRevision  = "revision"
	FieldHeight    = "height"
	FieldCreatedBy = "created_by"
	FieldLabel     = "label"
	FieldValues    = "values"
)

var selectFields = []string{
	FieldAddress, FieldCodeID, FieldCreatedAt, FieldUpdatedAt, FieldRevision,
	FieldHeight, FieldCreatedBy, FieldLabel, FieldValues,
}

// Count 返回条目总数
func (c *Collection) Count(_ context.Context) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root.Count
}

// walk 沿索引遍历满足过滤条件的键
// 需要条目（since 过滤或 withEntry）时从条目存储加载
func (c *Collection) walk(ctx context.Context, f Filter, after *Cursor, withEntry bool, fn func(Cursor, *Entry) (bool, error)) error {
	ix, err := c.registry.Get(f.Index)
	if err != nil {
		return err
	}
	opts := ScanOptions{Desc: f.Desc, Equals: f.Equals, Range: f.Range, After: after}
	return ix.Scan(opts, func(cur Cursor) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		var e *Entry
		if withEntry || f.Since != nil {
			var err error
			if e, err = c.entries.load(cur.Address); err != nil {
				return false, fmt.Errorf("索引 %s 指向的条目无法读取: %w", f.Index, err)
			}
			if !f.Since.Match(e) {
				return true, nil
			}
		}
		return fn(cur, e)
	})
}

// Read 沿索引读取一页
// 被 since 过滤掉的条目不计入 limit；Next 是本页最后一个键，遍历耗尽时为空
// 请求了状态时，在释放读锁之后并发查询本页的子合约，任何一个失败则整页失败
//
// 参数：
//   - ctx: 取消遍历和状态查询
//   - req: 索引、过滤条件、游标和 limit，limit 必须在 [1, MaxLimit] 内
//
// 返回：
//   - *Page: 本页结果和下一页游标
//   - error: ErrInvalidLimit、ErrTypeMismatch、ErrIndexNotFound 或 ErrQueryState
func (c *Collection) Read(ctx context.Context, req ReadRequest) (*Page, error) {
	if req.Limit <= 0 || req.Limit > c.options.MaxLimit {
		return nil, fmt.Errorf("limit %d 超出 [1, %d]: %w", req.Limit, c.options.MaxLimit, ErrInvalidLimit)
	}

	page, err := c.readPage(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.State == nil || len(page.Entries) == 0 {
		return page, nil
	}
	if c.host == nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryState, errNoHost)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.options.Parallelism)
	for i := range page.Entries {
		rec := &page.Entries[i]
		g.Go(func() error {
			state, err := c.host.Query(gctx, rec.Address, *req.State)
			if err != nil {
				return fmt.Errorf("查询子合约 %s 的状态: %w: %w", rec.Address, ErrQueryState, err)
			}
			rec.State = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Collection) readPage(ctx context.Context, req ReadRequest) (*Page, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	page := &Page{}
	var (
		last Cursor
		more bool
	)
	err := c.walk(ctx, req.Filter, req.Cursor, req.Meta, func(cur Cursor, e *Entry) (bool, error) {
		if len(page.Entries) == req.Limit {
			// 还有满足条件的条目，本页需要返回游标
			more = true
			return false, nil
		}
		rec := Record{Address: cur.Address}
		if req.Meta {
			rec.Meta = e.Clone()
		}
		page.Entries = append(page.Entries, rec)
		last = cur
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if more {
		page.Next = &last
	}
	return page, nil
}

// ExecuteBatch 把消息转发给所有匹配的子合约
// 匹配方式与 Read 相同但不分页；单个子合约失败不影响其他子合约，结果按遍历顺序返回
func (c *Collection) ExecuteBatch(ctx context.Context, call Call, req ExecuteRequest) ([]DispatchResult, error) {
	c.mu.RLock()
	err := c.authorize(ctx, c.root, call, ActionExecute)
	var targets []string
	if err == nil {
		err = c.walk(ctx, req.Filter, nil, false, func(cur Cursor, _ *Entry) (bool, error) {
			targets = append(targets, cur.Address)
			return true, nil
		})
	}
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if c.host == nil && len(targets) > 0 {
		return nil, errNoHost
	}

	results := make([]DispatchResult, len(targets))
	var g errgroup.Group
	g.SetLimit(c.options.Parallelism)
	for i, addr := range targets {
		g.Go(func() error {
			resp, err := c.host.Execute(ctx, call, addr, req.Msg)
			results[i] = DispatchResult{Address: addr, Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		c.logger.Warn("部分子合约转发失败", "targets", len(targets), "failed", failed)
	}
	return results, nil
}

// Select 按地址顺序导出全部条目的投影，不分页
// fields 为空时只返回地址
func (c *Collection) Select(ctx context.Context, fields []string, since *Since) ([]Row, error) {
	for _, f := range fields {
		if !slices.Contains(selectFields, f) {
			return nil, fmt.Errorf("字段 %q: %w", f, ErrInvalidField)
		}
	}
	if len(fields) == 0 {
		fields = []string{FieldAddress}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var rows []Row
	err := c.entries.scan(func(e *Entry) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if since.Match(e) {
			rows = append(rows, project(e, fields))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func project(e *Entry, fields []string) Row {
	row := make(Row, len(fields))
	for _, f := range fields {
		switch f {
		case FieldAddress:
			row[f] = e.Address
		case FieldCodeID:
			row[f] = e.CodeID
		case FieldCreatedAt:
			row[f] = e.CreatedAt
		case FieldUpdatedAt:
			row[f] = e.UpdatedAt
		case FieldRevision:
			row[f] = e.Revision
		case FieldHeight:
			row[f] = e.Height
		case FieldCreatedBy:
			row[f] = e.CreatedBy
		case FieldLabel:
			row[f] = e.Label
		case FieldValues:
			values := make(map[string]string, len(e.Values))
			for id, v := range e.Values {
				values[id.String()] = v.String()
			}
			row[f] = values
		}
	}
	return row
}

// Values 返回一个条目在用户槽位上的值
func (c *Collection) Values(_ context.Context, addr string) (map[IndexID]Value, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.entries.load(addr)
	if err != nil {
		return nil, err
	}
	return e.Clone().Values, nil
}

// Get 返回一个条目的副本
func (c *Collection) Get(_ context.Context, addr string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.entries.load(addr)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// Info 是集合的描述，只填充请求的字段
type Info struct {
	Count         *uint64
	Admin         *string
	DefaultLabel  *string
	DefaultCodeID *uint64
	CodeIDs       []uint64
	ACLEnabled    *bool
	Indices       []IndexMeta
}

// 可描述的字段
const (
	InfoCount         = "count"
	InfoAdmin         = "admin"
	InfoDefaultLabel  = "default_label"
	InfoDefaultCodeID = "default_code_id"
	InfoCodeIDs       = "code_ids"
	InfoACLEnabled    = "acl_enabled"
	InfoIndices       = "indices"
)

var infoFields = []string{
	InfoCount, InfoAdmin, InfoDefaultLabel, InfoDefaultCodeID, InfoCodeIDs, InfoACLEnabled, InfoIndices,
}

// Describe 返回集合描述，fields 为空时返回全部字段
func (c *Collection) Describe(_ context.Context, fields []string) (*Info, error) {
	for _, f := range fields {
		if !slices.Contains(infoFields, f) {
			return nil, fmt.Errorf("字段 %q: %w", f, ErrInvalidField)
		}
	}
	if len(fields) == 0 {
		fields = infoFields
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	root := c.root.clone()
	info := &Info{}
	for _, f := range fields {
		switch f {
		case InfoCount:
			info.Count = &root.Count
		case InfoAdmin:
			info.Admin = &root.Admin
		case InfoDefaultLabel:
			info.DefaultLabel = &root.DefaultLabel
		case InfoDefaultCodeID:
			info.DefaultCodeID = &root.DefaultCodeID
		case InfoCodeIDs:
			info.CodeIDs = root.CodeIDs
		case InfoACLEnabled:
			info.ACLEnabled = &root.ACLEnabled
		case InfoIndices:
			metas, err := c.registry.List()
			if err != nil {
				return nil, err
			}
			info.Indices = metas
		}
	}
	return info, nil
}
