package http

import (
	"encoding/json"
	"fmt"

	"github.com/forever-free1/TideRepo/collection"
)

// defaultReadLimit 是请求未给出 limit 时使用的页大小
const defaultReadLimit = 25

// assignmentView 是一次槽位赋值，Clear 为 true 时忽略 Value
type assignmentView struct {
	Index string `json:"index" binding:"required"`
	Value string `json:"value"`
	Clear bool   `json:"clear"`
}

// sinceView 中 Rev 和 Time 只能给出一个
type sinceView struct {
	Rev  *uint64 `json:"rev"`
	Time *uint64 `json:"time"`
}

type rangeView struct {
	Lower *string `json:"lower"`
	Upper *string `json:"upper"`
}

// filterView 是 read 和 execute 共用的索引描述
type filterView struct {
	Index  string     `json:"index" binding:"required"`
	Desc   bool       `json:"desc"`
	Equals *string    `json:"equals"`
	Range  *rangeView `json:"range"`
	Since  *sinceView `json:"since"`
}

type createRequest struct {
	CodeID  uint64           `json:"code_id"`
	Msg     json.RawMessage  `json:"msg"`
	Label   string           `json:"label"`
	Admin   string           `json:"admin"`
	Indices []assignmentView `json:"indices"`
}

type updateRequest struct {
	Indices []assignmentView `json:"indices"`
}

type deleteRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

type codeIDsRequest struct {
	CodeIDs []uint64 `json:"code_ids"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type selectRequest struct {
	Fields []string   `json:"fields"`
	Since  *sinceView `json:"since"`
}

// stateView 出现时向每个子合约查询状态，fields 为空表示全部字段
type stateView struct {
	Fields []string `json:"fields"`
	Wallet string   `json:"wallet"`
}

type readRequest struct {
	filterView
	Cursor string     `json:"cursor"`
	Limit  *int       `json:"limit"`
	Meta   bool       `json:"meta"`
	State  *stateView `json:"state"`
}

type executeRequest struct {
	filterView
	Msg json.RawMessage `json:"msg"`
}

type entryView struct {
	Address   string            `json:"address"`
	CodeID    uint64            `json:"code_id"`
	CreatedAt uint64            `json:"created_at"`
	UpdatedAt uint64            `json:"updated_at"`
	Revision  uint64            `json:"revision"`
	Height    uint64            `json:"height"`
	CreatedBy string            `json:"created_by"`
	Label     string            `json:"label"`
	Values    map[string]string `json:"values"`
}

type recordView struct {
	Address string     `json:"address"`
	Meta    *entryView `json:"meta,omitempty"`
	State   string     `json:"state,omitempty"`
}

type pageView struct {
	Entries    []recordView `json:"entries"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type deleteResultView struct {
	Address string `json:"address"`
	Error   string `json:"error,omitempty"`
}

type dispatchView struct {
	Address  string `json:"address"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

type indexMetaView struct {
	Index      string `json:"index"`
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	Size       uint64 `json:"size"`
	UpdatedAt  uint64 `json:"updated_at"`
	UpdatedKey string `json:"updated_key,omitempty"`
}

type infoView struct {
	Count         *uint64         `json:"count,omitempty"`
	Admin         *string         `json:"admin,omitempty"`
	DefaultLabel  *string         `json:"default_label,omitempty"`
	DefaultCodeID *uint64         `json:"default_code_id,omitempty"`
	CodeIDs       []uint64        `json:"code_ids,omitempty"`
	ACLEnabled    *bool           `json:"acl_enabled,omitempty"`
	Indices       []indexMetaView `json:"indices,omitempty"`
}

// parseAssignments 按槽位的类型解析赋值
func parseAssignments(views []assignmentView) ([]collection.Assignment, error) {
	out := make([]collection.Assignment, 0, len(views))
	for _, v := range views {
		id, err := collection.ParseIndexID(v.Index)
		if err != nil {
			return nil, err
		}
		if v.Clear {
			out = append(out, collection.Clear(id))
			continue
		}
		value, err := collection.ParseValue(id.Kind.ValueType(), v.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		out = append(out, collection.Set(id, value))
	}
	return out, nil
}

func (s *sinceView) parse() (*collection.Since, error) {
	switch {
	case s == nil:
		return nil, nil
	case s.Rev != nil && s.Time != nil:
		return nil, fmt.Errorf("since 只能给出 rev 或 time 之一: %w", errBadRequest)
	case s.Rev != nil:
		return &collection.Since{Kind: collection.SinceRevision, Value: *s.Rev}, nil
	case s.Time != nil:
		return &collection.Since{Kind: collection.SinceTime, Value: *s.Time}, nil
	default:
		return nil, nil
	}
}

// parse 把索引描述转换为集合的过滤条件，值按索引类型解析
func (f *filterView) parse() (collection.Filter, error) {
	id, err := collection.ParseIndexID(f.Index)
	if err != nil {
		return collection.Filter{}, err
	}
	t := id.Kind.ValueType()
	filter := collection.Filter{Index: id, Desc: f.Desc}

	if f.Equals != nil {
		v, err := collection.ParseValue(t, *f.Equals)
		if err != nil {
			return collection.Filter{}, err
		}
		filter.Equals = &v
	}
	if f.Range != nil {
		r := &collection.Range{}
		for _, b := range []struct {
			raw *string
			dst **collection.Value
		}{{f.Range.Lower, &r.Lower}, {f.Range.Upper, &r.Upper}} {
			if b.raw == nil {
				continue
			}
			v, err := collection.ParseValue(t, *b.raw)
			if err != nil {
				return collection.Filter{}, err
			}
			*b.dst = &v
		}
		filter.Range = r
	}
	if filter.Since, err = f.Since.parse(); err != nil {
		return collection.Filter{}, err
	}
	return filter, nil
}

func newEntryView(e *collection.Entry) *entryView {
	values := make(map[string]string, len(e.Values))
	for id, v := range e.Values {
		values[id.String()] = v.String()
	}
	return &entryView{
		Address:   e.Address,
		CodeID:    e.CodeID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Revision:  e.Revision,
		Height:    e.Height,
		CreatedBy: e.CreatedBy,
		Label:     e.Label,
		Values:    values,
	}
}

func newPageView(p *collection.Page) pageView {
	view := pageView{Entries: make([]recordView, 0, len(p.Entries))}
	for _, r := range p.Entries {
		rec := recordView{Address: r.Address, State: string(r.State)}
		if r.Meta != nil {
			rec.Meta = newEntryView(r.Meta)
		}
		view.Entries = append(view.Entries, rec)
	}
	if p.Next != nil {
		view.NextCursor = p.Next.Token()
	}
	return view
}

func newInfoView(info *collection.Info) infoView {
	view := infoView{
		Count:         info.Count,
		Admin:         info.Admin,
		DefaultLabel:  info.DefaultLabel,
		DefaultCodeID: info.DefaultCodeID,
		CodeIDs:       info.CodeIDs,
		ACLEnabled:    info.ACLEnabled,
	}
	for _, m := range info.Indices {
		view.Indices = append(view.Indices, indexMetaView{
			Index:      m.ID().String(),
			Type:       m.Type.String(),
			Name:       m.Name,
			Size:       m.Size,
			UpdatedAt:  m.UpdatedAt,
			UpdatedKey: m.UpdatedKey,
		})
	}
	return view
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
