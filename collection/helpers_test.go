package collection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forever-free1/TideRepo/storage"
	"github.com/forever-free1/TideRepo/storage/memkv"
)

var errReverted = errors.New("reverted")

// fakeHost 按顺序分配地址，可以让实例化、转发或查询失败
type fakeHost struct {
	mu              sync.Mutex
	seq             int
	failInstantiate error
	fixedAddress    string
	failExecute     map[string]error
	failQuery       map[string]error
	executed        []string
}

func (h *fakeHost) Instantiate(_ context.Context, _ Call, _ InstantiateRequest) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failInstantiate != nil {
		return "", h.failInstantiate
	}
	if h.fixedAddress != "" {
		return h.fixedAddress, nil
	}
	h.seq++
	return fmt.Sprintf("child%03d", h.seq), nil
}

func (h *fakeHost) Execute(_ context.Context, _ Call, addr string, msg []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.executed = append(h.executed, addr)
	if err := h.failExecute[addr]; err != nil {
		return nil, err
	}
	return append([]byte(addr+":"), msg...), nil
}

// Query 返回 "地址|字段|钱包"
func (h *fakeHost) Query(_ context.Context, addr string, q StateQuery) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failQuery[addr]; err != nil {
		return nil, err
	}
	return []byte(addr + "|" + strings.Join(q.Fields, ",") + "|" + q.Wallet), nil
}

// fakeGate 按 (action, sender) 放行
type fakeGate struct {
	allow map[Action]map[string]bool
}

func (g *fakeGate) Allowed(_ context.Context, sender string, action Action) (bool, error) {
	return g.allow[action][sender], nil
}

const admin = "admin"

func newTestCollection(t *testing.T, opts ...Option) (*Collection, *fakeHost, *memkv.DB) {
	t.Helper()
	db := memkv.Open()
	t.Cleanup(func() { db.Close() })
	host := &fakeHost{}
	base := []Option{WithAdmin(admin), WithCodeIDs(1, 2), WithDefaultCodeID(1)}
	c, err := New(db, host, append(base, opts...)...)
	require.NoError(t, err)
	return c, host, db
}

func at(sender string, ts uint64) Call {
	return Call{Sender: sender, Time: ts, Height: ts}
}

func create(t *testing.T, c *Collection, ts uint64, indices ...Assignment) string {
	t.Helper()
	addr, err := c.Create(context.Background(), at(admin, ts), CreateRequest{Indices: indices})
	require.NoError(t, err)
	return addr
}

func readAll(t *testing.T, c *Collection, req ReadRequest) []string {
	t.Helper()
	var out []string
	for pages := 0; ; pages++ {
		require.Less(t, pages, 10000, "分页没有终止")
		page, err := c.Read(context.Background(), req)
		require.NoError(t, err)
		for _, r := range page.Entries {
			out = append(out, r.Address)
		}
		if page.Next == nil {
			return out
		}
		require.NotEmpty(t, page.Entries, "带游标的页不应为空")
		req.Cursor = page.Next
	}
}

// snapshot 导出引擎中全部键值
func snapshot(t *testing.T, db storage.Scanner) map[string]string {
	t.Helper()
	out := make(map[string]string)
	require.NoError(t, db.Scan(storage.ScanOptions{}, func(k, v []byte) bool {
		out[string(k)] = string(v)
		return true
	}))
	return out
}

// indexKeys 返回某个索引中的全部键
func indexKeys(t *testing.T, c *Collection, id IndexID) []Cursor {
	t.Helper()
	ix, err := c.registry.Get(id)
	require.NoError(t, err)
	var out []Cursor
	require.NoError(t, ix.Scan(ScanOptions{}, func(cur Cursor) (bool, error) {
		out = append(out, cur)
		return true, nil
	}))
	return out
}

// checkConsistency 校验条目和索引互相对应
func checkConsistency(t *testing.T, c *Collection) {
	t.Helper()

	entries := make(map[string]*Entry)
	require.NoError(t, c.entries.scan(func(e *Entry) (bool, error) {
		entries[e.Address] = e
		return true, nil
	}))
	require.Equal(t, uint64(len(entries)), c.Count(context.Background()), "计数与条目数不一致")

	ids := make(map[IndexID]bool)
	for _, kind := range builtinKinds {
		ids[IndexID{Kind: kind}] = true
	}
	metas, err := c.registry.List()
	require.NoError(t, err)
	for _, m := range metas {
		ids[m.ID()] = true
	}

	owned := 0
	for _, e := range entries {
		for id, cur := range e.keys() {
			require.True(t, ids[id], "条目 %s 使用了未登记的槽位 %s", e.Address, id)
			_, err := c.registry.Get(id)
			require.NoError(t, err)
			_, err = c.engine.Get(indexKey(id, cur))
			require.NoError(t, err, "索引 %s 缺少 (%s, %s)", id, cur.Value, e.Address)
			owned++
		}
	}

	total := 0
	for id := range ids {
		keys := indexKeys(t, c, id)
		for _, cur := range keys {
			e, ok := entries[cur.Address]
			require.True(t, ok, "索引 %s 指向不存在的条目 %s", id, cur.Address)
			want, ok := e.keys()[id]
			require.True(t, ok, "条目 %s 在 %s 上没有值", cur.Address, id)
			require.True(t, want.Value.Equal(cur.Value), "索引 %s 中 %s 的值过期", id, cur.Address)
		}
		if !id.Builtin() {
			meta, _, err := c.registry.Meta(id)
			require.NoError(t, err)
			require.Equal(t, uint64(len(keys)), meta.Size, "槽位 %s 的 size 不一致", id)
		}
		total += len(keys)
	}
	require.Equal(t, owned, total, "存在孤立的索引键")
}

// expectedOrder 按 (value, addr) 排序，desc 时值降序、地址仍升序
func expectedOrder(values map[string]Value, desc bool) []string {
	addrs := make([]string, 0, len(values))
	for a := range values {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		vi, vj := values[addrs[i]], values[addrs[j]]
		if c := vi.Compare(vj); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		return bytes.Compare([]byte(addrs[i]), []byte(addrs[j])) < 0
	})
	return addrs
}
