package host

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-free1/TideRepo/acl"
	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/storage"
	"github.com/forever-free1/TideRepo/storage/memkv"
)

var errDiskFull = errors.New("disk full")

// flakyEngine 在 fail 为 true 时让批次提交失败
type flakyEngine struct {
	storage.OrderedEngine
	fail bool
}

func (e *flakyEngine) NewBatch() storage.Batch {
	b := e.OrderedEngine.NewBatch()
	if e.fail {
		return brokenBatch{b}
	}
	return b
}

type brokenBatch struct{ storage.Batch }

func (brokenBatch) Commit() error { return errDiskFull }

// hostKeys 返回引擎中 H 前缀下的键数量
func hostKeys(t *testing.T, db storage.Scanner) int {
	t.Helper()
	n := 0
	require.NoError(t, db.Scan(storage.ScanOptions{Lower: []byte{prefixHost}, Upper: []byte{prefixHost + 1}}, func(_, _ []byte) bool {
		n++
		return true
	}))
	return n
}

func newHost(t *testing.T) (*Host, *memkv.DB) {
	t.Helper()
	db := memkv.Open()
	t.Cleanup(func() { db.Close() })
	h := New(db, WithAddressPrefix("c1"))
	h.Register(1, Counter{})
	h.Register(2, Echo{})
	return h, db
}

func TestInstantiateAndExecute(t *testing.T) {
	h, _ := newHost(t)
	ctx := context.Background()
	call := collection.Call{Sender: "alice", Time: 1}

	addr, err := h.Instantiate(ctx, call, collection.InstantiateRequest{CodeID: 1, Label: "counter", Admin: "bob"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(addr, "c1"))
	assert.Len(t, addr, len("c1")+16)

	for i := 1; i <= 3; i++ {
		resp, err := h.Execute(ctx, call, addr, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "3"}[i-1], string(resp))
	}

	inst, err := h.Instance(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), inst.CodeID)
	assert.Equal(t, "counter", inst.Label)
	assert.Equal(t, "bob", inst.Admin)
	assert.Equal(t, "alice", inst.Creator)

	_, err = h.Execute(ctx, call, "c1nothing", nil)
	assert.ErrorIs(t, err, ErrNoInstance)
}

func TestInstantiateErrors(t *testing.T) {
	h, db := newHost(t)
	ctx := context.Background()

	_, err := h.Instantiate(ctx, collection.Call{}, collection.InstantiateRequest{CodeID: 9})
	assert.ErrorIs(t, err, ErrUnknownCode)

	_, err = h.Instantiate(ctx, collection.Call{}, collection.InstantiateRequest{CodeID: 1, Msg: []byte("fail")})
	assert.ErrorIs(t, err, errRefused)
	assert.Zero(t, db.Len(), "失败的实例化不应写入任何状态")
}

func TestInstantiateStaged(t *testing.T) {
	h, db := newHost(t)
	ctx := context.Background()
	st := newWriteStage(db)

	req := collection.InstantiateRequest{CodeID: 1, Label: "same"}
	a, err := h.InstantiateStaged(ctx, collection.Call{}, req, st)
	require.NoError(t, err)
	b, err := h.InstantiateStaged(ctx, collection.Call{}, req, st)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "同一个写缓冲中的序号应当递增")
	assert.Zero(t, db.Len(), "提交之前不应写入引擎")

	_, err = h.InstantiateStaged(ctx, collection.Call{}, collection.InstantiateRequest{CodeID: 1, Msg: []byte("fail")}, st)
	assert.ErrorIs(t, err, errRefused)

	require.NoError(t, st.commit())
	assert.Equal(t, 3, hostKeys(t, db))
	_, err = h.Instance(b)
	require.NoError(t, err)

	// 独立实例化从已提交的序号继续
	c, err := h.Instantiate(ctx, collection.Call{}, req)
	require.NoError(t, err)
	assert.NotContains(t, []string{a, b}, c)
}

func TestFailedCreateLeavesNoInstance(t *testing.T) {
	db := memkv.Open()
	t.Cleanup(func() { db.Close() })
	engine := &flakyEngine{OrderedEngine: db}
	h := New(engine, WithAddressPrefix("c1"))
	h.Register(1, Counter{})

	c, err := collection.New(engine, h, collection.WithAdmin("root"), collection.WithDefaultCodeID(1))
	require.NoError(t, err)
	ctx := context.Background()

	engine.fail = true
	_, err = c.Create(ctx, collection.Call{Sender: "root", Time: 1}, collection.CreateRequest{Label: "x"})
	require.ErrorIs(t, err, errDiskFull)
	assert.Zero(t, hostKeys(t, db), "提交失败后不应留下子合约或序号")

	engine.fail = false
	addr, err := c.Create(ctx, collection.Call{Sender: "root", Time: 2}, collection.CreateRequest{Label: "x"})
	require.NoError(t, err)

	// 序号没有被失败的创建消耗
	ref, _ := newHost(t)
	want, err := ref.Instantiate(ctx, collection.Call{}, collection.InstantiateRequest{CodeID: 1, Label: "x"})
	require.NoError(t, err)
	assert.Equal(t, want, addr)
	assert.Equal(t, 2, hostKeys(t, db))
}

func TestQuery(t *testing.T) {
	h, _ := newHost(t)
	ctx := context.Background()

	counter, err := h.Instantiate(ctx, collection.Call{}, collection.InstantiateRequest{CodeID: 1})
	require.NoError(t, err)
	echo, err := h.Instantiate(ctx, collection.Call{}, collection.InstantiateRequest{CodeID: 2})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := h.Execute(ctx, collection.Call{}, counter, nil)
		require.NoError(t, err)
	}

	state, err := h.Query(ctx, counter, collection.StateQuery{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, string(state))

	state, err = h.Query(ctx, counter, collection.StateQuery{Fields: []string{"count"}, Wallet: "alice"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, string(state))

	_, err = h.Query(ctx, counter, collection.StateQuery{Fields: []string{"colour"}})
	assert.ErrorIs(t, err, errUnknownField)

	state, err = h.Query(ctx, echo, collection.StateQuery{})
	require.NoError(t, err)
	assert.Empty(t, state)

	_, err = h.Query(ctx, "c1nothing", collection.StateQuery{})
	assert.ErrorIs(t, err, ErrNoInstance)
}

func TestAddressesAreDeterministic(t *testing.T) {
	a, _ := newHost(t)
	b, _ := newHost(t)
	ctx := context.Background()

	var first, second []string
	for i := 0; i < 5; i++ {
		req := collection.InstantiateRequest{CodeID: 2, Label: "same"}
		x, err := a.Instantiate(ctx, collection.Call{}, req)
		require.NoError(t, err)
		y, err := b.Instantiate(ctx, collection.Call{}, req)
		require.NoError(t, err)
		first = append(first, x)
		second = append(second, y)
	}
	assert.Equal(t, first, second)

	seen := make(map[string]bool)
	for _, addr := range first {
		assert.False(t, seen[addr], "地址 %s 重复", addr)
		seen[addr] = true
	}
}

func TestHostDrivesCollection(t *testing.T) {
	h, db := newHost(t)
	ctx := context.Background()
	gate, err := acl.NewStaticGate(acl.Rules{
		collection.ActionCreate:  {"alice"},
		collection.ActionExecute: {acl.Wildcard},
	})
	require.NoError(t, err)

	c, err := collection.New(db, h, collection.WithAdmin("root"), collection.WithDefaultCodeID(1), collection.WithGate(gate))
	require.NoError(t, err)
	require.NoError(t, c.EnableACL(ctx, collection.Call{Sender: "root", Time: 1}))

	var addrs []string
	for i := uint64(0); i < 4; i++ {
		addr, err := c.Create(ctx, collection.Call{Sender: "alice", Time: 2 + i}, collection.CreateRequest{
			Indices: []collection.Assignment{collection.Set(collection.NumericSlot(0), collection.Numeric(i%2))},
		})
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}
	_, err = c.Create(ctx, collection.Call{Sender: "mallory", Time: 9}, collection.CreateRequest{})
	assert.ErrorIs(t, err, collection.ErrUnauthorized)

	one := collection.Numeric(1)
	for round := 1; round <= 2; round++ {
		results, err := c.ExecuteBatch(ctx, collection.Call{Sender: "anyone", Time: 10}, collection.ExecuteRequest{
			Filter: collection.Filter{Index: collection.NumericSlot(0), Equals: &one},
		})
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, r := range results {
			require.NoError(t, r.Err)
			assert.Equal(t, []string{"1", "2"}[round-1], string(r.Response))
		}
	}

	// 未被匹配的子合约计数不变
	resp, err := h.Execute(ctx, collection.Call{}, addrs[0], nil)
	require.NoError(t, err)
	assert.Equal(t, "1", string(resp))
}
