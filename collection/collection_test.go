package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-free1/TideRepo/storage/bitcask"
)

func TestScenarioNumericOrdering(t *testing.T) {
	c, _, _ := newTestCollection(t)
	ctx := context.Background()

	a := create(t, c, 1, Set(NumericSlot(0), Numeric(5)))
	b := create(t, c, 2, Set(NumericSlot(0), Numeric(3)))

	page, err := c.Read(ctx, ReadRequest{Filter: Filter{Index: NumericSlot(0)}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, b, page.Entries[0].Address)
	assert.Equal(t, a, page.Entries[1].Address)
	assert.Nil(t, page.Next)

	page, err = c.Read(ctx, ReadRequest{Filter: Filter{Index: NumericSlot(0), Desc: true}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, a, page.Entries[0].Address)
	assert.Equal(t, b, page.Entries[1].Address)
}

func TestScenarioUpdateTwice(t *testing.T) {
	c, _, _ := newTestCollection(t)
	ctx := context.Background()

	a := create(t, c, 1, Set(NumericSlot(0), Numeric(1)))
	for i, ts := range []uint64{2, 3} {
		e, err := c.UpdateIndices(ctx, at(admin, ts), a, []Assignment{Set(NumericSlot(0), Numeric(10))})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), e.Revision)
	}

	e, err := c.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Revision)
	assert.Equal(t, uint64(3), e.UpdatedAt)

	keys := indexKeys(t, c, NumericSlot(0))
	require.Len(t, keys, 1)
	assert.True(t, keys[0].Value.Equal(Numeric(10)))
	assert.Equal(t, a, keys[0].Address)
	checkConsistency(t, c)
}

func TestScenarioEnableACLTwice(t *testing.T) {
	c, _, db := newTestCollection(t)
	ctx := context.Background()

	require.NoError(t, c.EnableACL(ctx, at(admin, 1)))
	before := snapshot(t, db)

	err := c.EnableACL(ctx, at(admin, 2))
	assert.ErrorIs(t, err, ErrAlreadyEnabled)
	assert.Equal(t, before, snapshot(t, db))

	info, err := c.Describe(ctx, []string{InfoACLEnabled})
	require.NoError(t, err)
	assert.True(t, *info.ACLEnabled)
}

func TestEnableACLRequiresAdmin(t *testing.T) {
	c, _, _ := newTestCollection(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.EnableACL(ctx, at("mallory", 1)), ErrUnauthorized)
	require.NoError(t, c.EnableACL(ctx, at(admin, 1)))
	// 非管理员在已开启时仍然得到 ErrUnauthorized
	assert.ErrorIs(t, c.EnableACL(ctx, at("mallory", 2)), ErrUnauthorized)
}

func TestCreateRecordsMetadata(t *testing.T) {
	c, _, _ := newTestCollection(t, WithDefaultLabel("widget"))
	ctx := context.Background()

	addr, err := c.Create(ctx, Call{Sender: "alice", Time: 100, Height: 7}, CreateRequest{
		CodeID:  2,
		Indices: []Assignment{Set(TextSlot(1), Text("hello")), Set(BooleanSlot(0), Bool(true))},
	})
	require.NoError(t, err)

	e, err := c.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.CodeID)
	assert.Equal(t, uint64(100), e.CreatedAt)
	assert.Equal(t, uint64(100), e.UpdatedAt)
	assert.Equal(t, uint64(0), e.Revision)
	assert.Equal(t, uint64(7), e.Height)
	assert.Equal(t, "alice", e.CreatedBy)
	assert.Equal(t, "widget", e.Label)
	assert.Len(t, e.Values, 2)
	assert.Equal(t, uint64(1), c.Count(ctx))

	values, err := c.Values(ctx, addr)
	require.NoError(t, err)
	assert.True(t, values[TextSlot(1)].Equal(Text("hello")))

	_, err = c.Values(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	checkConsistency(t, c)
}

func TestCreateAtomicity(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, c *Collection, h *fakeHost)
		call  Call
		req   CreateRequest
		want  error
	}{
		{
			name: "type mismatch",
			req: CreateRequest{Indices: []Assignment{
				Set(NumericSlot(0), Numeric(1)),
				Set(NumericSlot(1), Text("oops")),
			}},
			want: ErrTypeMismatch,
		},
		{
			name: "builtin assignment",
			req:  CreateRequest{Indices: []Assignment{Set(IndexRevision, Numeric(9))}},
			want: ErrInvalidIndex,
		},
		{
			name: "slot out of range",
			req:  CreateRequest{Indices: []Assignment{Set(NumericSlot(200), Numeric(1))}},
			want: ErrInvalidIndex,
		},
		{
			name:  "instantiation fails",
			setup: func(_ *testing.T, _ *Collection, h *fakeHost) { h.failInstantiate = errReverted },
			req:   CreateRequest{Indices: []Assignment{Set(NumericSlot(0), Numeric(1))}},
			want:  ErrChildInstantiationFailed,
		},
		{
			name: "code id not allowed",
			req:  CreateRequest{CodeID: 99},
			want: ErrCodeIDNotAllowed,
		},
		{
			name: "unauthorized",
			setup: func(t *testing.T, c *Collection, _ *fakeHost) {
				require.NoError(t, c.EnableACL(context.Background(), at(admin, 1)))
			},
			call: at("mallory", 5),
			want: ErrUnauthorized,
		},
		{
			name:  "address collision",
			setup: func(_ *testing.T, _ *Collection, h *fakeHost) { h.fixedAddress = "child001" },
			req:   CreateRequest{Indices: []Assignment{Set(NumericSlot(0), Numeric(1))}},
			want:  ErrDuplicateKey,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, host, db := newTestCollection(t)
			create(t, c, 1, Set(NumericSlot(0), Numeric(1)), Set(TextSlot(0), Text("x")))
			if tc.setup != nil {
				tc.setup(t, c, host)
			}
			call := tc.call
			if call.Sender == "" {
				call = at(admin, 5)
			}

			before := snapshot(t, db)
			_, err := c.Create(context.Background(), call, tc.req)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, before, snapshot(t, db))
			assert.Equal(t, uint64(1), c.Count(context.Background()))
			checkConsistency(t, c)
		})
	}
}

func TestCreateInstantiationErrorKeepsCause(t *testing.T) {
	c, host, _ := newTestCollection(t)
	host.failInstantiate = errReverted

	_, err := c.Create(context.Background(), at(admin, 1), CreateRequest{})
	assert.ErrorIs(t, err, ErrChildInstantiationFailed)
	assert.ErrorIs(t, err, errReverted)
}

func TestUpdateIndices(t *testing.T) {
	c, _, _ := newTestCollection(t)
	ctx := context.Background()
	a := create(t, c, 1, Set(NumericSlot(0), Numeric(1)), Set(TextSlot(0), Text("t")))

	_, err := c.UpdateIndices(ctx, at(admin, 2), "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	// 零个赋值也会递增 revision
	e, err := c.UpdateIndices(ctx, at(admin, 2), a, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Revision)
	assert.Equal(t, uint64(2), e.UpdatedAt)

	// 清除一个槽位，另一个槽位重复赋值以最后一次为准
	e, err = c.UpdateIndices(ctx, at(admin, 3), a, []Assignment{
		Clear(TextSlot(0)),
		Set(NumericSlot(0), Numeric(7)),
		Set(NumericSlot(0), Numeric(8)),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Revision)
	_, ok := e.Values[TextSlot(0)]
	assert.False(t, ok)
	assert.True(t, e.Values[NumericSlot(0)].Equal(Numeric(8)))
	assert.Empty(t, indexKeys(t, c, TextSlot(0)))

	// 类型错误时整体回滚
	_, err = c.UpdateIndices(ctx, at(admin, 4), a, []Assignment{
		Set(NumericSlot(1), Numeric(1)),
		Set(BooleanSlot(0), Numeric(1)),
	})
	assert.ErrorIs(t, err, ErrTypeMismatch)
	e, err = c.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Revision)
	checkConsistency(t, c)
}

func TestUpdatedAtNeverGoesBack(t *testing.T) {
	c, _, _ := newTestCollection(t)
	ctx := context.Background()
	a := create(t, c, 10)

	e, err := c.UpdateIndices(ctx, at(admin, 5), a, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), e.UpdatedAt)
	assert.Equal(t, uint64(1), e.Revision)
}

func TestUpdateAuthorization(t *testing.T) {
	gate := &fakeGate{allow: map[Action]map[string]bool{
		ActionUpdate: {"editor": true},
	}}
	c, _, _ := newTestCollection(t, WithGate(gate))
	ctx := context.Background()
	a := create(t, c, 1)
	require.NoError(t, c.EnableACL(ctx, at(admin, 1)))

	_, err := c.UpdateIndices(ctx, at("mallory", 2), a, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.UpdateIndices(ctx, at("editor", 2), a, nil)
	assert.NoError(t, err)

	// 子合约自己总能更新
	_, err = c.UpdateIndices(ctx, at(a, 3), a, []Assignment{Set(NumericSlot(0), Numeric(1))})
	assert.NoError(t, err)
}

func TestDeletePartialSuccess(t *testing.T) {
	c, host, db := newTestCollection(t)
	ctx := context.Background()
	a := create(t, c, 1, Set(NumericSlot(0), Numeric(1)))
	b := create(t, c, 2, Set(NumericSlot(0), Numeric(2)), Set(TextSlot(3), Text("b")))
	keep := create(t, c, 3, Set(NumericSlot(0), Numeric(3)))

	results, err := c.Delete(ctx, at(admin, 4), []string{a, "missing", b, a})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrNotFound)
	assert.NoError(t, results[2].Err)
	assert.ErrorIs(t, results[3].Err, ErrNotFound)

	assert.Equal(t, uint64(1), c.Count(ctx))
	assert.Empty(t, indexKeys(t, c, TextSlot(3)))
	keys := indexKeys(t, c, NumericSlot(0))
	require.Len(t, keys, 1)
	assert.Equal(t, keep, keys[0].Address)
	assert.Empty(t, host.executed, "删除不应调用子合约")
	checkConsistency(t, c)

	// ACL 失败时整体失败
	require.NoError(t, c.EnableACL(ctx, at(admin, 5)))
	before := snapshot(t, db)
	_, err = c.Delete(ctx, at("mallory", 6), []string{keep})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, before, snapshot(t, db))
}

func TestReadValidation(t *testing.T) {
	c, _, _ := newTestCollection(t, WithMaxLimit(5))
	ctx := context.Background()
	create(t, c, 1, Set(NumericSlot(0), Numeric(1)))

	for _, limit := range []int{0, -1, 6} {
		_, err := c.Read(ctx, ReadRequest{Filter: Filter{Index: NumericSlot(0)}, Limit: limit})
		assert.ErrorIs(t, err, ErrInvalidLimit, "limit %d", limit)
	}

	eq := Text("x")
	_, err := c.Read(ctx, ReadRequest{Filter: Filter{Index: NumericSlot(0), Equals: &eq}, Limit: 1})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = c.Read(ctx, ReadRequest{Filter: Filter{Index: IndexID{Kind: 99}}, Limit: 1})
	assert.ErrorIs(t, err, ErrIndexNotFound)

	// 从未使用的槽位是空索引
	page, err := c.Read(ctx, ReadRequest{Filter: Filter{Index: TimestampSlot(3)}, Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Nil(t, page.Next)
}

func TestReadTextEqualsAndRange(t *testing.T) {
	c, _, _ := newTestCollection(t)

	values := map[string]string{}
	for i, s := range []string{"pear", "apple", "fig", "apple", "apple\x00", "banana", "apple"} {
		addr := create(t, c, uint64(i+1), Set(TextSlot(0), Text(s)), Set(NumericSlot(0), Numeric(uint64(i))))
		values[addr] = s
	}

	eq := Text("apple")
	for _, desc := range []bool{false, true} {
		got := readAll(t, c, ReadRequest{Filter: Filter{Index: TextSlot(0), Equals: &eq, Desc: desc}, Limit: 2})
		assert.Len(t, got, 3)
		for _, a := range got {
			assert.Equal(t, "apple", values[a])
		}
	}

	lo, hi := Numeric(2), Numeric(5)
	got := readAll(t, c, ReadRequest{Filter: Filter{Index: NumericSlot(0), Range: &Range{Lower: &lo, Upper: &hi}}, Limit: 1})
	assert.Equal(t, []string{"child003", "child004", "child005"}, got)
	got = readAll(t, c, ReadRequest{Filter: Filter{Index: NumericSlot(0), Range: &Range{Lower: &lo, Upper: &hi}, Desc: true}, Limit: 2})
	assert.Equal(t, []string{"child005", "child004", "child003"}, got)
}

func TestReadMeta(t *testing.T) {
	c, _, _ := newTestCollection(t)
	a := create(t, c, 1, Set(NumericSlot(0), Numeric(1)))

	page, err := c.Read(context.Background(), ReadRequest{Filter: Filter{Index: IndexAddress}, Limit: 1, Meta: true})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.NotNil(t, page.Entries[0].Meta)
	assert.Equal(t, a, page.Entries[0].Meta.Address)

	page, err = c.Read(context.Background(), ReadRequest{Filter: Filter{Index: IndexAddress}, Limit: 1})
	require.NoError(t, err)
	assert.Nil(t, page.Entries[0].Meta)
}

func TestReadState(t *testing.T) {
	c, host, _ := newTestCollection(t, WithParallelism(2))
	ctx := context.Background()
	a := create(t, c, 1, Set(NumericSlot(0), Numeric(1)))
	b := create(t, c, 2, Set(NumericSlot(0), Numeric(2)))

	page, err := c.Read(ctx, ReadRequest{
		Filter: Filter{Index: NumericSlot(0)},
		Limit:  5,
		State:  &StateQuery{Fields: []string{"count"}, Wallet: "alice"},
	})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, a+"|count|alice", string(page.Entries[0].State))
	assert.Equal(t, b+"|count|alice", string(page.Entries[1].State))

	// 空字段表示全部字段，原样交给子合约
	page, err = c.Read(ctx, ReadRequest{Filter: Filter{Index: IndexAddress}, Limit: 1, State: &StateQuery{}})
	require.NoError(t, err)
	assert.Equal(t, a+"||", string(page.Entries[0].State))

	page, err = c.Read(ctx, ReadRequest{Filter: Filter{Index: IndexAddress}, Limit: 5})
	require.NoError(t, err)
	assert.Nil(t, page.Entries[0].State)

	host.failQuery = map[string]error{b: errReverted}
	_, err = c.Read(ctx, ReadRequest{Filter: Filter{Index: IndexAddress}, Limit: 5, State: &StateQuery{}})
	assert.ErrorIs(t, err, ErrQueryState)
	assert.ErrorIs(t, err, errReverted)
	assert.Contains(t, err.Error(), b)

	// 出错的子合约不在本页时不影响读取
	page, err = c.Read(ctx, ReadRequest{Filter: Filter{Index: IndexAddress}, Limit: 1, State: &StateQuery{}})
	require.NoError(t, err)
	assert.Equal(t, a, page.Entries[0].Address)
}

func TestExecuteBatch(t *testing.T) {
	c, host, db := newTestCollection(t, WithParallelism(2))
	ctx := context.Background()

	var addrs []string
	for i := 0; i < 6; i++ {
		addrs = append(addrs, create(t, c, uint64(i+1), Set(BooleanSlot(0), Bool(i%2 == 0))))
	}
	host.failExecute = map[string]error{addrs[2]: errReverted}

	before := snapshot(t, db)
	tru := Bool(true)
	results, err := c.ExecuteBatch(ctx, at(admin, 10), ExecuteRequest{
		Filter: Filter{Index: BooleanSlot(0), Equals: &tru},
		Msg:    []byte("ping"),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, addrs[0], results[0].Address)
	assert.Equal(t, addrs[2], results[1].Address)
	assert.Equal(t, addrs[4], results[2].Address)
	assert.Equal(t, addrs[0]+":ping", string(results[0].Response))
	assert.ErrorIs(t, results[1].Err, errReverted)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, before, snapshot(t, db))

	gate := &fakeGate{}
	c2, _, _ := newTestCollection(t, WithGate(gate))
	require.NoError(t, c2.EnableACL(ctx, at(admin, 1)))
	_, err = c2.ExecuteBatch(ctx, at("mallory", 2), ExecuteRequest{Filter: Filter{Index: IndexAddress}})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSelect(t *testing.T) {
	c, _, _ := newTestCollection(t)
	ctx := context.Background()
	a := create(t, c, 1, Set(NumericSlot(0), Numeric(4)))
	b := create(t, c, 2)
	_, err := c.UpdateIndices(ctx, at(admin, 3), b, nil)
	require.NoError(t, err)

	rows, err := c.Select(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{"address": a}, rows[0])

	rows, err = c.Select(ctx, []string{FieldRevision, FieldValues}, &Since{Kind: SinceRevision, Value: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(1), rows[0][FieldRevision])
	assert.Empty(t, rows[0][FieldValues])

	rows, err = c.Select(ctx, []string{FieldValues}, &Since{Kind: SinceTime, Value: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"numeric:0": "4"}, rows[0][FieldValues])

	_, err = c.Select(ctx, []string{"bogus"}, nil)
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestAdminOperations(t *testing.T) {
	gate := &fakeGate{allow: map[Action]map[string]bool{ActionRenameIndex: {"ops": true}}}
	c, _, _ := newTestCollection(t, WithGate(gate), WithIndexName(NumericSlot(1), "score"))
	ctx := context.Background()

	info, err := c.Describe(ctx, []string{InfoIndices})
	require.NoError(t, err)
	require.Len(t, info.Indices, 1)
	assert.Equal(t, "score", info.Indices[0].Name)
	assert.Nil(t, info.Count)

	assert.ErrorIs(t, c.SetAllowedCodeIDs(ctx, at("mallory", 1), []uint64{3}), ErrUnauthorized)
	require.NoError(t, c.SetAllowedCodeIDs(ctx, at(admin, 1), []uint64{3, 3, 1}))
	_, err = c.Create(ctx, at(admin, 2), CreateRequest{CodeID: 2})
	assert.ErrorIs(t, err, ErrCodeIDNotAllowed)
	_, err = c.Create(ctx, at(admin, 2), CreateRequest{CodeID: 3})
	require.NoError(t, err)

	assert.ErrorIs(t, c.RenameIndex(ctx, at("ops", 3), TextSlot(0), "name"), ErrUnauthorized)
	require.NoError(t, c.EnableACL(ctx, at(admin, 3)))
	require.NoError(t, c.RenameIndex(ctx, at("ops", 4), TextSlot(0), "name"))
	assert.ErrorIs(t, c.RenameIndex(ctx, at(admin, 4), IndexRevision, "rev"), ErrInvalidIndex)

	info, err = c.Describe(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, info.CodeIDs)
	assert.Equal(t, uint64(1), *info.Count)
	assert.Equal(t, admin, *info.Admin)
	assert.True(t, *info.ACLEnabled)
	require.Len(t, info.Indices, 2)
	assert.Equal(t, "name", info.Indices[1].Name)

	_, err = c.Describe(ctx, []string{"presets"})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestIndexMetadata(t *testing.T) {
	c, _, _ := newTestCollection(t)
	ctx := context.Background()
	a := create(t, c, 1, Set(NumericSlot(2), Numeric(5)))
	create(t, c, 2, Set(NumericSlot(2), Numeric(6)))
	_, err := c.UpdateIndices(ctx, at(admin, 3), a, []Assignment{Clear(NumericSlot(2))})
	require.NoError(t, err)

	meta, ok, err := c.Registry().Meta(NumericSlot(2))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), meta.Size)
	assert.Equal(t, uint64(3), meta.UpdatedAt)
	assert.Equal(t, ValueNumeric, meta.Type)

	cur, err := ParseCursor(ValueNumeric, meta.UpdatedKey)
	require.NoError(t, err)
	assert.Equal(t, a, cur.Address)
}

func TestListenerReceivesCommittedChanges(t *testing.T) {
	var events []ChangeEvent
	c, host, _ := newTestCollection(t, WithListener(func(ev ChangeEvent) {
		events = append(events, ev)
	}))
	ctx := context.Background()

	a := create(t, c, 1)
	_, err := c.UpdateIndices(ctx, at(admin, 2), a, nil)
	require.NoError(t, err)
	host.failInstantiate = errReverted
	_, err = c.Create(ctx, at(admin, 3), CreateRequest{})
	require.Error(t, err)
	_, err = c.Delete(ctx, at(admin, 4), []string{a})
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, ChangeCreated, events[0].Type)
	assert.Equal(t, ChangeUpdated, events[1].Type)
	assert.Equal(t, uint64(1), events[1].Revision)
	assert.Equal(t, ChangeDeleted, events[2].Type)
}

func TestReopenOnBitcask(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := bitcask.Open(dir)
	require.NoError(t, err)
	host := &fakeHost{}
	c, err := New(db, host, WithAdmin(admin), WithDefaultCodeID(1))
	require.NoError(t, err)
	a := create(t, c, 1, Set(TextSlot(0), Text("persist")))
	create(t, c, 2, Set(TextSlot(0), Text("also")))
	_, err = c.Delete(ctx, at(admin, 3), []string{a})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = bitcask.Open(dir)
	require.NoError(t, err)
	defer db.Close()
	c, err = New(db, host, WithAdmin("ignored"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), c.Count(ctx))
	info, err := c.Describe(ctx, []string{InfoAdmin})
	require.NoError(t, err)
	assert.Equal(t, admin, *info.Admin)

	got := readAll(t, c, ReadRequest{Filter: Filter{Index: TextSlot(0)}, Limit: 5})
	assert.Equal(t, []string{"child002"}, got)
	checkConsistency(t, c)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(nil, nil, WithMaxLimit(0))
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = New(nil, nil, WithMaxSlots(0))
	assert.ErrorIs(t, err, ErrInvalidIndex)
}
