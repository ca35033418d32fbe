package acl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-free1/TideRepo/collection"
)

func TestStaticGate(t *testing.T) {
	g, err := NewStaticGate(Rules{
		collection.ActionCreate:  {"alice", "bob"},
		collection.ActionExecute: {Wildcard},
	})
	require.NoError(t, err)
	ctx := context.Background()

	cases := []struct {
		sender string
		action collection.Action
		want   bool
	}{
		{"alice", collection.ActionCreate, true},
		{"carol", collection.ActionCreate, false},
		{"carol", collection.ActionExecute, true},
		{"", collection.ActionExecute, true},
		{"alice", collection.ActionDelete, false},
	}
	for _, tc := range cases {
		ok, err := g.Allowed(ctx, tc.sender, tc.action)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "%s %s", tc.sender, tc.action)
	}

	require.NoError(t, g.Replace(Rules{collection.ActionDelete: {"alice"}}))
	ok, _ := g.Allowed(ctx, "alice", collection.ActionCreate)
	assert.False(t, ok)
	ok, _ = g.Allowed(ctx, "alice", collection.ActionDelete)
	assert.True(t, ok)
}

func TestStaticGateRejectsBadRules(t *testing.T) {
	_, err := NewStaticGate(Rules{"drop_table": {"alice"}})
	assert.ErrorIs(t, err, ErrUnknownAction)

	g, err := NewStaticGate(nil)
	require.NoError(t, err)
	assert.Error(t, g.Replace(Rules{collection.ActionCreate: {""}}))

	// 替换失败时保留原规则
	ok, err := g.Allowed(context.Background(), "anyone", collection.ActionCreate)
	require.NoError(t, err)
	assert.False(t, ok)
}
