package raft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-free1/TideRepo/collection"
)

func TestSingleNodeCluster(t *testing.T) {
	r := newReplica(t)
	node, err := NewNode(r.db, r.coll, &NodeConfig{
		NodeID:    "node1",
		Bootstrap: true,
		InMemory:  true,
	})
	require.NoError(t, err)
	defer node.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, node.WaitLeader(ctx))
	require.Eventually(t, node.IsLeader, 5*time.Second, 10*time.Millisecond)

	call := collection.Call{Sender: "root", Time: 1}
	addr, err := node.Create(ctx, call, collection.CreateRequest{
		Indices: []collection.Assignment{collection.Set(collection.BooleanSlot(0), collection.Bool(true))},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), node.Count(ctx))

	e, err := node.UpdateIndices(ctx, call, addr, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Revision)

	results, err := node.ExecuteBatch(ctx, call, collection.ExecuteRequest{Filter: collection.Filter{Index: collection.IndexAddress}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", string(results[0].Response))

	require.NoError(t, node.EnableACL(ctx, call))
	assert.ErrorIs(t, node.EnableACL(ctx, call), collection.ErrAlreadyEnabled)

	_, err = node.Delete(ctx, collection.Call{Sender: "mallory", Time: 2}, []string{addr})
	assert.ErrorIs(t, err, collection.ErrUnauthorized)

	require.NoError(t, node.Snapshot())
	assert.Equal(t, []string{"node1"}, func() []string {
		var ids []string
		for _, id := range node.GetPeers() {
			ids = append(ids, string(id))
		}
		return ids
	}())
}
