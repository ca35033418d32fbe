package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiderepo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunCommands(t *testing.T) {
	var out, errOut bytes.Buffer

	assert.Equal(t, 0, run([]string{"tiderepo", "version"}, &out, &errOut))
	assert.Contains(t, out.String(), "tiderepo dev")

	assert.Equal(t, 1, run([]string{"tiderepo"}, &out, &errOut))
	assert.Equal(t, 1, run([]string{"tiderepo", "explode"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "unknown command: explode")
}

func TestCheckConfig(t *testing.T) {
	good := writeConfig(t, "storage:\n  engine: memory\ncollection:\n  admin: root\n")
	bad := writeConfig(t, "storage:\n  engine: tape\n")

	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"tiderepo", "check", "-config", good}, &out, &errOut))
	assert.Contains(t, out.String(), "configuration ok")

	assert.Equal(t, 1, run([]string{"tiderepo", "check", "-config", bad}, &out, &errOut))
	assert.Contains(t, errOut.String(), "storage.engine")

	// 命令行参数覆盖配置文件
	assert.Equal(t, 1, run([]string{"tiderepo", "check", "-config", good, "-addr", "nope"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "http.addr")
}

func TestServiceWiring(t *testing.T) {
	path := writeConfig(t, `
storage:
  engine: memory
collection:
  admin: root
acl:
  create: ["root"]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	s, err := newService(cfg, hclog.NewNullLogger())
	require.NoError(t, err)
	defer s.close()

	ctx := context.Background()
	call := collection.Call{Sender: "root", Time: 1}
	addr, err := s.coll.Create(ctx, call, collection.CreateRequest{})
	require.NoError(t, err)
	assert.Regexp(t, `^child1[0-9a-f]{16}$`, addr)

	resp, err := s.coll.ExecuteBatch(ctx, call, collection.ExecuteRequest{
		Filter: collection.Filter{Index: collection.IndexID{Kind: collection.KindAddress}},
	})
	require.NoError(t, err)
	require.Len(t, resp, 1)
	assert.Equal(t, "1", string(resp[0].Response))

	// ACL 开启后只按规则放行
	require.NoError(t, s.coll.EnableACL(ctx, call))
	_, err = s.coll.Create(ctx, collection.Call{Sender: "eve", Time: 2}, collection.CreateRequest{})
	assert.ErrorIs(t, err, collection.ErrUnauthorized)

	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: memory
acl:
  create: ["eve"]
`), 0o600))
	s.reloadACL(path)
	_, err = s.coll.Create(ctx, collection.Call{Sender: "eve", Time: 3}, collection.CreateRequest{})
	assert.NoError(t, err)

	// 非法规则不会替换现有规则
	require.NoError(t, os.WriteFile(path, []byte("acl:\n  explode: [\"eve\"]\n"), 0o600))
	s.reloadACL(path)
	_, err = s.coll.Create(ctx, collection.Call{Sender: "eve", Time: 4}, collection.CreateRequest{})
	assert.NoError(t, err)
}
