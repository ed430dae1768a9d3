package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lukluk/rendang/internal/hashkit"
)

func TestServerSpecUnmarshalCompactFormWithoutName(t *testing.T) {
	var s ServerSpec
	require.NoError(t, yaml.Unmarshal([]byte(`"10.0.0.1:11211:2"`), &s))
	assert.Equal(t, "10.0.0.1", s.Host)
	assert.Equal(t, "11211", s.Port)
	assert.Equal(t, uint32(2), s.Weight)
	assert.Equal(t, "10.0.0.1:11211", s.Name) // defaults to host:port
}

func TestServerSpecUnmarshalCompactFormWithName(t *testing.T) {
	var s ServerSpec
	require.NoError(t, yaml.Unmarshal([]byte(`"10.0.0.1:11211:2 cache1"`), &s))
	assert.Equal(t, "cache1", s.Name)
	assert.Equal(t, uint32(2), s.Weight)
}

func TestServerSpecUnmarshalRejectsWrongFieldCount(t *testing.T) {
	var s ServerSpec
	assert.Error(t, yaml.Unmarshal([]byte(`"10.0.0.1:11211"`), &s))
}

func TestServerSpecUnmarshalRejectsNonIntegerWeight(t *testing.T) {
	var s ServerSpec
	assert.Error(t, yaml.Unmarshal([]byte(`"10.0.0.1:11211:heavy"`), &s))
}

func TestServerSpecUnmarshalRejectsNonScalar(t *testing.T) {
	var s ServerSpec
	assert.Error(t, yaml.Unmarshal([]byte("host: 10.0.0.1\nport: 11211"), &s))
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	pc := PoolConfig{}
	applyDefaults(&pc)
	assert.Equal(t, string(hashkit.FNV1a64), pc.Hash)
	assert.Equal(t, string(hashkit.Ketama), pc.Distribution)
	require.NotNil(t, pc.Timeout)
	assert.Equal(t, int64(-1), *pc.Timeout)
	assert.Equal(t, 512, pc.Backlog)
	assert.Equal(t, 1, pc.ServerConnections)
	assert.Equal(t, int64(30000), pc.ServerRetryTimeout)
	assert.Equal(t, 2, pc.ServerFailureLimit)
}

func TestApplyDefaultsLeavesExplicitValuesAlone(t *testing.T) {
	explicitTimeout := int64(500)
	pc := PoolConfig{
		Hash:               "murmur",
		Distribution:       "modula",
		Timeout:            &explicitTimeout,
		Backlog:            16,
		ServerConnections:  4,
		ServerRetryTimeout: 1000,
		ServerFailureLimit: 5,
	}
	applyDefaults(&pc)
	assert.Equal(t, "murmur", pc.Hash)
	assert.Equal(t, "modula", pc.Distribution)
	assert.Equal(t, int64(500), *pc.Timeout)
	assert.Equal(t, 16, pc.Backlog)
	assert.Equal(t, 4, pc.ServerConnections)
	assert.Equal(t, int64(1000), pc.ServerRetryTimeout)
	assert.Equal(t, 5, pc.ServerFailureLimit)
}

func TestBuildPoolRejectsNoServers(t *testing.T) {
	_, err := BuildPool("p", PoolConfig{Listen: "127.0.0.1:6000"})
	assert.Error(t, err)
}

func TestBuildPoolRejectsMissingListen(t *testing.T) {
	_, err := BuildPool("p", PoolConfig{Servers: []ServerSpec{{Host: "h", Port: "1", Weight: 1, Name: "h:1"}}})
	assert.Error(t, err)
}

func TestBuildPoolConstructsServersFromSpecs(t *testing.T) {
	pc := PoolConfig{
		Listen: "127.0.0.1:6000",
		Servers: []ServerSpec{
			{Host: "10.0.0.1", Port: "11211", Weight: 1, Name: "a"},
			{Host: "10.0.0.2", Port: "11211", Weight: 2, Name: "b"},
		},
	}
	applyDefaults(&pc)
	p, err := BuildPool("p", pc)
	require.NoError(t, err)
	require.Len(t, p.Servers, 2)
	assert.Equal(t, "10.0.0.1:11211", p.Servers[0].Addr)
	assert.Equal(t, "b", p.Servers[1].Name)
}

func TestValidateRejectsEmptyFile(t *testing.T) {
	assert.Error(t, Validate(&File{}))
}

func TestValidatePropagatesBuildPoolError(t *testing.T) {
	f := &File{Pools: map[string]PoolConfig{
		"broken": {}, // no servers, no listen
	}}
	assert.Error(t, Validate(f))
}

func TestValidateAcceptsWellFormedFile(t *testing.T) {
	pc := PoolConfig{
		Listen:  "127.0.0.1:6000",
		Servers: []ServerSpec{{Host: "10.0.0.1", Port: "11211", Weight: 1, Name: "a"}},
	}
	applyDefaults(&pc)
	f := &File{Pools: map[string]PoolConfig{"ok": pc}}
	assert.NoError(t, Validate(f))
}

func TestLoadReadsFileAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rendang.yaml")
	doc := `
stats:
  listen: 127.0.0.1:9090
  service: rendang
pools:
  cache:
    listen: 127.0.0.1:22121
    servers:
      - "10.0.0.1:11211:1 node1"
      - "10.0.0.2:11211:1 node2"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", f.Stats.Listen)
	require.Contains(t, f.Pools, "cache")
	pc := f.Pools["cache"]
	assert.Equal(t, string(hashkit.FNV1a64), pc.Hash) // default applied by Load
	require.Len(t, pc.Servers, 2)
	assert.Equal(t, "node1", pc.Servers[0].Name)
}

func TestLoadErrsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
