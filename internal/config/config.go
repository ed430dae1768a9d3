// Package config loads the YAML pool configuration file described in
// spec.md §6. The file location is resolved through github.com/spf13/viper,
// the way marmos91-dittofs resolves its own service config (no environment
// overrides are bound); the document itself is
// decoded with gopkg.in/yaml.v3 so the compact "host:port:weight[ name]"
// servers entries can implement yaml.Unmarshaler, a form viper's
// mapstructure decoding has no hook for.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lukluk/rendang/internal/hashkit"
	"github.com/lukluk/rendang/internal/server"
)

// Stats is the process-wide stats listener config (spec.md §6).
type Stats struct {
	Listen  string `yaml:"listen"`
	Service string `yaml:"service"`
}

// File is the top-level shape of a rendang config file: a named map of
// pools plus the stats listener.
type File struct {
	Stats Stats                 `yaml:"stats"`
	Pools map[string]PoolConfig `yaml:"pools"`
}

// ServerSpec is one "servers:" entry, decoded from either compact form:
// "host:port:weight" or "host:port:weight name".
type ServerSpec struct {
	Host, Port, Name string
	Weight           uint32
}

// UnmarshalYAML implements the compact scalar form spec.md §6 names,
// rather than requiring a mapping with host/port/weight/name keys.
func (s *ServerSpec) UnmarshalYAML(value *yaml.Node) error {
	var line string
	if err := value.Decode(&line); err != nil {
		return fmt.Errorf("config: server entry must be a string: %w", err)
	}
	parts := strings.SplitN(line, " ", 2)
	fields := strings.Split(parts[0], ":")
	if len(fields) != 3 {
		return fmt.Errorf("config: malformed server entry %q", line)
	}
	weight, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return fmt.Errorf("config: invalid weight in %q: %w", line, err)
	}
	s.Host, s.Port, s.Weight = fields[0], fields[1], uint32(weight)
	s.Name = s.Host + ":" + s.Port
	if len(parts) == 2 {
		s.Name = parts[1]
	}
	return nil
}

// PoolConfig mirrors spec.md §6's per-pool declaration.
type PoolConfig struct {
	Listen             string       `yaml:"listen"`
	Hash               string       `yaml:"hash"`
	Distribution       string       `yaml:"distribution"`
	HashTag            string       `yaml:"hash_tag"`
	Timeout            *int64       `yaml:"timeout"`
	Backlog            int          `yaml:"backlog"`
	ClientConnections  int          `yaml:"client_connections"`
	Redis              bool         `yaml:"redis"`
	Preconnect         bool         `yaml:"preconnect"`
	AutoEjectHosts     bool         `yaml:"auto_eject_hosts"`
	ServerConnections  int          `yaml:"server_connections"`
	ServerRetryTimeout int64        `yaml:"server_retry_timeout"`
	ServerFailureLimit int          `yaml:"server_failure_limit"`
	Servers            []ServerSpec `yaml:"servers"`
}

// Load locates path through viper (so a future RENDANG_CONFIG env override
// or alternate format is a one-line change) and decodes its contents with
// yaml.v3, then applies the spec-mandated defaults to every pool.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	raw, err := os.ReadFile(v.ConfigFileUsed())
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for name, pc := range f.Pools {
		applyDefaults(&pc)
		f.Pools[name] = pc
	}
	return &f, nil
}

// applyDefaults fills in spec.md §6's defaults for any field the config
// file left at its zero value.
func applyDefaults(pc *PoolConfig) {
	if pc.Hash == "" {
		pc.Hash = string(hashkit.FNV1a64)
	}
	if pc.Distribution == "" {
		pc.Distribution = string(hashkit.Ketama)
	}
	if pc.Timeout == nil {
		noTimeout := int64(-1)
		pc.Timeout = &noTimeout
	}
	if pc.Backlog == 0 {
		pc.Backlog = 512
	}
	if pc.ServerConnections == 0 {
		pc.ServerConnections = 1
	}
	if pc.ServerRetryTimeout == 0 {
		pc.ServerRetryTimeout = 30000
	}
	if pc.ServerFailureLimit == 0 {
		pc.ServerFailureLimit = 2
	}
}

// BuildPool turns one decoded PoolConfig into a live server.Pool.
func BuildPool(name string, pc PoolConfig) (*server.Pool, error) {
	if len(pc.Servers) == 0 {
		return nil, fmt.Errorf("config: pool %q has no servers", name)
	}
	if pc.Listen == "" {
		return nil, fmt.Errorf("config: pool %q missing listen", name)
	}
	servers := make([]*server.Server, 0, len(pc.Servers))
	for _, s := range pc.Servers {
		servers = append(servers, &server.Server{
			Name:   s.Name,
			Addr:   s.Host + ":" + s.Port,
			Weight: s.Weight,
		})
	}
	timeout := int64(-1)
	if pc.Timeout != nil {
		timeout = *pc.Timeout
	}
	cfg := server.Config{
		Name:                 name,
		Listen:               pc.Listen,
		Hash:                 hashkit.Name(pc.Hash),
		Distribution:         hashkit.Distribution(pc.Distribution),
		HashTag:              pc.HashTag,
		TimeoutMs:            timeout,
		Backlog:              pc.Backlog,
		ClientConnections:    pc.ClientConnections,
		Redis:                pc.Redis,
		Preconnect:           pc.Preconnect,
		AutoEjectHosts:       pc.AutoEjectHosts,
		ServerConnections:    pc.ServerConnections,
		ServerRetryTimeoutMs: pc.ServerRetryTimeout,
		ServerFailureLimit:   pc.ServerFailureLimit,
	}
	return server.NewPool(cfg, servers), nil
}

// Validate decodes every pool in f without constructing listeners,
// matching the "-t/--test-conf" validate-only CLI flag.
func Validate(f *File) error {
	if len(f.Pools) == 0 {
		return fmt.Errorf("config: no pools defined")
	}
	for name, pc := range f.Pools {
		if _, err := BuildPool(name, pc); err != nil {
			return err
		}
	}
	return nil
}
