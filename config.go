package moshvm

import (
	"fmt"
	"strconv"

	"moshvm/internal/resolve"
)

// Config is the flat name/value configuration of §6, parsed from
// whatever key/value store the embedder hands the client (unknown keys
// are ignored, per the contract).
type Config struct {
	Addr           string
	Port           string
	Family         resolve.RRType
	SSHMode        bool
	Key            string
	User           string
	RemoteCommand  string
	ServerCommand  string
	UseAgent       bool
	MoshEscapeKey  string
	UseDoHResolver bool
	TrustSSHFP     bool
	SocksProxy     bool
	KnownHostsFile string
	DiagAddr       string
}

// ParseConfig validates the required fields and applies defaults, in the
// teacher's ChannelDescriptor-parsing style: a focused constructor
// function rather than a struct tag/reflection-based decoder.
func ParseConfig(values map[string]string) (*Config, error) {
	cfg := &Config{
		Addr:   values["addr"],
		Port:   values["port"],
		Family: resolve.TypeA,
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("moshvm: config: %q is required", "addr")
	}
	if cfg.Port == "" {
		return nil, fmt.Errorf("moshvm: config: %q is required", "port")
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("moshvm: config: invalid port %q: %w", cfg.Port, err)
	}

	if values["family"] == "IPv6" {
		cfg.Family = resolve.TypeAAAA
	}
	cfg.SSHMode = values["mode"] == "ssh"
	cfg.Key = values["key"]
	cfg.User = values["user"]
	if cfg.SSHMode && cfg.User == "" {
		return nil, fmt.Errorf("moshvm: config: %q is required in ssh mode", "user")
	}
	cfg.RemoteCommand = values["remote-command"]
	cfg.ServerCommand = values["server-command"]
	cfg.UseAgent = values["use-agent"] == "true"
	cfg.MoshEscapeKey = values["mosh-escape-key"]
	cfg.UseDoHResolver = values["dns-resolver"] == "google-public-dns"
	cfg.TrustSSHFP = values["trust-sshfp"] == "true"
	cfg.SocksProxy = values["socks-proxy"] == "true"
	cfg.KnownHostsFile = values["known-hosts-file"]
	cfg.DiagAddr = values["diag-addr"]

	return cfg, nil
}
