// Package config loads the optional TOML file that can describe several
// vproxy listeners at once, mirroring the CLI flags of spec.md §6 field
// for field. It is read only by the "serve" subcommand; CLI flags do not
// override its values.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Listener describes one front-end or the admin service in a multi-
// listener TOML config.
type Listener struct {
	Protocol       string        `toml:"protocol"` // "http", "https", "socks5", "admin"
	Address        string        `toml:"address"`
	ConnectTimeout time.Duration `toml:"connect-timeout"`
	Concurrent     int           `toml:"concurrent"`
	CIDR           string        `toml:"cidr"`
	CIDRRange      int           `toml:"cidr-range"`
	Fallback       string        `toml:"fallback"`
	Username       string        `toml:"username"`
	Password       string        `toml:"password"`

	TLSCA        string `toml:"tls-ca"`
	TLSCrt       string `toml:"tls-crt"`
	TLSKey       string `toml:"tls-key"`
	TLSMutual    bool   `toml:"tls-mutual"`

	TTLIdleEvict time.Duration `toml:"ttl-idle-evict"`
	TTLStore     string        `toml:"ttl-store"` // "memory" or "redis"
	RedisAddress string        `toml:"redis-address"`
}

// Config is the root of a multi-listener TOML file.
type Config struct {
	Listeners map[string]Listener `toml:"listener"`
}

// Load reads one or more TOML files, in order, and decodes their
// concatenation into a single Config. A listener ID defined in more than
// one file is a decode error; no file overrides another.
func Load(paths ...string) (*Config, error) {
	buf := new(bytes.Buffer)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, errors.Wrapf(err, "opening config %q", p)
		}
		_, err = io.Copy(buf, f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %q", p)
		}
		buf.WriteString("\n")
	}
	var c Config
	if _, err := toml.NewDecoder(buf).Decode(&c); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects unknown protocols. Duplicate listener IDs cannot
// reach this function: they collide as TOML table keys, and both
// BurntSushi/toml's decode and the Go map underlying Config.Listeners
// reject/collapse them before Validate ever runs.
func Validate(c *Config) error {
	for id, l := range c.Listeners {
		switch l.Protocol {
		case "http", "https", "socks5", "admin":
		default:
			return errors.Errorf("listener %q: unsupported protocol %q", id, l.Protocol)
		}
	}
	return nil
}
