package main

import (
	"net"
	"sync"

	"github.com/folbricht/vproxy"
	"github.com/folbricht/vproxy/internal/config"
	"github.com/folbricht/vproxy/internal/ttlstore"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// newServeCmd builds the "serve" subcommand, which starts every listener
// described in one or more TOML config files at once (SPEC_FULL §2.2),
// the multi-listener analogue of "run".
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve <config.toml> [<config.toml>...]",
		Short: "start every listener defined in one or more config files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args...)
			if err != nil {
				return err
			}
			return serveAll(cfg)
		},
	}
}

func serveAll(cfg *config.Config) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(cfg.Listeners))

	var admin *vproxy.AdminListener
	for id, l := range cfg.Listeners {
		if l.Protocol == "admin" {
			admin = vproxy.NewAdminListener(id, l.Address)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := admin.Start(); err != nil {
					errCh <- errors.Wrapf(err, "admin listener %q", id)
				}
			}()
		}
	}

	for id, l := range cfg.Listeners {
		if l.Protocol == "admin" {
			continue
		}
		id, l := id, l
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serveOne(id, l); err != nil {
				errCh <- errors.Wrapf(err, "listener %q", id)
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func serveOne(id string, l config.Listener) error {
	ln, err := net.Listen("tcp", l.Address)
	if err != nil {
		return errors.Wrapf(err, "binding %s", l.Address)
	}

	ccfg := vproxy.ConnectorConfig{ConnectTimeout: l.ConnectTimeout}
	if l.CIDR != "" {
		c, err := vproxy.ParseCIDR(l.CIDR)
		if err != nil {
			ln.Close()
			return errors.Wrapf(err, "parsing cidr %q", l.CIDR)
		}
		ccfg.CIDR = &c
	}
	if l.CIDRRange > 0 {
		r := l.CIDRRange
		ccfg.CIDRRange = &r
	}
	if l.Fallback != "" {
		ip := net.ParseIP(l.Fallback)
		if ip == nil {
			ln.Close()
			return errors.Errorf("invalid fallback ip %q", l.Fallback)
		}
		ccfg.Fallback = ip
	}

	var store ttlstore.Store
	switch l.TTLStore {
	case "", "memory":
		store = ttlstore.NewMemory()
	case "redis":
		store = ttlstore.NewRedis(ttlstore.RedisOptions{Options: redis.Options{Addr: l.RedisAddress}})
	default:
		ln.Close()
		return errors.Errorf("unsupported ttl-store %q", l.TTLStore)
	}

	alloc := vproxy.NewAllocator(ccfg, store)
	binder := vproxy.NewBinder(ccfg)

	stopEvict := make(chan struct{})
	if l.TTLIdleEvict > 0 {
		go runEvictionSweep(alloc, l.TTLIdleEvict, stopEvict)
	}
	defer close(stopEvict)

	httpOpt := vproxy.HTTPOptions{
		ID:         id,
		Allocator:  alloc,
		Binder:     binder,
		Username:   l.Username,
		Password:   l.Password,
		Concurrent: l.Concurrent,
	}

	switch l.Protocol {
	case "http":
		return vproxy.NewHTTPServer(httpOpt).Serve(ln)
	case "https":
		tlsConfig, err := vproxy.TLSServerConfig(l.TLSCA, l.TLSCrt, l.TLSKey, l.TLSMutual)
		if err != nil {
			return errors.Wrap(err, "tls config")
		}
		return vproxy.NewHTTPSServer(vproxy.HTTPSOptions{HTTPOptions: httpOpt, TLSConfig: tlsConfig}).Serve(ln)
	case "socks5":
		return vproxy.NewSocks5Server(vproxy.Socks5Options{
			ID:         id,
			Allocator:  alloc,
			Binder:     binder,
			Username:   l.Username,
			Password:   l.Password,
			Concurrent: l.Concurrent,
		}).Serve(ln)
	default:
		return errors.Errorf("unsupported protocol %q", l.Protocol)
	}
}
