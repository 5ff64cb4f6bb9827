package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/folbricht/vproxy"
	"github.com/folbricht/vproxy/internal/ttlstore"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// frontEndOptions collects the flags common to the run subcommands (spec
// §6); adminAddr/ttlIdleEvict/ttlStore/redisAddress are SPEC_FULL
// additions layered on top.
type frontEndOptions struct {
	bind           string
	connectTimeout time.Duration
	concurrent     int
	cidr           string
	cidrRange      int
	fallback       string
	username       string
	password       string

	tlsCA     string
	tlsCrt    string
	tlsKey    string
	tlsMutual bool

	adminAddr    string
	ttlIdleEvict time.Duration
	ttlStore     string
	redisAddress string
}

func (o *frontEndOptions) registerCommon(flags *pflag.FlagSet) {
	flags.StringVar(&o.bind, "bind", ":1080", "address to listen on")
	flags.DurationVar(&o.connectTimeout, "connect-timeout", 10*time.Second, "upstream dial timeout")
	flags.IntVar(&o.concurrent, "concurrent", vproxy.DefaultConcurrent, "max concurrent client connections")
	flags.StringVar(&o.cidr, "cidr", "", "CIDR block to draw source addresses from")
	flags.IntVar(&o.cidrRange, "cidr-range", 0, "sub-block prefix width for the range extension")
	flags.StringVar(&o.fallback, "fallback", "", "fallback source IP used when bind/connect fails")
	flags.StringVar(&o.adminAddr, "admin-addr", "", "address for the admin listener (disabled if empty)")
	flags.DurationVar(&o.ttlIdleEvict, "ttl-idle-evict", 30*time.Minute, "idle duration after which TTL entries are evicted; 0 disables")
	flags.StringVar(&o.ttlStore, "ttl-store", "memory", "TTL state backend: memory or redis")
	flags.StringVar(&o.redisAddress, "redis-address", "", "redis address when --ttl-store=redis")
}

func (o *frontEndOptions) registerAuth(flags *pflag.FlagSet) {
	flags.StringVarP(&o.username, "username", "u", "", "proxy username")
	flags.StringVarP(&o.password, "password", "p", "", "proxy password")
}

func (o *frontEndOptions) registerTLS(flags *pflag.FlagSet) {
	flags.StringVar(&o.tlsCA, "tls-ca", "", "CA certificate for mutual TLS")
	flags.StringVar(&o.tlsCrt, "tls-crt", "", "server certificate")
	flags.StringVar(&o.tlsKey, "tls-key", "", "server key")
	flags.BoolVar(&o.tlsMutual, "tls-mutual", false, "require client certificates")
}

func main() {
	root := &cobra.Command{
		Use:          "vproxy",
		Short:        "source-affinity forward proxy",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", os.Getenv("VPROXY_LOG"), "log level: trace|debug|info|warn|error")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		if level == "" {
			return nil
		}
		return vproxy.SetLogLevel(level)
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "run a single front-end listener",
	}
	run.AddCommand(newHTTPCmd(false))
	run.AddCommand(newHTTPCmd(true))
	run.AddCommand(newSocks5Cmd())
	root.AddCommand(run)
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		vproxy.Log.WithError(err).Error("fatal")
		os.Exit(1)
	}
}

func newHTTPCmd(tls bool) *cobra.Command {
	name := "http"
	if tls {
		name = "https"
	}
	var o frontEndOptions
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("run the %s front-end", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, alloc, binder, err := o.buildListenerDeps(name)
			if err != nil {
				return err
			}
			httpOpt := vproxy.HTTPOptions{
				ID:         name,
				Allocator:  alloc,
				Binder:     binder,
				Username:   o.username,
				Password:   o.password,
				Concurrent: o.concurrent,
			}
			if !tls {
				return serveAndWait(ln, vproxy.NewHTTPServer(httpOpt), o.adminAddr, alloc, o.ttlIdleEvict)
			}
			tlsConfig, err := vproxy.TLSServerConfig(o.tlsCA, o.tlsCrt, o.tlsKey, o.tlsMutual)
			if err != nil {
				return errors.Wrap(err, "tls config")
			}
			srv := vproxy.NewHTTPSServer(vproxy.HTTPSOptions{HTTPOptions: httpOpt, TLSConfig: tlsConfig})
			return serveAndWait(ln, srv, o.adminAddr, alloc, o.ttlIdleEvict)
		},
	}
	o.registerCommon(cmd.Flags())
	o.registerAuth(cmd.Flags())
	if tls {
		o.registerTLS(cmd.Flags())
	}
	return cmd
}

func newSocks5Cmd() *cobra.Command {
	var o frontEndOptions
	cmd := &cobra.Command{
		Use:   "socks5",
		Short: "run the SOCKS5 front-end",
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, alloc, binder, err := o.buildListenerDeps("socks5")
			if err != nil {
				return err
			}
			srv := vproxy.NewSocks5Server(vproxy.Socks5Options{
				ID:         "socks5",
				Allocator:  alloc,
				Binder:     binder,
				Username:   o.username,
				Password:   o.password,
				Concurrent: o.concurrent,
			})
			return serveAndWait(ln, srv, o.adminAddr, alloc, o.ttlIdleEvict)
		},
	}
	o.registerCommon(cmd.Flags())
	o.registerAuth(cmd.Flags())
	return cmd
}

// frontEnd is satisfied by HTTPServer, HTTPSServer and Socks5Server.
type frontEnd interface {
	Serve(ln net.Listener) error
}

func (o *frontEndOptions) buildListenerDeps(id string) (net.Listener, *vproxy.Allocator, *vproxy.Binder, error) {
	ln, err := net.Listen("tcp", o.bind)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "binding %s listener on %s", id, o.bind)
	}

	cfg := vproxy.ConnectorConfig{ConnectTimeout: o.connectTimeout}
	if o.cidr != "" {
		c, err := vproxy.ParseCIDR(o.cidr)
		if err != nil {
			ln.Close()
			return nil, nil, nil, errors.Wrapf(err, "parsing --cidr %q", o.cidr)
		}
		cfg.CIDR = &c
	}
	if o.cidrRange > 0 {
		r := o.cidrRange
		cfg.CIDRRange = &r
	}
	if o.fallback != "" {
		ip := net.ParseIP(o.fallback)
		if ip == nil {
			ln.Close()
			return nil, nil, nil, errors.Errorf("invalid --fallback IP %q", o.fallback)
		}
		cfg.Fallback = ip
	}

	store, err := o.buildStore()
	if err != nil {
		ln.Close()
		return nil, nil, nil, err
	}

	return ln, vproxy.NewAllocator(cfg, store), vproxy.NewBinder(cfg), nil
}

func (o *frontEndOptions) buildStore() (ttlstore.Store, error) {
	switch o.ttlStore {
	case "", "memory":
		return ttlstore.NewMemory(), nil
	case "redis":
		if o.redisAddress == "" {
			return nil, errors.New("--ttl-store=redis requires --redis-address")
		}
		return ttlstore.NewRedis(ttlstore.RedisOptions{Options: redis.Options{Addr: o.redisAddress}}), nil
	default:
		return nil, errors.Errorf("unsupported --ttl-store %q", o.ttlStore)
	}
}

// serveAndWait starts the admin listener (if configured) and the TTL
// eviction sweep, runs fe.Serve in the foreground, and shuts everything
// down cleanly on SIGINT/SIGTERM, mirroring the teacher's
// cmd/routedns/main.go signal handling.
func serveAndWait(ln net.Listener, fe frontEnd, adminAddr string, alloc *vproxy.Allocator, ttlIdleEvict time.Duration) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var admin *vproxy.AdminListener
	if adminAddr != "" {
		admin = vproxy.NewAdminListener("admin", adminAddr)
		go func() {
			if err := admin.Start(); err != nil {
				vproxy.Log.WithError(err).Error("admin listener failed")
			}
		}()
	}

	stopEvict := make(chan struct{})
	if ttlIdleEvict > 0 {
		go runEvictionSweep(alloc, ttlIdleEvict, stopEvict)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- fe.Serve(ln) }()

	select {
	case err := <-errCh:
		close(stopEvict)
		return err
	case <-sig:
		vproxy.Log.Info("stopping")
		close(stopEvict)
		ln.Close()
		if admin != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			admin.Stop(ctx)
		}
		return nil
	}
}

func runEvictionSweep(alloc *vproxy.Allocator, idle time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := alloc.EvictIdle(time.Now().Add(-idle)); err != nil {
				vproxy.Log.WithError(err).Warn("ttl eviction sweep failed")
			}
		}
	}
}
