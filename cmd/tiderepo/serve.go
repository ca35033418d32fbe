package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	hraft "github.com/hashicorp/raft"

	"github.com/forever-free1/TideRepo/acl"
	httpapi "github.com/forever-free1/TideRepo/api/http"
	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/config"
	"github.com/forever-free1/TideRepo/host"
	"github.com/forever-free1/TideRepo/logging"
	"github.com/forever-free1/TideRepo/metrics"
	"github.com/forever-free1/TideRepo/raft"
	"github.com/forever-free1/TideRepo/storage"
	"github.com/forever-free1/TideRepo/storage/bitcask"
	"github.com/forever-free1/TideRepo/storage/index"
	"github.com/forever-free1/TideRepo/storage/memkv"
	"github.com/forever-free1/TideRepo/storage/pebblekv"
	"github.com/forever-free1/TideRepo/watch"
)

const shutdownTimeout = 30 * time.Second

// 内置的子合约代码
const (
	codeCounter uint64 = 1
	codeEcho    uint64 = 2
)

// loadConfig 解析公共参数，命令行参数覆盖配置文件
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, string, error) {
	configFile := fs.String("config", "", "path to the YAML configuration file")
	addr := fs.String("addr", "", "HTTP listen address (overrides config)")
	dataDir := fs.String("data-dir", "", "storage directory (overrides config)")
	logLevel := fs.String("log-level", "", "log level: trace, debug, info, warn, error (overrides config)")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	cfg := config.Default()
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, "", fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := config.Parse(data, cfg); err != nil {
			return nil, "", err
		}
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *dataDir != "" {
		cfg.Storage.Dir = *dataDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, *configFile, nil
}

// checkCmd 只校验配置
func checkCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if _, _, err := loadConfig(fs, args); err != nil {
		fmt.Fprintf(stderr, "configuration errors:\n%v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "configuration ok")
	return 0
}

// serveCmd 启动服务，直到收到 SIGINT 或 SIGTERM
// SIGHUP 重新读取配置文件中的 ACL 规则
func serveCmd(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg, configFile, err := loadConfig(fs, args)
	if err != nil {
		fmt.Fprintf(stderr, "configuration errors:\n%v\n", err)
		return 1
	}

	logger, err := logging.New("tiderepo", cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	srv, err := newService(cfg, logger)
	if err != nil {
		logger.Error("启动失败", "error", err)
		return 1
	}
	defer srv.close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.http.Start()
	}()
	logger.Info("服务已启动", "addr", cfg.HTTP.Addr, "engine", cfg.Storage.Engine, "raft", cfg.Raft.Enabled)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				srv.reloadACL(configFile)
				continue
			}
			logger.Info("收到信号，开始关闭", "signal", sig.String())
			// 先关闭 watch 连接，Shutdown 才不会等待长连接
			srv.hub.Close()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			err := srv.http.Shutdown(ctx)
			cancel()
			if err != nil {
				logger.Error("关闭 HTTP 服务失败", "error", err)
				return 1
			}
			return 0

		case err := <-errCh:
			if err != nil {
				logger.Error("HTTP 服务异常退出", "error", err)
				return 1
			}
			return 0
		}
	}
}

// service 持有一个运行中的节点的全部组件
type service struct {
	logger hclog.Logger
	engine storage.OrderedEngine
	gate   *acl.StaticGate
	hub    *watch.WatchHub
	coll   *collection.Collection
	node   *raft.Node
	http   *httpapi.Server
}

func newService(cfg *config.Config, logger hclog.Logger) (*service, error) {
	engine, err := openEngine(cfg.Storage)
	if err != nil {
		return nil, err
	}
	s := &service{logger: logger, engine: engine}

	h := host.New(engine,
		host.WithAddressPrefix(cfg.Host.AddressPrefix),
		host.WithLogger(logger.Named("host")),
	)
	h.Register(codeCounter, host.Counter{})
	h.Register(codeEcho, host.Echo{})

	if s.gate, err = acl.NewStaticGate(cfg.ACL); err != nil {
		s.close()
		return nil, err
	}
	s.hub = watch.NewWatchHub()

	opts, err := cfg.CollectionOptions()
	if err != nil {
		s.close()
		return nil, err
	}
	opts = append(opts,
		collection.WithGate(s.gate),
		collection.WithLogger(logger.Named("collection")),
		collection.WithListener(s.hub.Listener()),
	)
	if s.coll, err = collection.New(engine, h, opts...); err != nil {
		s.close()
		return nil, err
	}

	var backend httpapi.Backend = s.coll
	if cfg.Raft.Enabled {
		if s.node, err = newNode(cfg, engine, s.coll, logger); err != nil {
			s.close()
			return nil, err
		}
		backend = s.node
	}

	m := metrics.New(metrics.Sources{
		Entries:  func() float64 { return float64(s.coll.Count(context.Background())) },
		Watchers: func() float64 { return float64(s.hub.Count()) },
		Dropped:  func() float64 { return float64(s.hub.Dropped()) },
	})
	s.http = httpapi.NewServer(cfg.HTTP.Addr, backend, s.hub,
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithMetrics(m),
		httpapi.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.Burst),
	)
	return s, nil
}

// openEngine 按配置打开存储引擎
func openEngine(sc config.StorageConfig) (storage.OrderedEngine, error) {
	switch sc.Engine {
	case config.EngineMemory:
		return memkv.Open(), nil
	case config.EnginePebble:
		db, err := pebblekv.Open(filepath.Join(sc.Dir, "pebble"), pebblekv.WithSync(sc.SyncWrites))
		if err != nil {
			return nil, fmt.Errorf("打开 pebble 失败: %w", err)
		}
		return db, nil
	default:
		kind, _ := index.ParseKind(sc.Keydir)
		db, err := bitcask.Open(filepath.Join(sc.Dir, "bitcask"),
			bitcask.WithKeydir(kind),
			bitcask.WithCompression(sc.Compression),
			bitcask.WithSyncWrites(sc.SyncWrites),
			bitcask.WithDataFileSizeLimit(sc.FileSizeLimit),
			bitcask.WithBloomFilter(sc.BloomCapacity, sc.BloomFP),
		)
		if err != nil {
			return nil, fmt.Errorf("打开 bitcask 失败: %w", err)
		}
		return db, nil
	}
}

func newNode(cfg *config.Config, engine storage.OrderedEngine, coll *collection.Collection, logger hclog.Logger) (*raft.Node, error) {
	var peers []hraft.Server
	for _, p := range cfg.Raft.Peers {
		peers = append(peers, hraft.Server{
			ID:      hraft.ServerID(p.ID),
			Address: hraft.ServerAddress(p.Addr),
		})
	}
	return raft.NewNode(engine, coll, &raft.NodeConfig{
		NodeID:    hraft.ServerID(cfg.Raft.NodeID),
		BindAddr:  cfg.Raft.BindAddr,
		DataDir:   cfg.Storage.Dir,
		Bootstrap: cfg.Raft.Bootstrap,
		Peers:     peers,
		Logger:    logger.Named("node"),
	})
}

// reloadACL 从配置文件重新加载 ACL 规则，失败时保留旧规则
func (s *service) reloadACL(configFile string) {
	if configFile == "" {
		s.logger.Warn("没有配置文件，忽略 ACL 重新加载")
		return
	}
	cfg, err := config.Load(configFile)
	if err == nil {
		err = s.gate.Replace(cfg.ACL)
	}
	if err != nil {
		s.logger.Error("ACL 重新加载失败", "error", err)
		return
	}
	s.logger.Info("ACL 规则已重新加载", "actions", len(cfg.ACL))
}

func (s *service) close() {
	var errs []error
	if s.node != nil {
		errs = append(errs, s.node.Close())
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.engine != nil {
		errs = append(errs, s.engine.Close())
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("关闭组件失败", "error", err)
	}
}
