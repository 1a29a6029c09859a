package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/echenim/Bedrock/contracts/internal/admin"
	"github.com/echenim/Bedrock/contracts/internal/codecache"
	"github.com/echenim/Bedrock/contracts/internal/config"
	"github.com/echenim/Bedrock/contracts/internal/execution"
	"github.com/echenim/Bedrock/contracts/internal/ledger"
	"github.com/echenim/Bedrock/contracts/internal/rpc"
	"github.com/echenim/Bedrock/contracts/internal/sandbox"
	"github.com/echenim/Bedrock/contracts/internal/storage"
	"github.com/echenim/Bedrock/contracts/internal/telemetry"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"go.uber.org/zap"
)

// Node owns the execution engine, its state and the servers in front of it.
type Node struct {
	cfg *config.Config

	// Subsystems.
	store       storage.Store
	cache       *codecache.Cache
	executive   *execution.Executive
	rpcServer   *rpc.Server
	gateway     *rpc.Gateway
	adminServer *admin.Server
	metrics     *telemetry.Metrics
	metricsSrv  *telemetry.MetricsServer

	svcMgr    *ServiceManager
	logger    *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewNode creates and wires all subsystems without starting them. A nil
// genesis leaves the ledger as stored.
func NewNode(cfg *config.Config, genesis *config.GenesisDoc, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("moniker", cfg.Moniker))

	feeCollector, err := types.AddressFromHex(cfg.Execution.FeeCollector)
	if err != nil {
		return nil, fmt.Errorf("node: fee collector: %w", err)
	}
	rentCollector, err := types.AddressFromHex(cfg.Execution.RentCollector)
	if err != nil {
		return nil, fmt.Errorf("node: rent collector: %w", err)
	}

	// 1. Storage.
	store, err := storage.OpenStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	// 2. Ledger and genesis funding.
	accounts := ledger.New(store)
	if genesis != nil {
		balances, err := genesis.Balances()
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("node: genesis: %w", err)
		}
		applied, err := ledger.ApplyGenesis(store, accounts, balances)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("node: apply genesis: %w", err)
		}
		if applied {
			logger.Info("genesis applied",
				zap.String("chain_id", genesis.ChainID),
				zap.Int("accounts", len(balances)),
			)
		}
	}

	// 3. Metrics.
	metrics := telemetry.NopMetrics()
	var metricsSrv *telemetry.MetricsServer
	if cfg.Telemetry.Enabled {
		metrics = telemetry.NewMetrics("contracts")
		metricsSrv = telemetry.NewMetricsServer(cfg.Telemetry.Addr, metrics, logger.Named("metrics"))
	}

	// 4. Sandbox engine and code cache.
	engine, err := sandbox.NewEngine(cfg.Schedule, logger.Named("sandbox"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("node: create sandbox engine: %w", err)
	}
	cache, err := codecache.New(engine, store, cfg.Execution.CodeCacheSize, logger.Named("codecache"), metrics)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("node: create code cache: %w", err)
	}

	// 5. Executive.
	exec, err := execution.New(execution.Deps{
		Engine:        engine,
		Code:          cache,
		State:         store,
		Fees:          ledger.NewGasFees(cfg.Execution.GasPrice, feeCollector),
		RentCollector: rentCollector,
	}, logger.Named("execution"), metrics)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("node: create executive: %w", err)
	}

	// 6. RPC server.
	rpcServer := rpc.NewServer(cfg.RPC.GRPCAddr, cfg.Execution.RequestTimeout.Duration, logger.Named("rpc"))
	svc := rpc.NewService(exec, logger.Named("rpc"))
	rpcServer.RegisterService(svc)

	// 7. HTTP gateway.
	var gw *rpc.Gateway
	if cfg.RPC.HTTPAddr != "" {
		gw = rpc.NewGateway(cfg.RPC.HTTPAddr, svc, logger.Named("gateway"))
	}

	// 8. Admin server.
	var adminSrv *admin.Server
	if cfg.RPC.AdminAddr != "" {
		adminSrv = admin.NewServer(cfg.RPC.AdminAddr, cache, exec, store, logger.Named("admin"))
	}

	n := &Node{
		cfg:         cfg,
		store:       store,
		cache:       cache,
		executive:   exec,
		rpcServer:   rpcServer,
		gateway:     gw,
		adminServer: adminSrv,
		metrics:     metrics,
		metricsSrv:  metricsSrv,
		svcMgr:      NewServiceManager(logger),
		logger:      logger,
		done:        make(chan struct{}),
	}

	n.svcMgr.Add(rpcServer)
	if gw != nil {
		n.svcMgr.Add(gw)
	}
	if adminSrv != nil {
		n.svcMgr.Add(adminSrv)
	}
	if metricsSrv != nil {
		n.svcMgr.Add(&metricsService{srv: metricsSrv, logger: logger.Named("metrics")})
	}
	return n, nil
}

// Start boots all servers in order.
func (n *Node) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.logger.Info("node starting",
		zap.String("grpc_addr", n.cfg.RPC.GRPCAddr),
		zap.String("storage", n.cfg.Storage.Backend),
	)

	if err := n.svcMgr.StartAll(ctx); err != nil {
		cancel()
		return fmt.Errorf("node: %w", err)
	}

	n.logger.Info("node started successfully",
		zap.String("grpc_addr", n.rpcServer.GRPCAddr()),
	)
	return nil
}

// Stop shuts down the servers in reverse order and closes the store. It is
// safe to call more than once and without Start.
func (n *Node) Stop() error {
	var err error
	n.closeOnce.Do(func() {
		n.logger.Info("node stopping")
		if n.cancel != nil {
			n.cancel()
			err = n.svcMgr.StopAll()
		}
		if cerr := n.store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("node: close store: %w", cerr)
		}
		n.logger.Info("node stopped")
		close(n.done)
	})
	return err
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() error {
	<-n.done
	return nil
}

// Store returns the node's storage (for testing).
func (n *Node) Store() storage.Store {
	return n.store
}

// Executive returns the call dispatcher.
func (n *Node) Executive() *execution.Executive {
	return n.executive
}

// RPCServer returns the RPC server (for testing).
func (n *Node) RPCServer() *rpc.Server {
	return n.rpcServer
}

// Gateway returns the HTTP gateway, or nil when disabled.
func (n *Node) Gateway() *rpc.Gateway {
	return n.gateway
}

// AdminServer returns the admin server, or nil when disabled.
func (n *Node) AdminServer() *admin.Server {
	return n.adminServer
}

// CodeCache returns the compiled-module cache.
func (n *Node) CodeCache() *codecache.Cache {
	return n.cache
}

// Metrics returns the node's metrics.
func (n *Node) Metrics() *telemetry.Metrics {
	return n.metrics
}

// metricsService runs a MetricsServer under the ServiceManager.
type metricsService struct {
	srv    *telemetry.MetricsServer
	logger *zap.Logger
}

func (m *metricsService) Start(ctx context.Context) error {
	go func() {
		if err := m.srv.Start(); err != nil {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

func (m *metricsService) Stop() error { return m.srv.Stop() }

func (m *metricsService) Name() string { return "metrics" }
