package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/calimero-network/core/internal/applier"
	"github.com/calimero-network/core/internal/capability"
	"github.com/calimero-network/core/internal/dag"
	"github.com/calimero-network/core/internal/logging"
	"github.com/calimero-network/core/internal/storage"
	"github.com/calimero-network/core/internal/sync"
	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/config"
)

// syncProtocolID names the wire protocol Engine.ServeStream listens on;
// a host wiring in a real capability.Transport registers its stream
// handler under this same ID so Reconcile's OpenStream calls land there.
const syncProtocolID = "/calimero/sync/1.0.0"

// loopbackExecutor is a placeholder Executor: it acknowledges every
// apply with an empty root hash and never reports a blob available.
// A real deployment wires in a WASM runtime instead; this exists so
// the node wiring below runs standalone for inspection and smoke
// testing without one.
type loopbackExecutor struct{}

func (loopbackExecutor) Execute(ctx context.Context, contextID, method string, envelope []byte) ([]byte, error) {
	return json.Marshal(applier.Outcome{})
}

func (loopbackExecutor) HasBlob(ctx context.Context, digest string) (bool, error) {
	return false, nil
}

// staticSenderKeys resolves every author to one fixed secret, standing
// in for the key-share handshake's persisted per-identity records
// until a caller has run that exchange.
type staticSenderKeys struct {
	secret []byte
}

func (k staticSenderKeys) SenderKey(ctx context.Context, contextID, authorID string) ([]byte, uint64, error) {
	if len(k.secret) == 0 {
		return nil, 0, calerr.Wrap(calerr.ErrSenderKeyMissing, "no sender key configured for author %s", authorID)
	}
	return k.secret, 0, nil
}

func main() {
	configFile := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.With(ctx, logger)

	base, err := storage.NewBadgerStore(cfg.Node.DataDir + "/badger")
	if err != nil {
		logger.Fatalw("failed to open storage", "error", err)
	}
	defer base.Close()

	// One CRDTStore/DAG/Applier/Engine set per joined context; a host
	// builds one of each as contexts are joined. This entry point wires
	// a single example context so the node runs standalone.
	const contextID = "default"
	store, err := storage.NewCRDTStore(ctx, base, contextID, cfg.Merkle.Branching, cfg.Merkle.ChunkSize)
	if err != nil {
		logger.Fatalw("failed to build CRDT store", "error", err)
	}

	a := applier.NewWithConfig(loopbackExecutor{}, staticSenderKeys{}, store, "root", cfg.Applier)
	dagStore := dag.New(contextID, a)

	// transport and peers are populated by the host once a libp2p swarm
	// and peer discovery are available (network transport construction
	// is an external collaborator concern, not this module's — see
	// DESIGN.md). Until then the scheduler tick below stays a no-op
	// beyond logging backlog size.
	var transport capability.Transport
	var peers []peer.ID
	engine := sync.New(contextID, "root", dagStore, store, transport, cfg.Sync)

	scheduler := sync.NewScheduler(cfg.Sync, []string{contextID}, func(ctx context.Context, contextID string) error {
		if transport == nil || len(peers) == 0 {
			logger.Debugw("proactive sync tick: no peers to reconcile against", "context_id", contextID, "pending", dagStore.PendingCount())
			return nil
		}
		for _, p := range peers {
			if err := engine.Reconcile(ctx, p, syncProtocolID); err != nil {
				logger.Warnw("reconcile failed", "context_id", contextID, "peer", p, "error", err)
			}
		}
		return nil
	})
	go scheduler.Run(ctx)

	logger.Infow("calimero context runtime started", "context_id", contextID, "data_dir", cfg.Node.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
}
