// Command relayd is the composition root: it loads configuration, opens
// the node's persistent store, and wires every core component together.
// There is no REST/CLI surface here beyond process bring-up and
// teardown, per spec §1's Non-goals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	sphinx "github.com/lightningnetwork/lightning-onion"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/relaymesh/relayd/internal/chainiface"
	"github.com/relaymesh/relayd/internal/channelgraph"
	"github.com/relaymesh/relayd/internal/config"
	"github.com/relaymesh/relayd/internal/heartbeat"
	"github.com/relaymesh/relayd/internal/keystore"
	"github.com/relaymesh/relayd/internal/logctx"
	"github.com/relaymesh/relayd/internal/onion"
	"github.com/relaymesh/relayd/internal/packet"
	"github.com/relaymesh/relayd/internal/pathselect"
	"github.com/relaymesh/relayd/internal/replay"
	"github.com/relaymesh/relayd/internal/session"
	"github.com/relaymesh/relayd/internal/store"
	"github.com/relaymesh/relayd/internal/strategy"
	"github.com/relaymesh/relayd/internal/surb"
	"github.com/relaymesh/relayd/internal/ticketcore/ack"
	"github.com/relaymesh/relayd/internal/ticketcore/index"
	"github.com/relaymesh/relayd/internal/ticketcore/ticket"
	"github.com/relaymesh/relayd/internal/txseq"
)

var log = logctx.Disabled

// node bundles every long-lived service the composition root starts and
// stops together.
type node struct {
	cfg *config.Config

	db       *store.DB
	identity *keystore.Identity
	peers    *keystore.Directory

	graph   *channelgraph.Graph
	tracker *index.Tracker
	filter  *replay.Filter

	onionProc *onion.Processor
	resolver  *ack.Resolver
	processor *packet.Processor

	surbs    *surb.Store
	sessions *session.Manager

	selector *pathselect.Selector
	prober   *heartbeat.Prober

	sequencer *txseq.Sequencer

	funding   strategy.AutoFundingStrategy
	redeeming strategy.AutoRedeemingStrategy

	chain chainiface.ChainWriteOperations
}

// buildNode wires every component per SPEC_FULL.md's composition: the
// Channel Graph and Ticket Index Tracker are constructed first since
// downstream components read them; the Ack Resolver and Packet Processor
// are built from those; the Session Manager and SURB Balancer sit above.
func buildNode(cfg *config.Config, identityKey *btcec.PrivateKey, chain chainiface.ChainWriteOperations, count txseq.CountFunc) (*node, error) {
	dbPath := filepath.Join(cfg.DataDir, "relayd.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("relayd: open store: %w", err)
	}

	identity := keystore.New(identityKey)
	peers := keystore.NewDirectory()

	graph := channelgraph.New()
	tracker := index.New(db)

	filter := replay.New()
	if blob, err := db.LoadReplayFilter(context.Background()); err == nil && blob != nil {
		if err := filter.Load(blob); err != nil {
			log.Warnf("relayd: discarding corrupt replay filter dump: %v", err)
		}
	}

	router := sphinx.NewRouter(identityKey, &chaincfg.MainNetParams, sphinx.NewMemoryReplayLog())
	onionProc := onion.NewProcessor(router)

	resolver := ack.New(graph, tracker, identityKey, identity.OnchainAddr[:], domainSeparator(cfg), 4)

	processor := packet.New(packet.Config{
		Onion:        onionProc,
		ReplayFilter: filter,
		Graph:        graph,
		Tracker:      tracker,
		UnackCache:   resolver,
		Addresses:    peers,
		Self:         identity.OnchainAddr,

		MinAmount:       ticket.AmountFromUint64(cfg.MinTicketAmount),
		MinWinProb:      cfg.MinWinProb,
		DomainSeparator: domainSeparator(cfg),

		SigningKey:      identityKey,
		OutgoingAmount:  ticket.AmountFromUint64(cfg.OutgoingTicketAmount),
		OutgoingWinProb: cfg.OutgoingWinProb,
	})

	surbs := surb.New(surb.DefaultCapacity)

	clk := clock.NewDefaultClock()

	sessions := session.New(clk, surbs, nil)

	qosSource := heartbeat.New(heartbeat.Config{
		Interval:  secondsToDuration(cfg.HeartbeatIntervalSec),
		Variance:  secondsToDuration(cfg.HeartbeatVarianceSec),
		Threshold: secondsToDuration(cfg.HeartbeatThresholdSec),
	}, noProbePinger{}, noPeerSource{}, clk)

	selector := pathselect.New(graph, qosSource)

	sequencer := txseq.New(identity.OnchainAddr, count)

	n := &node{
		cfg:       cfg,
		db:        db,
		identity:  identity,
		peers:     peers,
		graph:     graph,
		tracker:   tracker,
		filter:    filter,
		onionProc: onionProc,
		resolver:  resolver,
		processor: processor,
		surbs:     surbs,
		sessions:  sessions,
		selector:  selector,
		prober:    qosSource,
		sequencer: sequencer,
		funding:   strategy.NoopFunding{},
		redeeming: strategy.NoopRedeeming{},
		chain:     chain,
	}

	return n, nil
}

func domainSeparator(cfg *config.Config) []byte {
	return []byte(cfg.DomainSeparator)
}

func secondsToDuration(seconds uint) time.Duration {
	return time.Duration(seconds) * time.Second
}

// noProbePinger is a placeholder Pinger until a transport layer is wired
// in; every probe round reports no observations.
type noProbePinger struct{}

func (noProbePinger) Ping(ctx context.Context, peers []channelgraph.Address) []heartbeat.Observation {
	return nil
}

// noPeerSource is a placeholder PeerSource until the peer directory
// tracks last-contact timestamps; every round has nothing due.
type noPeerSource struct{}

func (noPeerSource) PeersSince(cutoff time.Time) []channelgraph.Address { return nil }

// noopChain is a placeholder chain backend until the on-chain indexer and
// transaction submitter are wired in; it satisfies both
// chainiface.ChainWriteOperations and txseq.CountFunc's signer-count
// lookup with safe no-op/zero responses.
type noopChain struct{}

func (noopChain) OpenChannel(ctx context.Context, dest channelgraph.Address, amount ticket.Amount) ([]byte, error) {
	return nil, fmt.Errorf("relayd: chain backend not configured")
}

func (noopChain) FundChannel(ctx context.Context, id ticket.ChannelID, amount ticket.Amount) ([]byte, error) {
	return nil, fmt.Errorf("relayd: chain backend not configured")
}

func (noopChain) CloseChannel(ctx context.Context, id ticket.ChannelID) ([]byte, error) {
	return nil, fmt.Errorf("relayd: chain backend not configured")
}

func (noopChain) RedeemTicket(ctx context.Context, redeemable chainiface.Redeemable) ([]byte, error) {
	return nil, fmt.Errorf("relayd: chain backend not configured")
}

func (noopChain) Withdraw(ctx context.Context, to channelgraph.Address, amount ticket.Amount) ([]byte, error) {
	return nil, fmt.Errorf("relayd: chain backend not configured")
}

func (noopChain) TransactionCount(ctx context.Context, signer channelgraph.Address) (uint64, error) {
	return 0, nil
}

// start brings up every background loop.
func (n *node) start() error {
	if err := n.onionProc.Start(); err != nil {
		return fmt.Errorf("relayd: start onion processor: %w", err)
	}
	n.sessions.Start()
	n.prober.Start()
	return nil
}

// stop tears down every background loop and flushes durable state.
func (n *node) stop() {
	n.prober.Stop()
	n.sessions.Stop()
	n.sequencer.Stop()
	n.onionProc.Stop()

	ctx := context.Background()
	if err := n.tracker.SyncIndicesToDB(ctx); err != nil {
		log.Errorf("relayd: sync ticket indices: %v", err)
	}
	if blob, err := n.filter.Dump(); err == nil {
		if err := n.db.SaveReplayFilter(ctx, blob); err != nil {
			log.Errorf("relayd: persist replay filter: %v", err)
		}
	}

	n.db.Close()
}

func main() {
	cfg, err := config.Load(os.Getenv("RELAYD_CONFIG"), os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}

	log = logctx.NewSubsystem("RLYD")

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: create data dir: %v\n", err)
		os.Exit(1)
	}

	identityKey, err := btcec.NewPrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: generate identity: %v\n", err)
		os.Exit(1)
	}

	noChain := noopChain{}
	n, err := buildNode(cfg, identityKey, noChain, noChain.TransactionCount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}

	if err := n.start(); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}

	log.Infof("relayd started, node address %x", n.identity.OnchainAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("relayd shutting down")
	n.stop()
}
