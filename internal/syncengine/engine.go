// Package syncengine implements the multi-phase offer-inventory
// reconciliation state machine: a node periodically compares its
// CatalogStore contents against qualifying neighbors, fetches whatever
// it is missing or holds an older version of, and converges to a
// quiescent "Finished" state once the divergence is resolved.
package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/offermesh/offerd/internal/catalog"
	"github.com/offermesh/offerd/internal/offer"
	"github.com/offermesh/offerd/internal/syncproto"
	"github.com/offermesh/offerd/pkg/logging"
)

// State is a sync round's coarse phase.
type State string

const (
	NotStarted    State = "not_started"
	Started       State = "started"
	Initial       State = "initial"
	SyncStepOne   State = "sync_step_one"
	SyncStepTwo   State = "sync_step_two"
	Finished      State = "finished"
)

// stateTransitions is the exhaustive table of allowed State moves. A
// restart (Reset then Start) is only reachable from NotStarted,
// Started, Initial, or Finished — matching the original's rejection of
// mid-flight resets.
var stateTransitions = map[State]map[State]bool{
	NotStarted:  {Started: true},
	Started:     {Initial: true, NotStarted: true},
	Initial:     {SyncStepOne: true, NotStarted: true, Finished: true},
	SyncStepOne: {SyncStepTwo: true},
	SyncStepTwo: {Finished: true},
	Finished:    {NotStarted: true, Started: true},
}

func validTransition(from, to State) bool {
	if from == to {
		return true
	}
	allowed, ok := stateTransitions[from]
	return ok && allowed[to]
}

// resettableStates is where Reset is permitted to run; matches the
// original dexsync.cpp rejecting reset() while SyncStepOne/SyncStepTwo.
var resettableStates = map[State]bool{
	NotStarted: true,
	Started:    true,
	Initial:    true,
	Finished:   true,
}

// NeighborStatus tracks a qualifying neighbor's standing within the
// current sync round.
type NeighborStatus string

const (
	Good    NeighborStatus = "good"
	Process NeighborStatus = "process"
	Actual  NeighborStatus = "actual"
	Bad     NeighborStatus = "bad"
)

// MinNumberDexNode / MinNumberDexNodeTestnet gate the quorum a sync
// round requires before it will start.
const (
	MinNumberDexNode        = 4
	MinNumberDexNodeTestnet = 2
)

// MinDexVersion is the lowest neighbor-advertised protocol version this
// engine will synchronize with.
const MinDexVersion = syncproto.MinProtocolVersion

// finishTimerInterval / answerTimerInterval mirror the original's two
// 30-second one-shot timers.
const (
	finishTimerInterval = 30 * time.Second
	answerTimerInterval = 30 * time.Second
)

// Neighbor is the qualifying-neighbor predicate's view of a remote
// node: protocol version and masternode registration are read through
// MasternodeRegistry, not cached here.
type Neighbor struct {
	ID      peer.ID
	Version uint32
}

// MasternodeRegistry answers whether a neighbor is a registered
// masternode, and whether this node itself is one and whether it is an
// inbound connection — the remaining qualifying-neighbor predicate
// inputs.
type MasternodeRegistry interface {
	IsRegistered(id peer.ID) bool
	IsSelfMasternode() bool
	IsInbound(id peer.ID) bool
}

// Transport is the narrow collaborator SyncEngine sends and receives
// protocol messages through. The real libp2p stream wiring lives
// entirely outside this module.
type Transport interface {
	Neighbors() []Neighbor
	Send(ctx context.Context, to peer.ID, tag syncproto.Tag, payload interface{}) error
	IsTestnet() bool
}

// Rescanner exposes the wallet-key-match side effect: when an incoming
// offer's public key corresponds to a locally held private key, the
// offer is also recorded as a MyOffer.
type Rescanner interface {
	HasPrivateKey(pubKey []byte) bool
}

// ProgressFunc is invoked with the round's completion fraction in
// [0,1] whenever it changes; 1.0 marks Finished.
type ProgressFunc func(progress float64)

// UnconfirmedSink receives offers whose fee-transaction binding did
// not yet verify, so they can be held in UnconfirmedPool for later
// re-evaluation instead of being dropped.
type UnconfirmedSink func(o *offer.Record)

// roundState holds everything scoped to a single sync round, reset
// wholesale by Reset/Start.
type roundState struct {
	neighborStatus    map[peer.ID]NeighborStatus
	waitingForReply   map[peer.ID]bool
	needDownload      map[[32]byte]offer.Type
	maxNeedDownload   int
	honoredNeedSync   map[peer.ID]bool
	hashOfferedCount  map[[32]byte]int // per-hash count of qualifying neighbors offered it this round
	lastObservedNeedDownload int
	startedAt         time.Time
}

func newRoundState() *roundState {
	return &roundState{
		neighborStatus:   make(map[peer.ID]NeighborStatus),
		waitingForReply:  make(map[peer.ID]bool),
		needDownload:     make(map[[32]byte]offer.Type),
		honoredNeedSync:  make(map[peer.ID]bool),
		hashOfferedCount: make(map[[32]byte]int),
	}
}

// Engine is the per-node sync state machine. One Engine instance runs
// for the whole daemon; rounds are sequential, never concurrent.
type Engine struct {
	mu sync.Mutex

	state State
	round *roundState

	catalog    *catalog.Store
	feeBinding *offer.FeeBinding
	verifier   *offer.Verifier
	transport  Transport
	registry   MasternodeRegistry
	rescanner  Rescanner
	onProgress ProgressFunc
	unconfirmedSink UnconfirmedSink

	finishTimer *time.Timer
	answerTimer *time.Timer

	log *logging.Logger
}

// Config bundles Engine's collaborators.
type Config struct {
	Catalog    *catalog.Store
	FeeBinding *offer.FeeBinding
	Verifier   *offer.Verifier
	Transport  Transport
	Registry   MasternodeRegistry
	Rescanner  Rescanner
	OnProgress ProgressFunc
	UnconfirmedSink UnconfirmedSink
}

// New constructs an Engine in the NotStarted state.
func New(cfg Config) *Engine {
	return &Engine{
		state:      NotStarted,
		round:      newRoundState(),
		catalog:    cfg.Catalog,
		feeBinding: cfg.FeeBinding,
		verifier:   cfg.Verifier,
		transport:  cfg.Transport,
		registry:   cfg.Registry,
		rescanner:  cfg.Rescanner,
		onProgress: cfg.OnProgress,
		unconfirmedSink: cfg.UnconfirmedSink,
		log:        logging.GetDefault().Component("sync"),
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Progress returns the current round's completion fraction, 0 when no
// round has started.
func (e *Engine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round == nil {
		return 0
	}
	return e.progress()
}

// minNumDexNode returns the quorum floor for the transport's network.
func (e *Engine) minNumDexNode() int {
	if e.transport != nil && e.transport.IsTestnet() {
		return MinNumberDexNodeTestnet
	}
	return MinNumberDexNode
}

// qualifyingNeighbors filters transport.Neighbors() by the qualifying
// predicate: version floor, masternode registration, not an inbound
// connection to a self-masternode.
func (e *Engine) qualifyingNeighbors() []Neighbor {
	all := e.transport.Neighbors()
	out := make([]Neighbor, 0, len(all))
	for _, n := range all {
		if n.Version < MinDexVersion {
			continue
		}
		if e.registry != nil {
			if !e.registry.IsRegistered(n.ID) {
				continue
			}
			if e.registry.IsSelfMasternode() && e.registry.IsInbound(n.ID) {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

// canStart reports whether quorum is met among qualifying neighbors.
func (e *Engine) canStart() bool {
	return len(e.qualifyingNeighbors()) >= e.minNumDexNode()
}

// Start begins a new sync round if quorum is met and the engine is
// idle; a no-op otherwise (callers — typically PeriodicTasks's sync
// kickoff worker — are expected to call this unconditionally on a
// timer).
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != NotStarted && e.state != Finished {
		e.mu.Unlock()
		return nil
	}
	if !e.canStart() {
		e.mu.Unlock()
		return nil
	}
	neighbors := e.qualifyingNeighbors()
	e.round = newRoundState()
	for _, n := range neighbors {
		e.round.neighborStatus[n.ID] = Good
		e.round.waitingForReply[n.ID] = true
	}
	e.round.startedAt = time.Now()
	e.setState(Started)
	e.mu.Unlock()

	e.log.Info("sync round started", "neighbors", len(neighbors))

	myInfo, err := e.localSyncInfo()
	if err != nil {
		return err
	}
	for _, n := range neighbors {
		if err := e.transport.Send(ctx, n.ID, syncproto.TagGetAllHash, syncproto.GetAllHash{Info: myInfo}); err != nil {
			e.log.Debug("send get_all_hash failed", "peer", n.ID, "err", err)
		}
	}

	e.mu.Lock()
	e.setState(Initial)
	e.mu.Unlock()

	e.armAnswerTimer(ctx)
	return nil
}

// Reset aborts the current round and immediately attempts to start a
// new one. Rejected while mid-flight (SyncStepOne/SyncStepTwo), exactly
// matching the original's reset() guard.
func (e *Engine) Reset(ctx context.Context) bool {
	e.mu.Lock()
	if !resettableStates[e.state] {
		e.mu.Unlock()
		return false
	}
	e.stopTimersLocked()
	e.state = NotStarted
	e.round = newRoundState()
	e.mu.Unlock()

	_ = e.Start(ctx)
	return true
}

func (e *Engine) setState(to State) {
	if !validTransition(e.state, to) {
		e.log.Warn("rejected state transition", "from", e.state, "to", to)
		return
	}
	e.state = to
}

// localSyncInfo summarizes the local catalog for the Phase 1 handshake.
func (e *Engine) localSyncInfo() (syncproto.SyncInfo, error) {
	buyCount, err := e.catalog.Count(offer.Buy, catalog.Filter{})
	if err != nil {
		return syncproto.SyncInfo{}, err
	}
	sellCount, err := e.catalog.Count(offer.Sell, catalog.Filter{})
	if err != nil {
		return syncproto.SyncInfo{}, err
	}
	buyMod, err := e.catalog.LastModificationBuy()
	if err != nil {
		return syncproto.SyncInfo{}, err
	}
	sellMod, err := e.catalog.LastModificationSell()
	if err != nil {
		return syncproto.SyncInfo{}, err
	}
	lastMod := buyMod
	if sellMod > lastMod {
		lastMod = sellMod
	}
	return syncproto.SyncInfo{
		Count:       int64(buyCount + sellCount),
		LastTimeMod: lastMod,
		CheckSum:    0, // reserved, never inspected
	}, nil
}

// actualSync is the termination predicate: at least one neighbor
// Actual, zero in {Good, Process}.
func (e *Engine) actualSync() bool {
	numActual, numProcess := 0, 0
	for _, st := range e.round.neighborStatus {
		switch st {
		case Actual:
			numActual++
		case Good, Process:
			numProcess++
		}
	}
	return numActual > 0 && numProcess == 0
}

// progress reports the round's completion fraction.
func (e *Engine) progress() float64 {
	if e.round.maxNeedDownload == 0 {
		if len(e.round.needDownload) == 0 {
			return 1.0
		}
		return 0.0
	}
	return 1.0 - 0.9*float64(len(e.round.needDownload))/float64(e.round.maxNeedDownload)
}

func (e *Engine) reportProgress() {
	if e.onProgress != nil {
		e.onProgress(e.progress())
	}
}

// finishRound transitions to Finished if quorum holds, else resets.
// Must be called with e.mu held.
func (e *Engine) finishRoundLocked(ctx context.Context) {
	e.stopTimersLocked()
	if e.actualSync() {
		e.setState(Finished)
		e.reportProgress()
		e.log.Info("sync round finished", "elapsed", time.Since(e.round.startedAt))
		return
	}
	e.state = NotStarted
	e.round = newRoundState()
	go func() { _ = e.Start(ctx) }()
}

func (e *Engine) stopTimersLocked() {
	if e.finishTimer != nil {
		e.finishTimer.Stop()
		e.finishTimer = nil
	}
	if e.answerTimer != nil {
		e.answerTimer.Stop()
		e.answerTimer = nil
	}
}
