// Package indexer turns the watcher's raw event stream into debounced,
// batched mutations of the file index.
//
// The Indexer is a single-goroutine actor: Run owns every per-path
// debounce record and the pending batch. Timers never touch that state;
// they only post messages back to the actor.
package indexer

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/docsweep/pkg/daemon/broadcaster"
	"github.com/jamesainslie/docsweep/pkg/daemon/index"
	"github.com/jamesainslie/docsweep/pkg/daemon/watcher"
	"github.com/jamesainslie/docsweep/pkg/docsweep/logging"
	"github.com/jamesainslie/docsweep/pkg/docsweep/scanner"
	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

// Defaults for Options.
const (
	DefaultDebounceDelay = 300 * time.Millisecond
	DefaultBatchDelay    = time.Second
	DefaultMaxBatch      = 500
)

var (
	// ErrRunning is returned by Run when the indexer is already running or
	// has been stopped.
	ErrRunning = errors.New("indexer: already running")

	// ErrNotRunning is returned by Flush when Run is not active.
	ErrNotRunning = errors.New("indexer: not running")
)

// Target receives committed batches.
type Target interface {
	ApplyBatch(ctx context.Context, batch index.Batch) broadcaster.MutationBatch
}

// SubtreeScanner rescans a directory below the index root.
type SubtreeScanner interface {
	Root() string
	ScanSubtree(ctx context.Context, dir string) (*types.ScanResult, error)
}

// StatFunc stats an absolute path before an add is committed. ok=false
// means the node exists but must not be indexed.
type StatFunc func(abs string) (entry types.IndexEntry, ok bool, err error)

// Options configures an Indexer.
type Options struct {
	// DebounceDelay is how long a path must stay quiet before its latest
	// event counts as settled.
	DebounceDelay time.Duration

	// BatchDelay is how long settled events wait before a commit.
	BatchDelay time.Duration

	// MaxBatch commits early once this many paths have settled.
	MaxBatch int

	// FollowSymlinks is passed to the default stat function.
	FollowSymlinks bool

	// Stat replaces the default stat used to verify adds.
	Stat StatFunc
}

func (o *Options) applyDefaults(root string) {
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = DefaultDebounceDelay
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = DefaultBatchDelay
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = DefaultMaxBatch
	}
	if o.Stat == nil {
		follow := o.FollowSymlinks
		o.Stat = func(abs string) (types.IndexEntry, bool, error) {
			return scanner.StatEntry(root, abs, follow)
		}
	}
}

// Stats reports indexer counters.
type Stats struct {
	Received  int64 `json:"received"`
	Coalesced int64 `json:"coalesced"`
	Settled   int64 `json:"settled"`
	Committed int64 `json:"committed"`
	Dropped   int64 `json:"dropped"`
	Batches   int64 `json:"batches"`
	Pending   int64 `json:"pending"`
}

// pending is the debounce record of one path.
type pending struct {
	ev    watcher.Event
	seq   uint64
	timer *time.Timer
}

type settleMsg struct {
	rel string
	seq uint64
}

// Indexer applies watcher events to a Target.
type Indexer struct {
	target  Target
	scanner SubtreeScanner
	opts    Options

	settle chan settleMsg
	flush  chan chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	received  atomic.Int64
	coalesced atomic.Int64
	settled   atomic.Int64
	committed atomic.Int64
	dropped   atomic.Int64
	batches   atomic.Int64
	inFlight  atomic.Int64
}

// New creates an Indexer that writes into target and rescans new
// directories with sc.
func New(target Target, sc SubtreeScanner, opts Options) *Indexer {
	opts.applyDefaults(sc.Root())
	return &Indexer{
		target:  target,
		scanner: sc,
		opts:    opts,
		settle:  make(chan settleMsg),
		flush:   make(chan chan struct{}),
	}
}

// Stats returns a snapshot of the counters.
func (ix *Indexer) Stats() Stats {
	return Stats{
		Received:  ix.received.Load(),
		Coalesced: ix.coalesced.Load(),
		Settled:   ix.settled.Load(),
		Committed: ix.committed.Load(),
		Dropped:   ix.dropped.Load(),
		Batches:   ix.batches.Load(),
		Pending:   ix.inFlight.Load(),
	}
}

// Run consumes events until ctx is done or Stop is called. Settled but
// uncommitted events are discarded on exit. A closed events channel only
// ends ingestion; timers keep settling what was already received.
func (ix *Indexer) Run(ctx context.Context, events <-chan watcher.Event) error {
	ix.mu.Lock()
	if ix.running || ix.stopped {
		ix.mu.Unlock()
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	ix.running = true
	ix.cancel = cancel
	ix.done = make(chan struct{})
	done := ix.done
	ix.mu.Unlock()

	a := &actor{
		ix:      ix,
		ctx:     runCtx,
		done:    done,
		log:     logging.Get("indexer"),
		pending: make(map[string]*pending),
		batch:   make(map[string]watcher.Event),
	}
	defer func() {
		a.shutdown()
		cancel()
		close(done)
	}()

	return a.loop(events)
}

// Stop cancels every debounce and batch timer and waits for Run to
// return. No mutation reaches the target after Stop returns.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	ix.stopped = true
	cancel, done := ix.cancel, ix.done
	ix.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Flush commits the settled events now instead of waiting for the
// batch timer. Paths still inside their debounce window are not touched.
func (ix *Indexer) Flush(ctx context.Context) error {
	ix.mu.Lock()
	running, done := ix.running && !ix.stopped, ix.done
	ix.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	reply := make(chan struct{})
	select {
	case ix.flush <- reply:
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// actor holds the state owned by the Run goroutine.
type actor struct {
	ix   *Indexer
	ctx  context.Context
	done chan struct{}
	log  *logging.Logger

	pending    map[string]*pending
	batch      map[string]watcher.Event
	batchTimer *time.Timer
	batchC     <-chan time.Time
}

func (a *actor) loop(events <-chan watcher.Event) error {
	for {
		select {
		case <-a.ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			a.receive(ev)

		case msg := <-a.ix.settle:
			a.onSettle(msg)

		case <-a.batchC:
			a.batchC = nil
			a.commit()

		case reply := <-a.ix.flush:
			a.commit()
			close(reply)
		}
	}
}

// receive records ev as the latest event of its path and restarts the
// path's debounce timer. A removal replaces a pending add only when it is
// strictly later; otherwise the add stands and the stat at commit decides.
func (a *actor) receive(ev watcher.Event) {
	a.ix.received.Add(1)
	rel := types.NormalizeRelPath(ev.RelPath)
	if rel == "" {
		return
	}
	ev.RelPath = rel

	p, ok := a.pending[rel]
	if !ok {
		p = &pending{ev: ev}
		a.pending[rel] = p
	} else {
		a.ix.coalesced.Add(1)
		p.timer.Stop()
		if !(isRemoval(ev.Kind) && !isRemoval(p.ev.Kind) && !ev.Time.After(p.ev.Time)) {
			p.ev = ev
		}
	}

	p.seq++
	msg := settleMsg{rel: rel, seq: p.seq}
	p.timer = time.AfterFunc(a.ix.opts.DebounceDelay, func() {
		select {
		case a.ix.settle <- msg:
		case <-a.done:
		}
	})
	a.updateGauge()
}

// onSettle moves a quiet path into the batch. Stale messages from timers
// that were reset are ignored.
func (a *actor) onSettle(msg settleMsg) {
	p, ok := a.pending[msg.rel]
	if !ok || p.seq != msg.seq {
		return
	}
	delete(a.pending, msg.rel)
	a.batch[msg.rel] = p.ev
	a.ix.settled.Add(1)
	a.updateGauge()

	if len(a.batch) >= a.ix.opts.MaxBatch {
		a.commit()
		return
	}
	if a.batchC == nil {
		a.armBatchTimer()
	}
}

func (a *actor) armBatchTimer() {
	if a.batchTimer == nil {
		a.batchTimer = time.NewTimer(a.ix.opts.BatchDelay)
	} else {
		a.batchTimer.Reset(a.ix.opts.BatchDelay)
	}
	a.batchC = a.batchTimer.C
}

func (a *actor) disarmBatchTimer() {
	if a.batchTimer != nil {
		a.batchTimer.Stop()
	}
	a.batchC = nil
}

// commit turns the settled events into one index batch. Per-path failures
// drop only that path.
func (a *actor) commit() {
	a.disarmBatchTimer()
	if len(a.batch) == 0 {
		return
	}
	settled := a.batch
	a.batch = make(map[string]watcher.Event)
	a.updateGauge()

	var b index.Batch
	for rel, ev := range settled {
		switch ev.Kind {
		case watcher.Removed, watcher.DirRemoved:
			b.Removes = append(b.Removes, rel)
		case watcher.DirAdded:
			a.addSubtree(&b, ev)
		default:
			a.addPath(&b, ev)
		}
	}

	if a.ctx.Err() != nil {
		return
	}
	applied := a.ix.target.ApplyBatch(a.ctx, b)
	a.ix.batches.Add(1)
	a.ix.committed.Add(int64(len(b.Removes) + len(b.Upserts)))

	a.log.Debug("batch committed",
		"paths", len(settled),
		"upserts", len(b.Upserts),
		"removes", len(b.Removes),
		"generation", applied.Generation)
}

// addPath verifies an add or change with a stat before it is committed.
func (a *actor) addPath(b *index.Batch, ev watcher.Event) {
	entry, ok, err := a.ix.opts.Stat(ev.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Gone before commit: drop any stale entry.
		b.Removes = append(b.Removes, ev.RelPath)
	case err != nil:
		a.ix.dropped.Add(1)
		a.log.Warn("stat failed, dropping change", "path", ev.Path, "error", err)
	case !ok:
		b.Removes = append(b.Removes, ev.RelPath)
	case entry.IsDir:
		a.addSubtree(b, ev)
	default:
		b.Upserts = append(b.Upserts, entry)
	}
}

// addSubtree rescans a new directory so files created alongside it are
// indexed even when the backend did not report them individually.
func (a *actor) addSubtree(b *index.Batch, ev watcher.Event) {
	result, err := a.ix.scanner.ScanSubtree(a.ctx, ev.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		b.Removes = append(b.Removes, ev.RelPath)
	case err != nil:
		a.ix.dropped.Add(1)
		a.log.Warn("subtree scan failed, dropping change", "path", ev.Path, "error", err)
	default:
		b.Upserts = append(b.Upserts, result.Entries...)
		for _, w := range result.Warnings {
			a.log.Debug("subtree scan warning", "path", w.Path, "error", w.Error)
		}
	}
}

// shutdown cancels every timer. Timers that already fired exit through
// the done channel.
func (a *actor) shutdown() {
	for rel, p := range a.pending {
		p.timer.Stop()
		delete(a.pending, rel)
	}
	a.disarmBatchTimer()
	a.batch = nil
	a.ix.inFlight.Store(0)

	a.ix.mu.Lock()
	a.ix.running = false
	a.ix.mu.Unlock()
}

func (a *actor) updateGauge() {
	a.ix.inFlight.Store(int64(len(a.pending) + len(a.batch)))
}

func isRemoval(k watcher.Kind) bool {
	return k == watcher.Removed || k == watcher.DirRemoved
}
