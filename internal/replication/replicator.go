// Package replication drives one tick of ghost replication: a single-threaded
// prepass that binds ghost ids and archetypes, a parallel encode per
// observer, and a barrier before the results are handed back.
package replication

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/ghostwire/internal/archetype"
	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/ghost"
	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/observability"
	"github.com/danmuck/ghostwire/internal/protocol/wire"
	"github.com/danmuck/ghostwire/internal/snapshot"
	"github.com/danmuck/ghostwire/internal/world"
)

var ErrUnknownObserver = errors.New("replication: unknown observer")

// Gate reports whether an observer may receive snapshots yet.
type Gate interface {
	Validated(id ObserverID) bool
}

type Config struct {
	// Workers bounds concurrent encodes. Zero uses GOMAXPROCS.
	Workers int
	Model   *wire.Model
	Gate    Gate
	Tracer  trace.Tracer
}

// Result is one tick's output.
type Result struct {
	Tick     uint32
	Payloads map[ObserverID][]byte
	Stats    map[ObserverID]snapshot.Stats
	// Errors holds per-observer encode failures. Those observers are reset
	// and receive a rebuild on a later tick.
	Errors map[ObserverID]error
}

type Replicator struct {
	source   world.Source
	registry *archetype.Registry
	encoder  *snapshot.Encoder
	table    *ghost.Table
	cfg      Config
	tracer   trace.Tracer

	observers *xsync.MapOf[ObserverID, *observer]

	// tickMu serializes Tick; prepass state below is only touched under it.
	tickMu sync.Mutex
	chunks map[world.Entity]world.ChunkKey
	ghosts atomic.Int64
}

func New(source world.Source, codecs *codec.Set, cfg Config) *Replicator {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Model == nil {
		cfg.Model = wire.DefaultModel()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}
	registry := archetype.NewRegistry(codecs)
	return &Replicator{
		source:    source,
		registry:  registry,
		encoder:   snapshot.NewEncoder(registry, cfg.Model),
		table:     ghost.NewTable(nil),
		cfg:       cfg,
		tracer:    tracer,
		observers: xsync.NewMapOf[ObserverID, *observer](),
		chunks:    make(map[world.Entity]world.ChunkKey),
	}
}

func (r *Replicator) Registry() *archetype.Registry {
	return r.registry
}

// Ghosts is the number of objects bound in the last tick.
func (r *Replicator) Ghosts() int {
	return int(r.ghosts.Load())
}

// AddObserver registers a new observer. Its first snapshot is a rebuild.
func (r *Replicator) AddObserver() ObserverID {
	id := uuid.New()
	r.observers.Store(id, newObserver(id))
	logging.Debugf("replication.Replicator.AddObserver id=%s", id)
	return id
}

// RemoveObserver drops id. An encode already running for it completes but
// its payload is discarded.
func (r *Replicator) RemoveObserver(id ObserverID) bool {
	o, ok := r.observers.LoadAndDelete(id)
	if !ok {
		return false
	}
	o.removed.Store(true)
	logging.Debugf("replication.Replicator.RemoveObserver id=%s", id)
	return true
}

// Acknowledge records that id applied the snapshot for tick. It takes effect
// at the next prepass.
func (r *Replicator) Acknowledge(id ObserverID, tick uint32) error {
	o, ok := r.observers.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObserver, id)
	}
	o.offerAck(tick)
	return nil
}

// Resync forces the next snapshot for id to be a full rebuild.
func (r *Replicator) Resync(id ObserverID) error {
	o, ok := r.observers.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObserver, id)
	}
	o.resync.Store(true)
	return nil
}

func (r *Replicator) Len() int {
	return r.observers.Size()
}

// Summary returns the last published view of id.
func (r *Replicator) Summary(id ObserverID) (Summary, bool) {
	o, ok := r.observers.Load(id)
	if !ok {
		return Summary{}, false
	}
	return *o.summary.Load(), true
}

// Summaries lists every observer's last published view.
func (r *Replicator) Summaries() []Summary {
	out := make([]Summary, 0, r.observers.Size())
	r.observers.Range(func(_ ObserverID, o *observer) bool {
		out = append(out, *o.summary.Load())
		return true
	})
	return out
}

// Tick replicates the current objects of the source as tick. Ticks must
// strictly increase.
func (r *Replicator) Tick(ctx context.Context, tick uint32) (Result, error) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "replication.tick", trace.WithAttributes(attribute.Int64("tick", int64(tick))))
	defer span.End()

	active := r.activeObservers()
	frame, err := r.prepass(tick, active)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	r.ghosts.Store(int64(len(frame.Entries)))
	span.SetAttributes(attribute.Int("objects", len(frame.Entries)), attribute.Int("observers", len(active)))

	r.registry.Freeze()
	res, err := r.fanOut(ctx, frame, active)
	r.registry.Thaw()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	alloc := r.table.Allocator()
	observability.RecordGhostIDs(r.table.Len(), alloc.Pending(), alloc.Minted())
	observability.RecordTick(time.Since(start), r.observers.Size())
	logging.Tracef(
		"replication.Replicator.Tick tick=%d objects=%d observers=%d sent=%d failed=%d",
		tick, len(frame.Entries), len(active), len(res.Payloads), len(res.Errors),
	)
	return res, nil
}

func (r *Replicator) activeObservers() []*observer {
	out := make([]*observer, 0, r.observers.Size())
	r.observers.Range(func(_ ObserverID, o *observer) bool {
		if r.cfg.Gate == nil || r.cfg.Gate.Validated(o.id) {
			out = append(out, o)
		}
		return true
	})
	return out
}

// prepass applies pending acks and resyncs, binds ghost ids, resolves
// archetypes, detects chunk moves and shares chunks with codecs that ask.
func (r *Replicator) prepass(tick uint32, active []*observer) (snapshot.Frame, error) {
	blocked := make(ghost.BlockLists, 0, len(active))
	r.observers.Range(func(_ ObserverID, o *observer) bool {
		if acked, ok := o.takeAck(); ok {
			o.state.Acknowledge(acked)
			o.acked.Store(acked)
		}
		if o.resync.Swap(false) {
			o.state.Reset()
			observability.RecordDesync("server")
		}
		blocked = append(blocked, o.state)
		return true
	})

	objects := r.source.Objects()
	synced := r.table.Sync(objects, blocked)

	frame := snapshot.Frame{
		Tick:    tick,
		Entries: make([]snapshot.Entry, 0, len(synced.Bindings)),
		Changed: make(map[ghost.ID]struct{}),
	}
	chunks := make(map[world.Entity]world.ChunkKey, len(synced.Bindings))
	for _, b := range synced.Bindings {
		arch, err := r.registry.ArchetypeFor(b.Object.Layout())
		if err != nil {
			return snapshot.Frame{}, fmt.Errorf("replication: archetype for ghost=%v: %w", b.ID, err)
		}
		e := b.Object.Entity()
		key := b.Object.Chunk()
		chunks[e] = key
		if prev, ok := r.chunks[e]; !ok || prev != key {
			frame.Changed[b.ID] = struct{}{}
		}
		frame.Entries = append(frame.Entries, snapshot.Entry{
			Ghost:     b.ID,
			Archetype: arch,
			Chunk:     key,
			Object:    b.Object,
		})
	}
	r.chunks = chunks
	r.shareChunks(frame.Entries)
	return frame, nil
}

func (r *Replicator) shareChunks(entries []snapshot.Entry) {
	codecs := r.registry.Codecs()
	for _, id := range codecs.Sharers() {
		c, ok := codecs.Get(id)
		if !ok {
			continue
		}
		sharer := c.(codec.ChunkSharer)
		seen := make(map[world.ChunkKey]struct{})
		keys := make([]world.ChunkKey, 0)
		for _, entry := range entries {
			if !r.registry.Uses(entry.Archetype, id) {
				continue
			}
			if _, dup := seen[entry.Chunk]; dup {
				continue
			}
			seen[entry.Chunk] = struct{}{}
			keys = append(keys, entry.Chunk)
		}
		sharer.ShareChunks(keys)
	}
}

type encoded struct {
	payload []byte
	stats   snapshot.Stats
	err     error
}

func (r *Replicator) fanOut(ctx context.Context, frame snapshot.Frame, active []*observer) (Result, error) {
	out := make([]encoded, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, o := range active {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = r.encodeOne(gctx, frame, o)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{
		Tick:     frame.Tick,
		Payloads: make(map[ObserverID][]byte, len(active)),
		Stats:    make(map[ObserverID]snapshot.Stats, len(active)),
	}
	for i, o := range active {
		if o.removed.Load() {
			o.state.Release()
			continue
		}
		if out[i].err != nil {
			if res.Errors == nil {
				res.Errors = make(map[ObserverID]error)
			}
			res.Errors[o.id] = out[i].err
			continue
		}
		res.Payloads[o.id] = out[i].payload
		res.Stats[o.id] = out[i].stats
	}
	return res, nil
}

func (r *Replicator) encodeOne(ctx context.Context, frame snapshot.Frame, o *observer) encoded {
	_, span := r.tracer.Start(ctx, "replication.encode", trace.WithAttributes(attribute.String("observer", o.id.String())))
	defer span.End()

	payload, stats, err := r.encoder.Encode(frame, o.state)
	summary := &Summary{
		ID:              o.id,
		Tick:            frame.Tick,
		Ghosts:          len(frame.Entries),
		Blocked:         len(o.state.Blocked()),
		KnownArchetypes: o.state.KnownArchetypes(),
		Acked:           o.acked.Load(),
	}
	if err != nil {
		// partially written state cannot be trusted
		o.state.Reset()
		summary.Mode = "error"
		summary.Error = err.Error()
		o.summary.Store(summary)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordEncodeError()
		logging.Warnf("replication.Replicator.encode observer=%s tick=%d err=%v", o.id, frame.Tick, err)
		return encoded{err: err}
	}
	summary.Mode = stats.Mode.String()
	summary.Bytes = stats.Bytes
	o.summary.Store(summary)
	span.SetAttributes(attribute.String("mode", stats.Mode.String()), attribute.Int("bytes", stats.Bytes))
	observability.RecordSnapshot(stats.Mode.String(), stats.Bytes)
	return encoded{payload: payload, stats: stats}
}
