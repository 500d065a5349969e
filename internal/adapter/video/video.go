// Package video keeps one camera's recorded segments in step with virtual time.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetsync/playback/internal/eventloop"
	"github.com/fleetsync/playback/pkg/core"
	"github.com/google/uuid"
)

// Defaults for Config.
const (
	DefaultGapThreshold  = 20 * time.Second
	DefaultPrefetchRatio = 0.7
)

// ErrStaleResult marks a link resolution that finished after a newer request.
var ErrStaleResult = errors.New("stale video result discarded")

// State is the adapter's playback state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StateNoVideo
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateNoVideo:
		return "no_video"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LinkResolver turns a segment descriptor into a playable URL.
type LinkResolver interface {
	ResolveLink(ctx context.Context, segment core.VideoSegmentDescriptor) (string, error)
}

// Player plays resolved segments for a camera.
type Player interface {
	Play(cameraID int, url string, segment core.VideoSegmentDescriptor)
	Stop(cameraID int)
}

// Events are the adapter's callbacks into its owner. All are optional.
type Events struct {
	// OnMatch reports the timestamp of a segment that started playing.
	// seek is true when the match came from Seek rather than a tick.
	OnMatch func(cameraID int, timestamp int64, seek bool)
	// OnNoVideo reports that no segment covers vt.
	OnNoVideo func(cameraID int, vt int64)
	// OnError reports a failed link resolution.
	OnError func(cameraID int, err error)
}

// Config tunes matching and prefetch.
type Config struct {
	GapThreshold  time.Duration
	PrefetchRatio float64
}

func (c Config) withDefaults() Config {
	if c.GapThreshold <= 0 {
		c.GapThreshold = DefaultGapThreshold
	}
	if c.PrefetchRatio <= 0 || c.PrefetchRatio > 1 {
		c.PrefetchRatio = DefaultPrefetchRatio
	}
	return c
}

// Match returns the index of the segment whose start is closest to vt
// within gap seconds. An exact start wins; equal distances go to the
// earlier segment. segments must be ascending.
func Match(segments []core.VideoSegmentDescriptor, vt int64, gap int64) (int, bool) {
	best, bestDist := -1, int64(0)
	for i, s := range segments {
		d := s.Timestamp - vt
		if d < 0 {
			d = -d
		}
		if d > gap {
			continue
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
			if d == 0 {
				break
			}
		}
	}
	return best, best >= 0
}

type prefetch struct {
	index int
	id    uuid.UUID
	link  string
	ready bool
}

// Adapter drives one camera. It runs on the event loop; link resolution runs
// on its own goroutine and posts back.
type Adapter struct {
	camera   int
	resolver LinkResolver
	player   Player
	exec     eventloop.Executor
	cfg      Config
	events   Events
	logger   *slog.Logger

	segments  []core.VideoSegmentDescriptor
	current   int
	state     State
	requestID uuid.UUID
	seeking   bool
	next      prefetch
}

// New creates an idle adapter for camera.
func New(camera int, resolver LinkResolver, player Player, exec eventloop.Executor, cfg Config, events Events, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		camera:   camera,
		resolver: resolver,
		player:   player,
		exec:     exec,
		cfg:      cfg.withDefaults(),
		events:   events,
		logger:   logger.With("camera", camera),
		current:  -1,
	}
}

// Camera returns the camera id.
func (a *Adapter) Camera() int {
	return a.camera
}

// State returns the playback state.
func (a *Adapter) State() State {
	return a.state
}

// Current returns the segment selected as current.
func (a *Adapter) Current() (core.VideoSegmentDescriptor, bool) {
	if a.current < 0 || a.current >= len(a.segments) {
		return core.VideoSegmentDescriptor{}, false
	}
	return a.segments[a.current], true
}

// Load replaces the catalog and stops any playback.
func (a *Adapter) Load(tl *core.VideoTimeline) {
	a.Stop()
	a.segments = tl.Ascending()
}

// Len returns the number of loaded segments.
func (a *Adapter) Len() int {
	return len(a.segments)
}

// Sync is called on every tick. It switches to a newly matching segment but
// never interrupts a playing segment just because vt moved past its start
// window. A segment that failed to resolve or already played to its end is
// not retried by Sync; only Seek or a different match starts it again.
func (a *Adapter) Sync(ctx context.Context, vt int64) {
	idx, ok := Match(a.segments, vt, a.gapSeconds())
	if !ok {
		if a.state == StatePlaying || a.state == StateLoading {
			return
		}
		a.markNoVideo(vt)
		return
	}
	// current survives Loading, Playing, Error and the final Ended, and is
	// cleared by Stop and no-video.
	if idx == a.current {
		return
	}
	a.play(ctx, idx, false)
}

// Seek re-resolves after a scrub. Unlike Sync it stops playback when
// nothing matches.
func (a *Adapter) Seek(ctx context.Context, vt int64) {
	idx, ok := Match(a.segments, vt, a.gapSeconds())
	if !ok {
		a.Stop()
		a.markNoVideo(vt)
		return
	}
	a.play(ctx, idx, true)
}

// Progress reports playback position as a fraction of the segment. Past the
// prefetch ratio the next segment's link is resolved ahead of time.
func (a *Adapter) Progress(ctx context.Context, fraction float64) {
	if a.state != StatePlaying || fraction < a.cfg.PrefetchRatio {
		return
	}
	nextIdx := a.current + 1
	if nextIdx >= len(a.segments) || a.next.id != uuid.Nil {
		return
	}
	id := uuid.New()
	a.next = prefetch{index: nextIdx, id: id}
	seg := a.segments[nextIdx]
	go func() {
		link, err := a.resolver.ResolveLink(ctx, seg)
		a.exec.Post(func() { a.onPrefetched(id, link, err) })
	}()
}

// Ended advances to the next segment, using the prefetched link when ready.
func (a *Adapter) Ended(ctx context.Context) {
	if a.state != StatePlaying {
		return
	}
	nextIdx := a.current + 1
	if nextIdx >= len(a.segments) {
		a.player.Stop(a.camera)
		a.state = StateIdle
		return
	}
	if a.next.ready && a.next.index == nextIdx {
		link := a.next.link
		a.current = nextIdx
		a.requestID = uuid.New()
		a.next = prefetch{}
		a.start(link, false)
		return
	}
	a.play(ctx, nextIdx, false)
}

// Stop halts playback and invalidates every in-flight resolution.
func (a *Adapter) Stop() {
	if a.state == StatePlaying || a.state == StateLoading {
		a.player.Stop(a.camera)
	}
	a.requestID = uuid.New()
	a.next = prefetch{}
	a.current = -1
	a.state = StateIdle
}

// Reset stops playback and forgets the catalog.
func (a *Adapter) Reset() {
	a.Stop()
	a.segments = nil
}

func (a *Adapter) gapSeconds() int64 {
	return int64(a.cfg.GapThreshold / time.Second)
}

func (a *Adapter) markNoVideo(vt int64) {
	if a.state == StateNoVideo {
		return
	}
	a.current = -1
	a.state = StateNoVideo
	if a.events.OnNoVideo != nil {
		a.events.OnNoVideo(a.camera, vt)
	}
}

func (a *Adapter) play(ctx context.Context, idx int, seek bool) {
	if a.state == StatePlaying || a.state == StateLoading {
		a.player.Stop(a.camera)
	}
	id := uuid.New()
	a.requestID = id
	a.next = prefetch{}
	a.current = idx
	a.state = StateLoading
	a.seeking = seek

	seg := a.segments[idx]
	go func() {
		link, err := a.resolver.ResolveLink(ctx, seg)
		a.exec.Post(func() { a.onResolved(id, link, err) })
	}()
}

func (a *Adapter) onResolved(id uuid.UUID, link string, err error) {
	if id != a.requestID {
		a.logger.Debug("video link discarded", "error", ErrStaleResult)
		return
	}
	if err != nil {
		a.state = StateError
		err = core.NewFetchError("resolveVideoLink", err)
		a.logger.Warn("video link resolution failed", "error", err)
		if a.events.OnError != nil {
			a.events.OnError(a.camera, err)
		}
		return
	}
	a.start(link, a.seeking)
}

func (a *Adapter) onPrefetched(id uuid.UUID, link string, err error) {
	if id != a.next.id {
		a.logger.Debug("prefetched link discarded", "error", ErrStaleResult)
		return
	}
	if err != nil {
		a.logger.Debug("video prefetch failed", "error", err)
		a.next = prefetch{}
		return
	}
	a.next.link = link
	a.next.ready = true
}

func (a *Adapter) start(link string, seek bool) {
	seg := a.segments[a.current]
	a.state = StatePlaying
	a.seeking = false
	a.player.Play(a.camera, link, seg)
	if a.events.OnMatch != nil {
		a.events.OnMatch(a.camera, seg.Timestamp, seek)
	}
}
