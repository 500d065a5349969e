// Package synchronizer binds the clock, the mode controller and the three
// adapters to the marker animator.
//
// Every exported method must run on the event loop. Blocking I/O runs on its
// own goroutine and posts its result back; results are tagged with the
// generation that started them and dropped when a newer generation exists.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetsync/playback/internal/adapter/live"
	"github.com/fleetsync/playback/internal/adapter/replay"
	"github.com/fleetsync/playback/internal/adapter/video"
	"github.com/fleetsync/playback/internal/animator"
	"github.com/fleetsync/playback/internal/cache"
	"github.com/fleetsync/playback/internal/clock"
	"github.com/fleetsync/playback/internal/eventloop"
	"github.com/fleetsync/playback/internal/mode"
	"github.com/fleetsync/playback/pkg/core"
)

var (
	ErrNoVehicle = errors.New("no vehicle selected")
	ErrNoReplay  = errors.New("no replay window loaded")
	ErrBadRange  = errors.New("time range end must be after start")

	// ErrStaleResult marks an async result that arrived after its session
	// or mode generation was superseded.
	ErrStaleResult = errors.New("stale async result discarded")
)

// Defaults for Config.
const (
	DefaultSpeedLimitKmh = 80
	DefaultETAPollTicks  = 30
)

// Config tunes playback.
type Config struct {
	PacketWindow   time.Duration
	GapThreshold   time.Duration
	OfflineAfter   time.Duration
	DriftThreshold time.Duration
	PrefetchRatio  float64
	SpeedLimitKmh  float64
	ETAPollTicks   int
}

func (c Config) withDefaults() Config {
	if c.PacketWindow <= 0 {
		c.PacketWindow = live.DefaultPacketWindow
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = live.DefaultOfflineAfter
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = time.Minute
	}
	if c.SpeedLimitKmh <= 0 {
		c.SpeedLimitKmh = DefaultSpeedLimitKmh
	}
	if c.ETAPollTicks <= 0 {
		c.ETAPollTicks = DefaultETAPollTicks
	}
	return c
}

// Deps are the collaborators. Repository, Feed and Surface are required;
// the rest may be nil.
type Deps struct {
	Repository Repository
	Feed       Feed
	Surface    Surface
	Resolver   LinkResolver
	Player     Player
	Notifier   Notifier
	ETA        ETAService
	Observer   Observer
	Cache      *cache.PlaybackCache
	Profiles   *cache.ProfileCache
}

// PlaybackSession is the state of one selected vehicle.
type PlaybackSession struct {
	VehicleID             string
	Range                 core.TimeRange
	Replay                *core.ReplaySet
	Videos                []core.VideoTimeline
	Current               *core.PositionSample
	LastAnimatedIndex     int
	LastAnimatedTimestamp int64
	Finished              bool
	Profile               core.VehicleProfile
	ETA                   *core.ETA

	ctx     context.Context
	cancel  context.CancelFunc
	next    int
	ticks   int
	snapped bool
}

// Synchronizer orchestrates playback for at most one vehicle at a time.
type Synchronizer struct {
	deps   Deps
	cfg    Config
	exec   eventloop.Executor
	sched  clock.Scheduler
	logger *slog.Logger

	clock    *clock.Clock
	mode     *mode.Controller
	animator *animator.Animator
	live     *live.Adapter
	videos   []*video.Adapter
	pacer    *replay.Pacer

	gen         uint64
	session     *PlaybackSession
	unsubscribe func()
}

// New wires a synchronizer. exec must be the executor every method is
// called on.
func New(deps Deps, cfg Config, exec eventloop.Executor, sched clock.Scheduler, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	cfg = cfg.withDefaults()

	s := &Synchronizer{
		deps:   deps,
		cfg:    cfg,
		exec:   exec,
		sched:  sched,
		logger: logger,
	}
	s.clock = clock.New(sched)
	s.mode = mode.NewController(s.clock)
	s.mode.OnTransition(s.onTransition)
	s.animator = animator.New(deps.Surface, cfg.SpeedLimitKmh)
	s.pacer = replay.NewPacer(cfg.PacketWindow, cfg.DriftThreshold)
	s.live = live.New(deps.Feed, exec, sched, live.Config{
		PacketWindow: cfg.PacketWindow,
		OfflineAfter: cfg.OfflineAfter,
	}, s.onLiveSample, logger.With("component", "live"))

	if deps.Resolver != nil && deps.Player != nil {
		events := video.Events{
			OnMatch:   s.onVideoMatch,
			OnNoVideo: s.onNoVideo,
			OnError:   s.onVideoError,
		}
		vcfg := video.Config{GapThreshold: cfg.GapThreshold, PrefetchRatio: cfg.PrefetchRatio}
		for _, cam := range core.Cameras {
			s.videos = append(s.videos, video.New(cam, deps.Resolver, deps.Player, exec, vcfg, events, logger.With("component", "video")))
		}
	}
	return s
}

// Clock exposes the virtual clock.
func (s *Synchronizer) Clock() *clock.Clock {
	return s.clock
}

// Mode returns the operating mode.
func (s *Synchronizer) Mode() core.Mode {
	return s.mode.Mode()
}

// Session returns the active session or nil.
func (s *Synchronizer) Session() *PlaybackSession {
	return s.session
}

// SelectVehicle starts a session for vehicleID, ending any session for a
// different vehicle. The session stays in STABLE until GoLive or
// EnterTimeline.
func (s *Synchronizer) SelectVehicle(ctx context.Context, vehicleID string) error {
	if vehicleID == "" {
		return fmt.Errorf("%w: empty vehicle id", ErrNoVehicle)
	}
	if s.session != nil {
		if s.session.VehicleID == vehicleID {
			return nil
		}
		s.Deselect()
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.gen++
	s.session = &PlaybackSession{
		VehicleID:         vehicleID,
		LastAnimatedIndex: -1,
		ctx:               sctx,
		cancel:            cancel,
	}
	s.unsubscribe = s.clock.OnTick(s.onTick)
	s.animator.SetSpeedLimit(s.cfg.SpeedLimitKmh)
	s.loadProfile()

	s.logger.Info("vehicle selected", "vehicle", vehicleID)
	return nil
}

// Deselect ends the session and releases everything it drew or requested.
func (s *Synchronizer) Deselect() {
	sess := s.session
	if sess == nil {
		return
	}
	s.gen++
	s.live.Stop()
	s.mode.Stop()
	s.teardown()
	for _, v := range s.videos {
		v.Reset()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	sess.cancel()
	s.session = nil
	s.logger.Info("vehicle deselected", "vehicle", sess.VehicleID)
}

// GoLive switches the session to the live feed from any mode. The feed is
// subscribed in the background; a failed subscription is announced with
// NoticeLiveFailed and returns the session to STABLE.
func (s *Synchronizer) GoLive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess := s.session
	if sess == nil {
		return ErrNoVehicle
	}
	s.gen++
	sess.Finished = false
	s.mode.GoLive(s.sched.Now().Unix())

	s.live.Start(sess.ctx, sess.VehicleID, s.onLiveFailed)

	id := sess.VehicleID
	fetch(s, scopeMode, func(ctx context.Context) (*core.PositionSample, error) {
		return s.deps.Repository.FetchLatestPosition(ctx, id)
	}, func(p *core.PositionSample, err error) {
		if err != nil {
			s.logger.Warn("latest position fetch failed", "vehicle", id, "error", err)
			return
		}
		if p == nil || s.mode.Mode() != core.ModeLive || s.animator.Drawn() {
			return
		}
		sample := *p
		sample.Normalize()
		sample.Status = live.Classify(sample, s.sched.Now(), s.cfg.OfflineAfter)
		s.show(sample, 0)
	})
	return nil
}

// EnterTimeline loads the window r and starts replaying it from its first
// sample. The load is asynchronous; a failed or thin fetch leaves the mode
// STABLE and sends a notice.
func (s *Synchronizer) EnterTimeline(ctx context.Context, r core.TimeRange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess := s.session
	if sess == nil {
		return ErrNoVehicle
	}
	if r.To <= r.From {
		return ErrBadRange
	}
	s.mode.Stop()
	s.gen++
	sess.Range = r
	sess.Replay = nil
	sess.Videos = nil
	sess.Finished = false
	sess.next = 0
	sess.LastAnimatedIndex = -1
	sess.LastAnimatedTimestamp = 0

	key := cache.KeyFor(sess.VehicleID, r)
	if s.deps.Cache != nil {
		if e, ok := s.deps.Cache.Get(key); ok {
			s.logger.Debug("replay window served from cache", "vehicle", sess.VehicleID)
			return s.onWindowLoaded(window{Entry: e}, nil)
		}
	}

	id := sess.VehicleID
	fetch(s, scopeMode, func(ctx context.Context) (window, error) {
		return s.fetchWindow(ctx, id, r)
	}, func(w window, err error) {
		_ = s.onWindowLoaded(w, err)
	})
	return nil
}

type window struct {
	cache.Entry
	videoErr error
}

func (s *Synchronizer) fetchWindow(ctx context.Context, vehicleID string, r core.TimeRange) (window, error) {
	set, err := s.deps.Repository.FetchReplaySet(ctx, vehicleID, r)
	if err != nil {
		return window{}, core.NewFetchError("fetchReplaySet", err)
	}
	w := window{Entry: cache.Entry{Replay: set}}
	if len(s.videos) == 0 {
		return w, nil
	}
	w.Videos, err = s.deps.Repository.FetchVideoTimeline(ctx, vehicleID, core.Cameras, r)
	if err != nil {
		w.videoErr = core.NewFetchError("fetchVideoTimeline", err)
	}
	return w, nil
}

func (s *Synchronizer) onWindowLoaded(w window, err error) error {
	sess := s.session
	if err != nil {
		s.notify(NoticeFetchFailed, 0, err.Error())
		s.logger.Warn("replay fetch failed", "vehicle", sess.VehicleID, "error", err)
		return err
	}
	if w.videoErr != nil {
		s.notify(NoticeVideoError, 0, w.videoErr.Error())
		s.logger.Warn("video catalog fetch failed", "vehicle", sess.VehicleID, "error", w.videoErr)
	}

	set := w.Replay
	if err := set.Validate(); err != nil {
		s.notify(NoticeNoData, 0, err.Error())
		s.logger.Info("replay window rejected", "vehicle", sess.VehicleID, "samples", set.Len(), "error", err)
		return err
	}
	for i := range set.Samples {
		smp := &set.Samples[i]
		smp.Normalize()
		if smp.Status == "" {
			// Historical samples are classified against their own time, so
			// they are never offline.
			smp.Status = live.Classify(*smp, time.Unix(smp.Timestamp, 0), s.cfg.OfflineAfter)
		}
	}

	sess.Replay = set
	sess.Videos = w.Videos
	if s.deps.Cache != nil && w.videoErr == nil {
		s.deps.Cache.Put(cache.KeyFor(sess.VehicleID, sess.Range), w.Entry)
	}
	s.loadVideos(w.Videos)

	if err := s.mode.EnterTimeline(set, set.First()); err != nil {
		s.notify(NoticeNoData, 0, err.Error())
		return err
	}
	s.fitReplay(set)
	s.startAt(0, set.First(), false)
	return nil
}

func (s *Synchronizer) loadVideos(timelines []core.VideoTimeline) {
	for _, v := range s.videos {
		var found *core.VideoTimeline
		for i := range timelines {
			if timelines[i].CameraID == v.Camera() {
				found = &timelines[i]
				break
			}
		}
		v.Load(found)
	}
}

func (s *Synchronizer) fitReplay(set *core.ReplaySet) {
	pts := make([]core.LatLng, set.Len())
	for i, smp := range set.Samples {
		pts[i] = smp.Position()
	}
	s.animator.FitBounds(pts)
}

// BeginScrub pauses a TIMELINE session while the user drags the slider.
// The loaded window is kept for CommitScrub.
func (s *Synchronizer) BeginScrub() error {
	if s.session == nil {
		return ErrNoVehicle
	}
	return s.mode.BeginScrub()
}

// CommitScrub resumes the loaded window at minutes past its start.
func (s *Synchronizer) CommitScrub(ctx context.Context, minutes float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess := s.session
	if sess == nil {
		return ErrNoVehicle
	}
	if sess.Replay == nil {
		return ErrNoReplay
	}
	if s.mode.Mode() == core.ModeTimeline {
		if err := s.mode.BeginScrub(); err != nil {
			return err
		}
	}

	set := sess.Replay
	vt := sess.Range.MinutesToEpoch(minutes)
	backward := vt < s.clock.Now()
	idx := replay.ExactOrCurrent(set, vt, sess.LastAnimatedIndex, backward)
	if idx < 0 {
		idx = replay.NearestAtOrBefore(set, vt)
	}

	if err := s.mode.EnterTimeline(set, vt); err != nil {
		return err
	}
	sess.Finished = false
	sess.snapped = false
	s.startAt(idx, vt, true)
	return nil
}

// VideoProgress forwards a player progress report for camera.
func (s *Synchronizer) VideoProgress(camera int, fraction float64) {
	if v := s.videoFor(camera); v != nil && s.session != nil {
		v.Progress(s.session.ctx, fraction)
	}
}

// VideoEnded forwards a player end-of-segment event for camera.
func (s *Synchronizer) VideoEnded(camera int) {
	if v := s.videoFor(camera); v != nil && s.session != nil && s.mode.Mode() == core.ModeTimeline {
		v.Ended(s.session.ctx)
	}
}

func (s *Synchronizer) videoFor(camera int) *video.Adapter {
	for _, v := range s.videos {
		if v.Camera() == camera {
			return v
		}
	}
	return nil
}

func (s *Synchronizer) startAt(idx int, vt int64, seek bool) {
	sess := s.session
	s.pacer.Reset()
	s.render(idx)
	for _, v := range s.videos {
		if seek {
			v.Seek(sess.ctx, vt)
		} else {
			v.Sync(sess.ctx, vt)
		}
	}
	if sess.next >= sess.Replay.Len() {
		s.finish()
	}
}

func (s *Synchronizer) onTick(vt int64) {
	if s.session == nil {
		return
	}
	switch s.mode.Mode() {
	case core.ModeLive:
		s.pollETA()
	case core.ModeTimeline:
		s.advance(vt)
	}
}

func (s *Synchronizer) advance(vt int64) {
	sess := s.session
	set := sess.Replay
	if set == nil || sess.Finished {
		return
	}
	if sess.next < set.Len() && set.Samples[sess.next].Timestamp <= vt {
		idx := sess.next
		for idx+1 < set.Len() && set.Samples[idx+1].Timestamp <= vt {
			idx++
		}
		s.render(idx)
	}
	// Position first, then video for the same instant.
	for _, v := range s.videos {
		v.Sync(sess.ctx, vt)
	}
	if sess.next >= set.Len() {
		s.finish()
	}
}

func (s *Synchronizer) render(idx int) {
	sess := s.session
	smp := sess.Replay.Samples[idx]
	interval := s.pacer.Interval(smp.Timestamp)
	sess.LastAnimatedIndex = idx
	sess.LastAnimatedTimestamp = smp.Timestamp
	sess.next = idx + 1
	s.show(smp, interval)
}

func (s *Synchronizer) finish() {
	sess := s.session
	sess.Finished = true
	s.animator.Finish()
	s.clock.Pause()
	s.notify(NoticeReplayFinished, 0, "replay finished")
	s.logger.Info("replay finished", "vehicle", sess.VehicleID, "samples", sess.Replay.Len())
}

func (s *Synchronizer) show(smp core.PositionSample, interval time.Duration) {
	sess := s.session
	sess.Current = &smp
	m := s.mode.Mode()
	s.animator.UpdateMarker(smp.Position(), animator.Meta{
		Status:    smp.Status,
		Mode:      m,
		Timestamp: smp.Timestamp,
		Speed:     smp.Speed,
	}, interval)
	s.deps.Observer.MarkerUpdated(sess.VehicleID, m, smp)
}

func (s *Synchronizer) onLiveSample(smp core.PositionSample, interval time.Duration) {
	if s.session == nil || s.mode.Mode() != core.ModeLive {
		return
	}
	s.show(smp, interval)
}

func (s *Synchronizer) pollETA() {
	sess := s.session
	sess.ticks++
	if s.deps.ETA == nil || sess.ticks%s.cfg.ETAPollTicks != 0 {
		return
	}
	if sess.Current == nil || sess.Profile.NextWaypoint == nil {
		return
	}
	profile, at := sess.Profile, *sess.Current
	fetch(s, scopeMode, func(ctx context.Context) (core.ETA, error) {
		return s.deps.ETA.Estimate(ctx, profile, at)
	}, func(eta core.ETA, err error) {
		if err != nil {
			s.logger.Debug("eta estimate failed", "vehicle", profile.VehicleID, "error", err)
			return
		}
		s.session.ETA = &eta
	})
}

func (s *Synchronizer) loadProfile() {
	sess := s.session
	if s.deps.Profiles != nil {
		if p, ok := s.deps.Profiles.Get(sess.VehicleID); ok {
			s.applyProfile(p)
			return
		}
	}
	id := sess.VehicleID
	fetch(s, scopeSession, func(ctx context.Context) (*core.VehicleProfile, error) {
		return s.deps.Repository.FetchVehicleProfile(ctx, id)
	}, func(p *core.VehicleProfile, err error) {
		if err != nil {
			s.logger.Warn("vehicle profile fetch failed", "vehicle", id, "error", err)
			return
		}
		if p == nil {
			return
		}
		if s.deps.Profiles != nil {
			s.deps.Profiles.Set(*p)
		}
		s.applyProfile(*p)
	})
}

func (s *Synchronizer) applyProfile(p core.VehicleProfile) {
	s.session.Profile = p
	limit := p.SpeedLimit
	if limit <= 0 {
		limit = s.cfg.SpeedLimitKmh
	}
	s.animator.SetSpeedLimit(limit)
}

// onLiveFailed runs on the loop when the live subscription cannot be opened.
// The live adapter drops the report once the session has left live mode.
func (s *Synchronizer) onLiveFailed(err error) {
	vehicle := ""
	if s.session != nil {
		vehicle = s.session.VehicleID
	}
	s.notify(NoticeLiveFailed, 0, err.Error())
	s.logger.Warn("live subscription failed", "vehicle", vehicle, "error", err)
	if s.mode.Mode() == core.ModeLive {
		s.mode.Stop()
	}
}

func (s *Synchronizer) onTransition(from, to core.Mode) {
	if from == core.ModeLive {
		s.live.Stop()
	}
	s.teardown()
	vehicle := ""
	if s.session != nil {
		vehicle = s.session.VehicleID
		s.session.ticks = 0
	}
	s.deps.Observer.ModeChanged(vehicle, from, to)
	s.logger.Info("mode changed", "vehicle", vehicle, "from", from, "to", to)
}

// teardown releases drawn artifacts and playing video. Loaded data is kept.
func (s *Synchronizer) teardown() {
	s.animator.Remove()
	for _, v := range s.videos {
		v.Stop()
	}
	s.pacer.Reset()
}

func (s *Synchronizer) onVideoMatch(camera int, ts int64, seek bool) {
	sess := s.session
	if sess == nil || !seek || sess.snapped || s.mode.Mode() != core.ModeTimeline {
		return
	}
	sess.snapped = true
	s.clock.Seek(ts)
	s.logger.Debug("clock snapped to video", "camera", camera, "timestamp", ts)
}

func (s *Synchronizer) onNoVideo(camera int, vt int64) {
	s.notify(NoticeNoVideo, camera, fmt.Sprintf("no video for this time (%d)", vt))
}

func (s *Synchronizer) onVideoError(camera int, err error) {
	s.notify(NoticeVideoError, camera, err.Error())
}

func (s *Synchronizer) notify(kind NoticeKind, camera int, msg string) {
	n := Notice{Kind: kind, Camera: camera, Message: msg}
	if s.session != nil {
		n.VehicleID = s.session.VehicleID
	}
	s.deps.Notifier.Notify(n)
}

type fetchScope int

const (
	// scopeMode results are dropped after any mode change.
	scopeMode fetchScope = iota
	// scopeSession results survive mode changes but not deselection.
	scopeSession
)

// fetch runs op off the loop and delivers its result to done on the loop,
// unless the session or, for scopeMode, the generation moved on meanwhile.
func fetch[T any](s *Synchronizer, scope fetchScope, op func(ctx context.Context) (T, error), done func(T, error)) {
	sess, g := s.session, s.gen
	go func() {
		v, err := op(sess.ctx)
		s.exec.Post(func() {
			if s.session != sess || (scope == scopeMode && g != s.gen) {
				s.logger.Debug("async result discarded", "error", ErrStaleResult)
				return
			}
			done(v, err)
		})
	}()
}
