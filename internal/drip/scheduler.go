// Package drip runs the periodic delivery loop: find due recipients, pace
// sends under a per-window ceiling, and write back the schedule.
package drip

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dripbot/internal/clock"
	"dripbot/internal/delivery"
	"dripbot/internal/domain"
	"dripbot/internal/eventbus"
	logx "dripbot/pkg/logx"
)

const writeBackTimeout = 5 * time.Second

// Store is the slice of the recipient store the scheduler writes through.
type Store interface {
	Due(ctx context.Context, now time.Time, limit int) ([]domain.Recipient, error)
	MarkSent(ctx context.Context, id int64, sentAt, nextDue time.Time, cursor int) error
	SetActive(ctx context.Context, id int64, active bool) error
}

type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, text string) delivery.Result
}

// Params are the per-class knobs. They can be swapped at runtime with Apply.
type Params struct {
	MinDays float64
	MaxDays float64

	BatchSize int
	PerWindow int
	Window    time.Duration

	// Pacing is the pause after each successful send.
	Pacing time.Duration
	// PostBatch is the pause after a non-empty cycle.
	PostBatch time.Duration
	// Idle is the pause after an empty cycle.
	Idle time.Duration
	// ErrorBackoff is the pause after a failed cycle.
	ErrorBackoff time.Duration
	// DrainGrace bounds how long an in-flight delivery may continue after
	// shutdown was requested.
	DrainGrace time.Duration
}

func DefaultParams(class domain.Class) Params {
	p := Params{
		MinDays:      2,
		MaxDays:      3,
		BatchSize:    20,
		PerWindow:    20,
		Window:       time.Minute,
		Pacing:       100 * time.Millisecond,
		PostBatch:    2 * time.Second,
		Idle:         30 * time.Second,
		ErrorBackoff: 30 * time.Second,
		DrainGrace:   10 * time.Second,
	}
	if class == domain.Group {
		p.PostBatch = 5 * time.Second
	}
	return p
}

func (p Params) withDefaults(class domain.Class) Params {
	def := DefaultParams(class)
	if p.MinDays <= 0 {
		p.MinDays = def.MinDays
	}
	if p.MaxDays < p.MinDays {
		p.MaxDays = p.MinDays
	}
	if p.BatchSize <= 0 {
		p.BatchSize = def.BatchSize
	}
	if p.PerWindow <= 0 {
		p.PerWindow = def.PerWindow
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.Pacing < 0 {
		p.Pacing = 0
	}
	if p.PostBatch < 0 {
		p.PostBatch = 0
	}
	if p.Idle <= 0 {
		p.Idle = def.Idle
	}
	if p.ErrorBackoff <= 0 {
		p.ErrorBackoff = def.ErrorBackoff
	}
	if p.DrainGrace <= 0 {
		p.DrainGrace = def.DrainGrace
	}
	return p
}

type Options struct {
	Clock clock.Clock
	Bus   eventbus.Bus
	Rand  Float64er
	Log   logx.Logger
}

type Scheduler struct {
	class    domain.Class
	store    Store
	deliver  Deliverer
	messages domain.Messages
	gov      *Governor
	clock    clock.Clock
	bus      eventbus.Bus
	log      logx.Logger

	mu     sync.Mutex
	params Params
	rng    Float64er

	cycles       atomic.Uint64
	failedCycles atomic.Uint64
	sent         atomic.Uint64
	deactivated  atomic.Uint64
	skipped      atomic.Uint64
	throttled    atomic.Uint64
	lastCycle    atomic.Value // cycleInfo
}

type cycleInfo struct {
	id string
	at time.Time
}

func New(class domain.Class, store Store, d Deliverer, msgs domain.Messages, p Params, opt Options) *Scheduler {
	p = p.withDefaults(class)
	if opt.Clock == nil {
		opt.Clock = clock.Real()
	}
	if opt.Bus == nil {
		opt.Bus = eventbus.Nop{}
	}
	if opt.Rand == nil {
		opt.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	return &Scheduler{
		class:    class,
		store:    store,
		deliver:  d,
		messages: msgs,
		gov:      NewGovernor(p.PerWindow, p.Window, opt.Clock),
		clock:    opt.Clock,
		bus:      opt.Bus,
		log:      opt.Log.With(logx.String("comp", "drip"), logx.String("class", class.String())),
		params:   p,
		rng:      opt.Rand,
	}
}

func (s *Scheduler) Class() domain.Class { return s.class }

func (s *Scheduler) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Apply swaps parameters; the next cycle picks them up.
func (s *Scheduler) Apply(p Params) {
	p = p.withDefaults(s.class)
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
	s.gov.SetLimit(p.PerWindow)
	s.log.Info("drip params applied",
		logx.Float64("min_days", p.MinDays),
		logx.Float64("max_days", p.MaxDays),
		logx.Int("batch", p.BatchSize),
		logx.Int("per_window", p.PerWindow),
	)
}

// Run loops until ctx is cancelled. It never returns an error: failed cycles
// are logged and retried after ErrorBackoff.
func (s *Scheduler) Run(ctx context.Context) error {
	p := s.Params()
	s.log.Info("scheduler started",
		logx.Int("batch", p.BatchSize),
		logx.Int("per_window", p.PerWindow),
		logx.Duration("idle", p.Idle),
	)
	defer s.log.Info("scheduler stopped")

	for ctx.Err() == nil {
		wait := s.cycle(ctx)
		if err := s.clock.Sleep(ctx, wait); err != nil {
			break
		}
	}
	return nil
}

// cycle runs one poll/drain pass and returns how long to pause before the
// next one.
func (s *Scheduler) cycle(ctx context.Context) (wait time.Duration) {
	p := s.Params()
	id := uuid.NewString()
	log := s.log.With(logx.String("cycle", id))

	defer func() {
		if r := recover(); r != nil {
			s.failedCycles.Add(1)
			log.Error("drip cycle panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			s.publish(EventCycle, Event{CycleID: id, Failed: true})
			wait = p.ErrorBackoff
		}
	}()

	rep, err := s.runCycle(ctx, id, log, p)
	switch {
	case err != nil && ctx.Err() != nil:
		log.Warn("drip cycle interrupted", logx.Err(err))
		return 0
	case err != nil:
		s.failedCycles.Add(1)
		log.Error("drip cycle failed", logx.Err(err), logx.Duration("backoff", p.ErrorBackoff))
		s.publish(EventCycle, Event{CycleID: id, Failed: true})
		return p.ErrorBackoff
	case rep.Due == 0:
		return p.Idle
	default:
		log.Info("drip cycle done",
			logx.Int("due", rep.Due),
			logx.Int("sent", rep.Sent),
			logx.Int("deactivated", rep.Deactivated),
			logx.Int("skipped", rep.Skipped),
		)
		return p.PostBatch
	}
}

// CycleReport summarizes one pass.
type CycleReport struct {
	ID          string
	Due         int
	Sent        int
	Deactivated int
	Skipped     int
}

// RunOnce performs a single poll/drain pass without the trailing pause.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleReport, error) {
	id := uuid.NewString()
	return s.runCycle(ctx, id, s.log.With(logx.String("cycle", id)), s.Params())
}

func (s *Scheduler) runCycle(ctx context.Context, id string, log logx.Logger, p Params) (CycleReport, error) {
	rep := CycleReport{ID: id}
	now := s.clock.Now()
	s.cycles.Add(1)
	s.lastCycle.Store(cycleInfo{id: id, at: now})
	s.gov.Refresh(now)

	due, err := s.store.Due(ctx, now, p.BatchSize)
	if err != nil {
		return rep, fmt.Errorf("due query: %w", err)
	}
	rep.Due = len(due)
	s.publish(EventCycle, Event{CycleID: id, Batch: len(due)})
	if len(due) == 0 {
		log.Debug("nothing due")
		return rep, nil
	}

	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		waited, err := s.gov.Admit(ctx)
		if err != nil {
			break
		}
		if waited {
			s.throttled.Add(1)
			s.publish(EventThrottled, Event{CycleID: id, RecipientID: r.ID})
			log.Debug("send ceiling reached; window rolled over")
		}

		kind, err := s.drain(ctx, id, log, p, r)
		if err != nil {
			return rep, err
		}
		switch kind {
		case domain.Success:
			rep.Sent++
			if err := s.clock.Sleep(ctx, p.Pacing); err != nil {
				return rep, nil
			}
		case domain.Blocked:
			rep.Deactivated++
		default:
			rep.Skipped++
		}
	}
	return rep, nil
}

// drain delivers to one recipient and writes back the result. It reports
// Success, Blocked (deactivated) or the kind of the skipped attempt. A failed
// write-back is returned as an error and fails the cycle.
func (s *Scheduler) drain(ctx context.Context, cycleID string, log logx.Logger, p Params, r domain.Recipient) (domain.OutcomeKind, error) {
	log = log.With(logx.Int64("chat_id", r.ID))

	dctx, cancel := s.drainContext(ctx, p.DrainGrace)
	res := s.deliver.Deliver(dctx, r.ID, s.messages.At(r.Cursor))
	cancel()

	// The delivery already happened; the write-back must not be lost to
	// shutdown.
	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), writeBackTimeout)
	defer wcancel()

	ev := Event{CycleID: cycleID, RecipientID: r.ID, Outcome: res.Outcome.Kind, Attempts: res.Attempts}
	switch {
	case res.OK():
		sentAt := s.clock.Now()
		next := NextDue(sentAt, s.interval(p))
		cursor := s.messages.Next(r.Cursor)
		if err := s.store.MarkSent(wctx, r.ID, sentAt, next, cursor); err != nil {
			return domain.Success, fmt.Errorf("mark sent %d: %w", r.ID, err)
		}
		s.sent.Add(1)
		s.publish(EventSent, ev)
		log.Debug("sent", logx.Int("cursor", cursor), logx.Time("next_due", next))
		return domain.Success, nil

	case res.Deactivate():
		if err := s.store.SetActive(wctx, r.ID, false); err != nil {
			return domain.Blocked, fmt.Errorf("deactivate %d: %w", r.ID, err)
		}
		s.deactivated.Add(1)
		s.publish(EventDeactivated, ev)
		log.Info("recipient deactivated", logx.String("outcome", res.Outcome.String()), logx.Err(res.Err))
		return domain.Blocked, nil

	default:
		s.skipped.Add(1)
		s.publish(EventSkipped, ev)
		log.Warn("delivery skipped", logx.String("outcome", res.Outcome.String()), logx.Err(res.Err))
		return res.Outcome.Kind, nil
	}
}

func (s *Scheduler) interval(p Params) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Interval(s.rng, p.MinDays, p.MaxDays)
}

func (s *Scheduler) publish(typ string, e Event) {
	e.Class = s.class
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: e})
}

// drainContext detaches from parent cancellation but gives up grace after
// parent is cancelled, measured on the scheduler clock.
func (s *Scheduler) drainContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		if s.clock.Sleep(ctx, grace) == nil {
			cancel()
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

// Snapshot is a point-in-time view for status output.
type Snapshot struct {
	Class        domain.Class
	Cycles       uint64
	FailedCycles uint64
	Sent         uint64
	Deactivated  uint64
	Skipped      uint64
	Throttled    uint64
	LastCycleID  string
	LastCycleAt  time.Time
	Window       GovernorState
	Params       Params
}

func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		Class:        s.class,
		Cycles:       s.cycles.Load(),
		FailedCycles: s.failedCycles.Load(),
		Sent:         s.sent.Load(),
		Deactivated:  s.deactivated.Load(),
		Skipped:      s.skipped.Load(),
		Throttled:    s.throttled.Load(),
		Window:       s.gov.State(),
		Params:       s.Params(),
	}
	if ci, ok := s.lastCycle.Load().(cycleInfo); ok {
		snap.LastCycleID = ci.id
		snap.LastCycleAt = ci.at
	}
	return snap
}
