// Package report posts a periodic subscriber summary to the operator chat.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dripbot/internal/domain"
	"dripbot/internal/storage"
	kit "dripbot/internal/transport"
	logx "dripbot/pkg/logx"
)

const DefaultSchedule = "0 9 * * *"

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
	ChatID   int64
	ThreadID int
}

// Counter is satisfied by storage.Store.
type Counter interface {
	Count(ctx context.Context, class domain.Class) (storage.Counts, error)
}

type Service struct {
	counter Counter
	sender  kit.Sender
	log     logx.Logger
	parser  cron.Parser
	now     func() time.Time

	mu   sync.Mutex
	cfg  Config
	loc  *time.Location
	c    *cron.Cron
	base context.Context
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the schedule and timezone without starting anything.
func Validate(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	if _, err := parser.Parse(schedule(cfg)); err != nil {
		return fmt.Errorf("report schedule %q: %w", cfg.Schedule, err)
	}
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return err
	}
	if cfg.ChatID == 0 {
		return errors.New("report needs a target chat")
	}
	return nil
}

func New(cfg Config, counter Counter, sender kit.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		counter: counter,
		sender:  sender,
		log:     log.With(logx.String("comp", "report")),
		parser:  parser,
		now:     time.Now,
		cfg:     cfg,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.base = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if !s.cfg.Enabled {
		s.log.Info("report disabled")
		return nil
	}
	if err := Validate(s.cfg); err != nil {
		return err
	}
	loc, _ := loadLocation(s.cfg.Timezone)
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(schedule(s.cfg), s.fire); err != nil {
		return fmt.Errorf("report schedule: %w", err)
	}
	c.Start()
	s.c = c
	s.loc = loc
	s.log.Info("report scheduled", logx.String("schedule", schedule(s.cfg)), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply swaps the config and reschedules if the service is running.
func (s *Service) Apply(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c
	if s.base == nil || (running != nil && old.Enabled == cfg.Enabled &&
		schedule(old) == schedule(cfg) && old.Timezone == cfg.Timezone) {
		s.mu.Unlock()
		return nil
	}
	s.c = nil
	s.mu.Unlock()

	// A running job takes s.mu, so wait for it unlocked.
	if running != nil {
		<-running.Stop().Done()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	return s.startLocked()
}

// Next returns the next scheduled run, or zero when not scheduled.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	if es := s.c.Entries(); len(es) > 0 {
		return es[0].Next
	}
	return time.Time{}
}

func (s *Service) fire() {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, 30*time.Second)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		s.log.Warn("report failed", logx.Err(err))
	}
}

// RunOnce builds the summary and sends it to the configured chat.
func (s *Service) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		loc, _ = loadLocation(cfg.Timezone)
	}

	rows := make([]row, 0, 2)
	for _, c := range domain.Classes() {
		n, err := s.counter.Count(ctx, c)
		if err != nil {
			return fmt.Errorf("count %s: %w", c, err)
		}
		rows = append(rows, row{class: c, counts: n})
	}
	text := render(s.now().In(loc), rows)
	if err := s.sender.SendText(ctx, kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	s.log.Debug("report sent", logx.Int64("chat_id", cfg.ChatID))
	return nil
}

type row struct {
	class  domain.Class
	counts storage.Counts
}

func render(at time.Time, rows []row) string {
	lines := []string{"📊 <b>Subscribers</b> " + at.Format("2006-01-02 15:04 MST")}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("• %s: %d active of %d, %d due now",
			r.class, r.counts.Active, r.counts.Total, r.counts.Due))
	}
	return strings.Join(lines, "\n")
}

func schedule(cfg Config) string {
	if s := strings.TrimSpace(cfg.Schedule); s != "" {
		return s
	}
	return DefaultSchedule
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("report timezone %q: %w", name, err)
	}
	return loc, nil
}
