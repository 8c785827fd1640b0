// Package trigger fires the recurring booking jobs: the daily executor run,
// the confirmation sweep and the weekly template processing. Jobs run on a
// single worker so two portal sessions can never overlap.
package trigger

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "sportbot/pkg/logx"
)

type jobDef struct {
	name string
	spec string
	fn   Job

	entry   cron.EntryID
	runs    uint64
	lastRun time.Time
	lastErr string
}

type Service struct {
	cfg    Config
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	defs    []*jobDef
	c       *cron.Cron
	loc     *time.Location
	queue   chan *jobDef
	pending map[string]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		pending: map[string]bool{},
	}
}

// AddDaily registers fn to run every day at the given "HH:MM" wall time.
func (s *Service) AddDaily(name, at string, fn Job) error {
	hour, minute, err := parseHHMM(at)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", name, err)
	}
	return s.add(name, fmt.Sprintf("%d %d * * *", minute, hour), fn)
}

// AddInterval registers fn to run every d, aligned to service start.
func (s *Service) AddInterval(name string, d time.Duration, fn Job) error {
	if d < time.Minute {
		return fmt.Errorf("trigger %s: interval %v is below the 1m minimum", name, d)
	}
	return s.add(name, "@every "+d.String(), fn)
}

func (s *Service) add(name, spec string, fn Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("trigger %s: parse %q: %w", name, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.name == name {
			return fmt.Errorf("trigger %s: already registered", name)
		}
	}
	s.defs = append(s.defs, &jobDef{name: name, spec: spec, fn: fn})
	if s.c != nil {
		return s.scheduleLocked(s.defs[len(s.defs)-1])
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.queue = make(chan *jobDef, 16)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	for _, d := range s.defs {
		if err := s.scheduleLocked(d); err != nil {
			cancel()
			s.c = nil
			return err
		}
	}

	queue := s.queue
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(runCtx, queue)
	}()

	s.c.Start()
	s.log.Info("triggers started", logx.Int("jobs", len(s.defs)), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) scheduleLocked(d *jobDef) error {
	id, err := s.c.AddFunc(d.spec, func() { s.enqueue(d) })
	if err != nil {
		return fmt.Errorf("trigger %s: %w", d.name, err)
	}
	d.entry = id
	return nil
}

// enqueue hands the job to the worker. A job already queued or running is
// skipped; the state queries make every tick idempotent, so the next firing
// picks up whatever this one would have done.
func (s *Service) enqueue(d *jobDef) {
	s.mu.Lock()
	if s.pending[d.name] {
		s.mu.Unlock()
		s.log.Warn("trigger still busy, skipping", logx.String("job", d.name))
		return
	}
	s.pending[d.name] = true
	queue := s.queue
	s.mu.Unlock()

	select {
	case queue <- d:
	default:
		s.mu.Lock()
		s.pending[d.name] = false
		s.mu.Unlock()
		s.log.Warn("trigger queue full, skipping", logx.String("job", d.name))
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan *jobDef) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-queue:
			s.run(ctx, d)
		}
	}
}

func (s *Service) run(ctx context.Context, d *jobDef) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in trigger job",
				logx.String("job", d.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			s.finish(d, fmt.Errorf("panic: %v", r))
		}
	}()

	started := time.Now()
	s.log.Debug("trigger firing", logx.String("job", d.name))
	err := d.fn(ctx)
	if err != nil {
		s.log.Warn("trigger job failed",
			logx.String("job", d.name),
			logx.Duration("took", time.Since(started)),
			logx.Err(err))
	} else {
		s.log.Debug("trigger job done",
			logx.String("job", d.name),
			logx.Duration("took", time.Since(started)))
	}
	s.finish(d, err)
}

func (s *Service) finish(d *jobDef, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.runs++
	d.lastRun = time.Now()
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	s.pending[d.name] = false
}

// Kick runs a registered job out of schedule, through the same worker.
func (s *Service) Kick(name string) error {
	s.mu.Lock()
	var found *jobDef
	for _, d := range s.defs {
		if d.name == name {
			found = d
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return fmt.Errorf("trigger %s: not registered", name)
	}
	s.enqueue(found)
	return nil
}

// Jobs returns a snapshot of every registered trigger.
func (s *Service) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.defs))
	for _, d := range s.defs {
		st := JobStatus{
			Name:    d.name,
			Spec:    d.spec,
			Runs:    d.runs,
			LastRun: d.lastRun,
			LastErr: d.lastErr,
		}
		if s.c != nil {
			st.NextRun = s.c.Entry(d.entry).Next
		}
		out = append(out, st)
	}
	return out
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	cancel()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("triggers stopped")
	return nil
}

// parseHHMM parses a 24h "HH:MM" wall time.
func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
