package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/perchlabs/roost/pkg/events"
	"github.com/perchlabs/roost/pkg/log"
	"github.com/perchlabs/roost/pkg/metrics"
	"github.com/perchlabs/roost/pkg/selector"
	"github.com/perchlabs/roost/pkg/storage"
	"github.com/perchlabs/roost/pkg/types"
	"github.com/perchlabs/roost/pkg/upstream"
	"github.com/rs/zerolog"
)

const defaultTickInterval = 60 * time.Second

// FollowClient performs one follow action for one account
type FollowClient interface {
	FollowDuration(ctx context.Context, targetHandle string) (types.FollowOutcome, time.Duration)
}

// ClientFactory builds the follow client for an account. The default factory
// returns the proxy-bound upstream client; tests inject mocks.
type ClientFactory func(account *types.Account) (FollowClient, error)

// Scheduler drives the fleet: it rotates groups, gates accounts, selects
// targets, and dispatches follow actions concurrently
type Scheduler struct {
	store    storage.Store
	broker   *events.Broker
	selector *selector.Selector
	factory  ClientFactory
	logger   zerolog.Logger

	mu             sync.RWMutex
	running        bool
	currentGroup   int
	nextGroupStart time.Time
	cancel         context.CancelFunc
	done           chan struct{}

	// Loop-goroutine state, never touched concurrently
	lastResetDay int

	// Tunables, defaulted in New; tests shorten them
	tickInterval time.Duration
	pace         time.Duration // Non-zero overrides the computed batch pacing
	now          func() time.Time
}

// New creates a scheduler over the given store. broker may be nil.
func New(store storage.Store, broker *events.Broker) *Scheduler {
	return &Scheduler{
		store:    store,
		broker:   broker,
		selector: selector.New(store),
		factory: func(account *types.Account) (FollowClient, error) {
			return upstream.NewClient(account)
		},
		logger:       log.WithComponent("scheduler"),
		currentGroup: -1,
		tickInterval: defaultTickInterval,
		now:          time.Now,
	}
}

// Running reports whether the loop is active
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// CurrentGroup returns the active group and the UTC time of the next rotation
func (s *Scheduler) CurrentGroup() (int, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentGroup, s.nextGroupStart
}

// Start activates the fleet and spawns the loop. A running loop is stopped
// first so Start always begins from a clean state. Starting is refused while
// scheduling is disabled in settings.
func (s *Scheduler) Start() error {
	if err := s.Stop(); err != nil {
		return err
	}

	settings, err := s.store.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	if !settings.Active {
		return fmt.Errorf("scheduling is disabled in settings")
	}

	now := s.now().UTC()
	group := ActiveGroup(now.Hour(), settings.ScheduleGroups)
	activated, err := s.store.ActivateFleet(group, now)
	if err != nil {
		return fmt.Errorf("failed to activate fleet: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.running = true
	s.currentGroup = group
	s.nextGroupStart = NextTransition(now, settings.ScheduleGroups)
	s.cancel = cancel
	s.done = done
	s.lastResetDay = dayKey(now)
	s.mu.Unlock()

	metrics.ActiveGroup.Set(float64(group))
	s.publish(events.EventSchedulerStarted,
		fmt.Sprintf("scheduler started, %d accounts activated in group %d", activated, group), nil)
	s.logger.Info().
		Int("group", group).
		Int("activated", activated).
		Msg("scheduler started")

	go s.run(ctx, done)
	return nil
}

// Stop cancels the loop, waits for it to exit, and deactivates the fleet.
// Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	deactivated, err := s.store.DeactivateFleet()
	if err != nil {
		return fmt.Errorf("failed to deactivate fleet: %w", err)
	}

	s.publish(events.EventSchedulerStopped,
		fmt.Sprintf("scheduler stopped, %d accounts deactivated", deactivated), nil)
	s.logger.Info().Int("deactivated", deactivated).Msg("scheduler stopped")
	return nil
}

// Reconfigure re-reads settings and restarts the loop when they allow it.
// The admin surface calls this after every settings write.
func (s *Scheduler) Reconfigure() error {
	s.mu.RLock()
	wasRunning := s.running
	s.mu.RUnlock()

	if err := s.Stop(); err != nil {
		return err
	}

	settings, err := s.store.GetSettings()
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	if !settings.Active {
		if wasRunning {
			s.logger.Info().Msg("scheduling disabled, loop not restarted")
		}
		return nil
	}
	return s.Start()
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		s.tick(ctx)
		if err := sleepCtx(ctx, s.tickInterval); err != nil {
			return
		}
	}
}

// tick is one full scheduler pass: housekeeping, then the active group
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	settings, err := s.store.GetSettings()
	if err != nil {
		s.logger.Warn().Err(err).Msg("settings fetch failed, skipping tick")
		return
	}
	if !settings.Active {
		return
	}

	now := s.now().UTC()
	s.rotate(now, settings)
	s.maybeDailyReset(now)

	if cleared, err := s.store.ClearExpiredRateLimits(now); err != nil {
		s.logger.Warn().Err(err).Msg("rate limit sweep failed")
	} else if cleared > 0 {
		s.logger.Info().Int("cleared", cleared).Msg("rate limit cooldowns expired")
	}

	s.mu.RLock()
	group := s.currentGroup
	s.mu.RUnlock()

	accounts, err := s.store.ListAccountsByGroup(group)
	if err != nil {
		s.logger.Warn().Err(err).Int("group", group).Msg("account listing failed, skipping tick")
		return
	}
	if len(accounts) == 0 {
		return
	}

	// One goroutine per account; the account's own client and proxy
	// provide the back-pressure
	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(account *types.Account) {
			defer wg.Done()
			s.process(ctx, account, settings, group)
		}(account)
	}
	wg.Wait()
}

// rotate recomputes the active group and reassigns the fleet on a transition
func (s *Scheduler) rotate(now time.Time, settings *types.Settings) {
	group := ActiveGroup(now.Hour(), settings.ScheduleGroups)

	s.mu.Lock()
	if group == s.currentGroup {
		s.mu.Unlock()
		return
	}
	previous := s.currentGroup
	s.currentGroup = group
	s.nextGroupStart = NextTransition(now, settings.ScheduleGroups)
	s.mu.Unlock()

	reassigned, err := s.store.AssignGroup(group, now)
	if err != nil {
		s.logger.Error().Err(err).Int("group", group).Msg("group reassignment failed")
		return
	}

	metrics.ActiveGroup.Set(float64(group))
	metrics.GroupRotations.Inc()
	s.publish(events.EventGroupRotated,
		fmt.Sprintf("active group %d -> %d", previous, group),
		map[string]string{"group": strconv.Itoa(group)})
	s.logger.Info().
		Int("previous", previous).
		Int("group", group).
		Int("reassigned", reassigned).
		Msg("group rotated")
}

// maybeDailyReset zeroes daily counters on the first tick after UTC midnight
func (s *Scheduler) maybeDailyReset(now time.Time) {
	day := dayKey(now)
	if now.Hour() != 0 || day == s.lastResetDay {
		return
	}

	reset, err := s.store.DailyReset(now)
	if err != nil {
		s.logger.Error().Err(err).Msg("daily reset failed")
		return
	}
	s.lastResetDay = day

	metrics.DailyResets.Inc()
	s.publish(events.EventDailyReset,
		fmt.Sprintf("daily counters reset for %d accounts", reset), nil)
	s.logger.Info().Int("reset", reset).Msg("daily counters reset")
}

// followItem is one queued follow: a reserved progress row's target
type followItem struct {
	targetID string
	handle   string
}

// process runs the per-account routine for one tick: gate, queue, execute
func (s *Scheduler) process(ctx context.Context, account *types.Account, settings *types.Settings, group int) {
	logger := s.logger.With().
		Str("account_id", account.ID).
		Str("handle", account.Handle).
		Logger()

	now := s.now().UTC()
	gate, err := Check(s.store, account, settings, now)
	if err != nil {
		logger.Warn().Err(err).Msg("eligibility check failed")
		return
	}
	if !gate.Eligible {
		metrics.AccountsSkipped.WithLabelValues(gate.Reason).Inc()
		logger.Debug().
			Str("reason", gate.Reason).
			Dur("wait", gate.Wait).
			Msg("account skipped")
		return
	}

	batch := selector.BatchSize(account, settings)
	if batch == 0 {
		return
	}

	queue, err := s.dueItems(account, now, batch)
	if err != nil {
		logger.Error().Err(err).Msg("due row lookup failed")
		return
	}
	if len(queue) == 0 {
		targets, err := s.selector.Select(account, settings, group, now)
		if err != nil {
			logger.Error().Err(err).Msg("target selection failed")
			return
		}
		for _, target := range targets {
			queue = append(queue, followItem{targetID: target.ID, handle: target.Handle})
		}
	}
	if len(queue) == 0 {
		logger.Debug().Msg("no targets available")
		return
	}

	client, err := s.factory(account)
	if err != nil {
		logger.Error().Err(err).Msg("client construction failed")
		return
	}

	pace := s.paceFor(settings)
	for i, item := range queue {
		if i > 0 {
			if err := sleepCtx(ctx, pace); err != nil {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		if _, err := s.store.MarkInProgress(account.ID, item.targetID); err != nil {
			logger.Warn().Err(err).Str("target", item.handle).Msg("mark in progress failed")
			continue
		}

		outcome, duration := client.FollowDuration(ctx, item.handle)
		if ctx.Err() != nil && !outcome.OK() {
			outcome = types.FollowOutcome{Kind: types.OutcomeTransportError, Message: "cancelled"}
		}

		if err := s.store.RecordOutcome(account.ID, item.targetID, outcome, duration); err != nil {
			logger.Error().Err(err).Str("target", item.handle).Msg("outcome record failed")
			return
		}

		metrics.FollowsTotal.WithLabelValues(string(outcome.Kind)).Inc()
		metrics.FollowDuration.Observe(duration.Seconds())
		s.publishOutcome(account, item.handle, outcome)

		if !outcome.OK() {
			logger.Warn().
				Str("target", item.handle).
				Str("outcome", outcome.String()).
				Msg("follow failed, stopping batch")
			return
		}
		logger.Info().
			Str("target", item.handle).
			Dur("duration", duration).
			Msg("follow completed")
	}

	s.planAhead(account.ID, settings, group, now)
}

// dueItems returns the account's pending rows that are due, oldest first
func (s *Scheduler) dueItems(account *types.Account, now time.Time, limit int) ([]followItem, error) {
	rows, err := s.store.ListProgressByAccount(account.ID)
	if err != nil {
		return nil, err
	}

	due := make([]*types.FollowProgress, 0, limit)
	for _, row := range rows {
		if row.Status == types.ProgressPending && !row.ScheduledFor.After(now) {
			due = append(due, row)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	items := make([]followItem, 0, len(due))
	for _, row := range due {
		items = append(items, followItem{targetID: row.TargetID, handle: row.TargetHandle})
	}
	return items, nil
}

// planAhead reserves future batches at the configured stride so the pending
// queue always announces when the account is next due. The horizon is one
// day; daily caps are enforced again at execution time.
func (s *Scheduler) planAhead(accountID string, settings *types.Settings, group int, now time.Time) {
	account, err := s.store.GetAccount(accountID)
	if err != nil {
		return
	}

	remaining := settings.MaxFollowsPerDay - account.DailyFollows
	if remaining <= 0 {
		return
	}

	stride := time.Duration(settings.IntervalMinutes) * time.Minute
	horizon := now.Add(24 * time.Hour)
	planned := 0

	for at := now.Add(stride); at.Before(horizon) && planned < remaining; at = at.Add(stride) {
		targets, err := s.selector.Select(account, settings, group, at)
		if err != nil || len(targets) == 0 {
			break
		}
		planned += len(targets)
	}

	if planned > 0 {
		s.logger.Debug().
			Str("account_id", accountID).
			Int("planned", planned).
			Msg("future follows planned")
	}
}

// paceFor computes the sleep between successive follows in one batch. The
// hard per-account gap applies inside a batch as well, so the computed pace
// never drops below it.
func (s *Scheduler) paceFor(settings *types.Settings) time.Duration {
	if s.pace > 0 {
		return s.pace
	}
	per := settings.MaxFollowsPerInterval
	if per < 1 {
		per = 1
	}
	pace := time.Duration(settings.IntervalMinutes) * time.Minute / time.Duration(per)
	if pace < followGap {
		return followGap
	}
	return pace
}

func (s *Scheduler) publish(eventType events.EventType, message string, metadata map[string]string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     eventType,
		Message:  message,
		Metadata: metadata,
	})
}

func (s *Scheduler) publishOutcome(account *types.Account, targetHandle string, outcome types.FollowOutcome) {
	eventType := events.EventFollowFailed
	switch outcome.Kind {
	case types.OutcomeOK:
		eventType = events.EventFollowCompleted
	case types.OutcomeRateLimited:
		eventType = events.EventFollowRateLimited
	}
	s.publish(eventType, fmt.Sprintf("%s -> %s: %s", account.Handle, targetHandle, outcome), map[string]string{
		"account_id": account.ID,
		"target":     targetHandle,
		"outcome":    string(outcome.Kind),
	})
}

func dayKey(now time.Time) int {
	return now.Year()*1000 + now.YearDay()
}

// sleepCtx sleeps for d or until ctx is cancelled
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
