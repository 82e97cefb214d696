// Package orchestrator drives the build lifecycle: request, plan,
// confirm, pay, execute.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vyvo/worldsmith/pkg/command"
	"github.com/vyvo/worldsmith/pkg/engine"
	"github.com/vyvo/worldsmith/pkg/ledger"
	"github.com/vyvo/worldsmith/pkg/plan"
	"github.com/vyvo/worldsmith/pkg/planner"
	"github.com/vyvo/worldsmith/pkg/sink"
)

// RecordStore is the slice of the record store the orchestrator needs.
type RecordStore interface {
	Create(record plan.BuildRecord, status plan.Status) (plan.BuildRecord, error)
	SetStatus(id uint64, status plan.Status) (plan.BuildRecord, error)
	Get(id uint64) (plan.BuildRecord, error)
	FindBuilding(requester string) (plan.BuildRecord, bool)
	ListPending(requester string) []plan.BuildRecord
	List() []plan.BuildRecord
	Delete(id uint64) error
	AppendEvent(event plan.BuildEvent)
	Events(id uint64) ([]plan.BuildEvent, error)
	Subscribe(id uint64) (<-chan plan.BuildEvent, error)
}

// Notifier delivers user-facing updates. The log notifier is used when
// no chat bridge is wired up.
type Notifier interface {
	PlanReady(requester string, requestID uint64, blueprint plan.Blueprint)
	PlanFailed(requester string, reason string)
	BuildProgress(requester string, recordID uint64, done, total int)
	BuildCompleted(requester string, recordID uint64)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) PlanReady(requester string, requestID uint64, blueprint plan.Blueprint) {
	log.Printf("notify %s: plan %d ready, %d commands, cost %d", requester, requestID, len(blueprint.Commands), blueprint.Cost)
}

func (LogNotifier) PlanFailed(requester string, reason string) {
	log.Printf("notify %s: plan failed: %s", requester, reason)
}

func (LogNotifier) BuildProgress(requester string, recordID uint64, done, total int) {
	log.Printf("notify %s: build %d progress %d/%d", requester, recordID, done, total)
}

func (LogNotifier) BuildCompleted(requester string, recordID uint64) {
	log.Printf("notify %s: build %d completed", requester, recordID)
}

// Config bounds build footprints and paces command dispatch.
type Config struct {
	MinExtent    int
	MaxExtent    int
	CommandDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinExtent <= 0 {
		c.MinExtent = 1
	}
	if c.MaxExtent <= 0 {
		c.MaxExtent = 64
	}
	if c.CommandDelay == 0 {
		c.CommandDelay = 100 * time.Millisecond
	}
	return c
}

// Service owns all mutable build state. Every mutation runs on the Run
// goroutine; public methods post closures onto it and wait, so callers
// never touch the tracker, blueprints, or engine concurrently.
type Service struct {
	cfg      Config
	tracker  *plan.Tracker
	records  RecordStore
	ledger   ledger.Ledger
	planner  planner.Planner
	engine   *engine.Engine
	sink     sink.Sink
	notifier Notifier

	ops          chan func()
	engineEvents chan engine.Event
	blueprints   map[uint64]plan.Blueprint
	runCtx       context.Context
}

// New wires the orchestrator. The engine is created here so its event
// stream stays private to the Run loop.
func New(cfg Config, records RecordStore, led ledger.Ledger, pl planner.Planner, snk sink.Sink, notifier Notifier) *Service {
	cfg = cfg.withDefaults()
	if notifier == nil {
		notifier = LogNotifier{}
	}
	events := make(chan engine.Event, 64)
	return &Service{
		cfg:          cfg,
		tracker:      plan.NewTracker(),
		records:      records,
		ledger:       led,
		planner:      pl,
		engine:       engine.New(snk, cfg.CommandDelay, events),
		sink:         snk,
		notifier:     notifier,
		ops:          make(chan func(), 16),
		engineEvents: events,
		blueprints:   make(map[uint64]plan.Blueprint),
		runCtx:       context.Background(),
	}
}

// Run processes state mutations and engine events until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.runCtx = ctx
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-s.ops:
			op()
		case ev := <-s.engineEvents:
			s.handleEngineEvent(ev)
		}
	}
}

// call runs fn on the Run goroutine and waits for its result.
func (s *Service) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case s.ops <- func() { done <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post runs fn on the Run goroutine without waiting.
func (s *Service) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.runCtx.Done():
	}
}

func (s *Service) checkExtent(extent int) error {
	if extent < s.cfg.MinExtent || extent > s.cfg.MaxExtent {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidExtent, extent, s.cfg.MinExtent, s.cfg.MaxExtent)
	}
	return nil
}

// BeginGeneration validates the footprint, tracks the request, and
// kicks off planning in the background. The caller gets the request id
// right away; the blueprint arrives through the notifier.
func (s *Service) BeginGeneration(ctx context.Context, requester, requesterUID string, origin command.Point3, dimension string, extent int, requirements string) (plan.BuildRequest, error) {
	if err := s.checkExtent(extent); err != nil {
		return plan.BuildRequest{}, err
	}

	var req plan.BuildRequest
	err := s.call(ctx, func() error {
		req = s.tracker.Begin(requester, requesterUID, origin, dimension, extent, requirements)
		return nil
	})
	if err != nil {
		return plan.BuildRequest{}, err
	}

	go s.generate(req)
	return req, nil
}

func (s *Service) generate(req plan.BuildRequest) {
	blueprint, err := s.planner.Generate(s.runCtx, planner.Request{
		Requester:    req.Requester,
		Origin:       req.Origin,
		Extent:       req.Extent,
		Requirements: req.Requirements,
	})
	if err != nil {
		log.Printf("orchestrator: plan request %d: %v", req.ID, err)
		s.post(func() { s.notifier.PlanFailed(req.Requester, err.Error()) })
		return
	}
	s.post(func() {
		s.blueprints[req.ID] = blueprint
		s.notifier.PlanReady(req.Requester, req.ID, blueprint)
	})
}

// Request returns the tracked request and its blueprint, if the
// planner has delivered one yet.
func (s *Service) Request(ctx context.Context, id uint64) (plan.BuildRequest, *plan.Blueprint, error) {
	var req plan.BuildRequest
	var blueprint *plan.Blueprint
	err := s.call(ctx, func() error {
		var err error
		req, err = s.tracker.Get(id)
		if err != nil {
			return ErrRequestExpired
		}
		if bp, ok := s.blueprints[id]; ok {
			blueprint = &bp
		}
		return nil
	})
	return req, blueprint, err
}

// Confirm consumes the tracked request and runs the payment saga. A
// busy engine rejects the confirmation before anything is consumed;
// once the saga starts the request is gone even if the saga fails.
func (s *Service) Confirm(ctx context.Context, requestID uint64) (plan.BuildRecord, error) {
	var record plan.BuildRecord
	err := s.call(ctx, func() error {
		blueprint, ok := s.blueprints[requestID]
		if !ok {
			if _, err := s.tracker.Get(requestID); err == nil {
				return ErrPlanNotReady
			}
			return ErrRequestExpired
		}

		if s.engine.Running() {
			return engine.ErrBusy
		}

		req, err := s.tracker.Take(requestID)
		if err != nil {
			return ErrRequestExpired
		}
		delete(s.blueprints, requestID)

		record, err = s.acceptBuild(ctx, req.Requester, req.RequesterUID, req.Origin, req.Dimension, req.Extent, req.Requirements, blueprint)
		return err
	})
	return record, err
}

// SaveDesign consumes the tracked request into a pending record
// without charging. The requester can re-confirm it later.
func (s *Service) SaveDesign(ctx context.Context, requestID uint64) (plan.BuildRecord, error) {
	var record plan.BuildRecord
	err := s.call(ctx, func() error {
		blueprint, ok := s.blueprints[requestID]
		if !ok {
			if _, err := s.tracker.Get(requestID); err == nil {
				return ErrPlanNotReady
			}
			return ErrRequestExpired
		}

		req, err := s.tracker.Take(requestID)
		if err != nil {
			return ErrRequestExpired
		}
		delete(s.blueprints, requestID)

		record, err = s.records.Create(plan.BuildRecord{
			Requester:     req.Requester,
			RequesterUID:  req.RequesterUID,
			Origin:        req.Origin,
			Dimension:     req.Dimension,
			Extent:        req.Extent,
			Requirements:  req.Requirements,
			EstimatedCost: blueprint.Cost,
			Commands:      blueprint.Commands,
		}, plan.StatusPending)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRecordCreation, err)
		}
		return nil
	})
	return record, err
}

// ConfirmRecord re-confirms a previously saved pending record. The
// stored footprint is re-validated, the same payment saga runs, and
// the pending record is deleted so it cannot be charged twice.
func (s *Service) ConfirmRecord(ctx context.Context, recordID uint64) (plan.BuildRecord, error) {
	var record plan.BuildRecord
	err := s.call(ctx, func() error {
		pending, err := s.records.Get(recordID)
		if err != nil {
			return err
		}
		if pending.Status != plan.StatusPending {
			return ErrRecordNotPending
		}
		if err := s.checkExtent(pending.Extent); err != nil {
			return err
		}
		if s.engine.Running() {
			return engine.ErrBusy
		}

		blueprint := plan.Blueprint{Commands: pending.Commands, Cost: pending.EstimatedCost}
		record, err = s.acceptBuild(ctx, pending.Requester, pending.RequesterUID, pending.Origin, pending.Dimension, pending.Extent, pending.Requirements, blueprint)
		if err != nil {
			return err
		}
		if err := s.records.Delete(pending.ID); err != nil {
			log.Printf("orchestrator: delete pending record %d: %v", pending.ID, err)
		}
		return nil
	})
	return record, err
}

// acceptBuild is the debit-then-create-or-compensate saga. Runs on the
// Run goroutine only.
func (s *Service) acceptBuild(ctx context.Context, requester, requesterUID string, origin command.Point3, dimension string, extent int, requirements string, blueprint plan.Blueprint) (plan.BuildRecord, error) {
	if s.ledger == nil {
		return plan.BuildRecord{}, fmt.Errorf("%w: no ledger configured", ledger.ErrInsufficientFunds)
	}
	if err := s.ledger.Debit(ctx, requester, blueprint.Cost); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return plan.BuildRecord{}, err
		}
		return plan.BuildRecord{}, fmt.Errorf("%w: %v", ErrDebitFailed, err)
	}

	record, err := s.records.Create(plan.BuildRecord{
		Requester:     requester,
		RequesterUID:  requesterUID,
		Origin:        origin,
		Dimension:     dimension,
		Extent:        extent,
		Requirements:  requirements,
		EstimatedCost: blueprint.Cost,
		ActualCost:    blueprint.Cost,
		Commands:      blueprint.Commands,
	}, plan.StatusBuilding)
	if err != nil {
		if creditErr := s.ledger.Credit(ctx, requester, blueprint.Cost); creditErr != nil {
			log.Printf("orchestrator: compensating credit for %s failed: %v", requester, creditErr)
		}
		return plan.BuildRecord{}, fmt.Errorf("%w: %v", ErrRecordCreation, err)
	}

	if err := s.engine.Start(s.runCtx, requester, &origin, record.Commands); err != nil {
		if _, statusErr := s.records.SetStatus(record.ID, plan.StatusFailed); statusErr != nil {
			log.Printf("orchestrator: fail record %d: %v", record.ID, statusErr)
		}
		if creditErr := s.ledger.Credit(ctx, requester, blueprint.Cost); creditErr != nil {
			log.Printf("orchestrator: compensating credit for %s failed: %v", requester, creditErr)
		}
		return plan.BuildRecord{}, err
	}

	s.records.AppendEvent(plan.NewBuildEvent(record.ID, "started", 0, len(record.Commands), ""))
	return record, nil
}

// Cancel asks the engine to stop after the current command. It reports
// whether a run was in flight. A cancelled build's record stays in the
// building state.
func (s *Service) Cancel(ctx context.Context) (bool, error) {
	var running bool
	err := s.call(ctx, func() error {
		running = s.engine.Running()
		s.engine.Cancel()
		return nil
	})
	return running, err
}

func (s *Service) handleEngineEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventProgress:
		record, ok := s.records.FindBuilding(ev.Requester)
		if !ok {
			log.Printf("orchestrator: progress for %s with no building record", ev.Requester)
			return
		}
		s.records.AppendEvent(plan.NewBuildEvent(record.ID, "progress", ev.Done, ev.Total, ""))
		s.notifier.BuildProgress(ev.Requester, record.ID, ev.Done, ev.Total)

	case engine.EventCompleted:
		// The finished build is identified by who asked for it, not by
		// record id, so only one build per requester may run at once.
		record, ok := s.records.FindBuilding(ev.Requester)
		if !ok {
			log.Printf("orchestrator: completion for %s with no building record", ev.Requester)
			return
		}
		s.records.AppendEvent(plan.NewBuildEvent(record.ID, "completed", ev.Done, ev.Total, ""))
		if _, err := s.records.SetStatus(record.ID, plan.StatusCompleted); err != nil {
			log.Printf("orchestrator: complete record %d: %v", record.ID, err)
		}
		s.notifier.BuildCompleted(ev.Requester, record.ID)
		go s.export(record)
	}
}

// export writes the finished plan out as a reusable function file.
func (s *Service) export(record plan.BuildRecord) {
	name := fmt.Sprintf("build_%d", record.ID)
	if err := s.sink.Export(s.runCtx, name, record.Commands); err != nil {
		log.Printf("orchestrator: export %s: %v", name, err)
	}
}

// Record returns one build record.
func (s *Service) Record(id uint64) (plan.BuildRecord, error) {
	return s.records.Get(id)
}

// PendingRecords lists the requester's saved designs, newest first.
func (s *Service) PendingRecords(requester string) []plan.BuildRecord {
	return s.records.ListPending(requester)
}

// Records lists build records, newest first, optionally filtered by
// requester.
func (s *Service) Records(requester string) []plan.BuildRecord {
	records := s.records.List()
	if requester == "" {
		return records
	}
	filtered := records[:0]
	for _, record := range records {
		if record.Requester == requester {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

// RecordEvents returns the progress history of a record.
func (s *Service) RecordEvents(id uint64) ([]plan.BuildEvent, error) {
	return s.records.Events(id)
}

// WatchRecord subscribes to a record's live progress stream.
func (s *Service) WatchRecord(id uint64) (<-chan plan.BuildEvent, error) {
	return s.records.Subscribe(id)
}

// Building reports whether the engine is executing a plan.
func (s *Service) Building() bool {
	return s.engine.Running()
}

// PlannerHealthy checks connectivity to the planner backend.
func (s *Service) PlannerHealthy(ctx context.Context) error {
	return s.planner.Ping(ctx)
}
