package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vyvo/worldsmith/pkg/command"
	"github.com/vyvo/worldsmith/pkg/engine"
	"github.com/vyvo/worldsmith/pkg/ledger"
	"github.com/vyvo/worldsmith/pkg/plan"
	"github.com/vyvo/worldsmith/pkg/planner"
	"github.com/vyvo/worldsmith/pkg/sink"
)

type fakePlanner struct {
	blueprint plan.Blueprint
	err       error
}

func (p *fakePlanner) Generate(context.Context, planner.Request) (plan.Blueprint, error) {
	return p.blueprint, p.err
}

func (p *fakePlanner) Ping(context.Context) error { return nil }

type chanNotifier struct {
	planReady  chan uint64
	planFailed chan string
	completed  chan uint64
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{
		planReady:  make(chan uint64, 8),
		planFailed: make(chan string, 8),
		completed:  make(chan uint64, 8),
	}
}

func (n *chanNotifier) PlanReady(_ string, requestID uint64, _ plan.Blueprint) {
	n.planReady <- requestID
}
func (n *chanNotifier) PlanFailed(_ string, reason string)       { n.planFailed <- reason }
func (n *chanNotifier) BuildProgress(string, uint64, int, int)   {}
func (n *chanNotifier) BuildCompleted(_ string, recordID uint64) { n.completed <- recordID }

type failingStore struct {
	*plan.MemStore
}

func (s *failingStore) Create(plan.BuildRecord, plan.Status) (plan.BuildRecord, error) {
	return plan.BuildRecord{}, errors.New("disk full")
}

type blockingSink struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (s *blockingSink) Dispatch(ctx context.Context, _ string) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *blockingSink) Export(context.Context, string, []string) error { return nil }

type fixture struct {
	service  *Service
	store    *plan.MemStore
	ledger   *ledger.MemLedger
	notifier *chanNotifier
}

func newFixture(t *testing.T, records RecordStore, blueprint plan.Blueprint) fixture {
	t.Helper()
	store, _ := records.(*plan.MemStore)
	if records == nil {
		store = plan.NewMemStore()
		records = store
	}
	led := ledger.NewMemLedger()
	notifier := newChanNotifier()
	svc := New(Config{MinExtent: 1, MaxExtent: 64, CommandDelay: time.Millisecond},
		records, led, &fakePlanner{blueprint: blueprint}, sink.LogSink{}, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = svc.Run(ctx) }()

	return fixture{service: svc, store: store, ledger: led, notifier: notifier}
}

func wait[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func testBlueprint() plan.Blueprint {
	return plan.Blueprint{
		Commands: []string{"setblock ~ ~ ~ stone", "setblock ~ ~+1 ~ stone"},
		Cost:     500,
	}
}

func TestBeginGenerationValidatesExtent(t *testing.T) {
	f := newFixture(t, nil, testBlueprint())
	ctx := context.Background()
	origin := command.Point3{}

	for _, extent := range []int{0, 65} {
		_, err := f.service.BeginGeneration(ctx, "steve", "uid", origin, "overworld", extent, "a hut")
		if !errors.Is(err, ErrInvalidExtent) {
			t.Fatalf("extent %d: expected ErrInvalidExtent, got %v", extent, err)
		}
	}
	for _, extent := range []int{1, 64} {
		if _, err := f.service.BeginGeneration(ctx, "steve", "uid", origin, "overworld", extent, "a hut"); err != nil {
			t.Fatalf("extent %d: %v", extent, err)
		}
	}
}

func TestConfirmUnknownRequest(t *testing.T) {
	f := newFixture(t, nil, testBlueprint())
	if _, err := f.service.Confirm(context.Background(), 999); !errors.Is(err, ErrRequestExpired) {
		t.Fatalf("expected ErrRequestExpired, got %v", err)
	}
}

func TestConfirmRunsBuildToCompletion(t *testing.T) {
	f := newFixture(t, nil, testBlueprint())
	ctx := context.Background()
	f.ledger.Deposit("steve", 1000)

	req, err := f.service.BeginGeneration(ctx, "steve", "uid", command.Point3{X: 0, Y: 64, Z: 0}, "overworld", 8, "a hut")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	wait(t, f.notifier.planReady, "plan ready")

	record, err := f.service.Confirm(ctx, req.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if record.Status != plan.StatusBuilding {
		t.Fatalf("record status: got %s, want building", record.Status)
	}
	if balance, _ := f.ledger.Balance(ctx, "steve"); balance != 500 {
		t.Fatalf("balance after debit: got %d, want 500", balance)
	}

	completedID := wait(t, f.notifier.completed, "completion")
	if completedID != record.ID {
		t.Fatalf("completed record: got %d, want %d", completedID, record.ID)
	}
	final, err := f.service.Record(record.ID)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if final.Status != plan.StatusCompleted || final.CompletedAt == nil {
		t.Fatalf("final record not completed: %+v", final)
	}

	// The request was consumed at confirmation.
	if _, err := f.service.Confirm(ctx, req.ID); !errors.Is(err, ErrRequestExpired) {
		t.Fatalf("second confirm should expire, got %v", err)
	}
}

func TestConfirmInsufficientFundsStillConsumesRequest(t *testing.T) {
	f := newFixture(t, nil, testBlueprint())
	ctx := context.Background()
	f.ledger.Deposit("steve", 100)

	req, err := f.service.BeginGeneration(ctx, "steve", "uid", command.Point3{}, "overworld", 8, "a hut")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	wait(t, f.notifier.planReady, "plan ready")

	if _, err := f.service.Confirm(ctx, req.ID); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if balance, _ := f.ledger.Balance(ctx, "steve"); balance != 100 {
		t.Fatalf("failed confirm must not keep the debit, balance %d", balance)
	}
	if _, err := f.service.Confirm(ctx, req.ID); !errors.Is(err, ErrRequestExpired) {
		t.Fatalf("request should be consumed even on failure, got %v", err)
	}
}

func TestConfirmCompensatesFailedRecordCreation(t *testing.T) {
	records := &failingStore{MemStore: plan.NewMemStore()}
	f := newFixture(t, records, testBlueprint())
	ctx := context.Background()
	f.ledger.Deposit("steve", 1000)

	req, err := f.service.BeginGeneration(ctx, "steve", "uid", command.Point3{}, "overworld", 8, "a hut")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	wait(t, f.notifier.planReady, "plan ready")

	if _, err := f.service.Confirm(ctx, req.ID); !errors.Is(err, ErrRecordCreation) {
		t.Fatalf("expected ErrRecordCreation, got %v", err)
	}
	if balance, _ := f.ledger.Balance(ctx, "steve"); balance != 1000 {
		t.Fatalf("debit was not compensated, balance %d", balance)
	}
}

func TestSaveDesignAndReconfirm(t *testing.T) {
	f := newFixture(t, nil, testBlueprint())
	ctx := context.Background()
	f.ledger.Deposit("steve", 1000)

	req, err := f.service.BeginGeneration(ctx, "steve", "uid", command.Point3{X: 5, Y: 70, Z: 5}, "overworld", 8, "a hut")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	wait(t, f.notifier.planReady, "plan ready")

	saved, err := f.service.SaveDesign(ctx, req.ID)
	if err != nil {
		t.Fatalf("save design: %v", err)
	}
	if saved.Status != plan.StatusPending {
		t.Fatalf("saved record status: %s", saved.Status)
	}
	if balance, _ := f.ledger.Balance(ctx, "steve"); balance != 1000 {
		t.Fatalf("saving a design must not charge, balance %d", balance)
	}

	pending := f.service.PendingRecords("steve")
	if len(pending) != 1 || pending[0].ID != saved.ID {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	record, err := f.service.ConfirmRecord(ctx, saved.ID)
	if err != nil {
		t.Fatalf("reconfirm: %v", err)
	}
	if record.ID == saved.ID {
		t.Fatalf("reconfirm must allocate a fresh record")
	}
	if balance, _ := f.ledger.Balance(ctx, "steve"); balance != 500 {
		t.Fatalf("reconfirm should debit, balance %d", balance)
	}
	if _, err := f.store.Get(saved.ID); !errors.Is(err, plan.ErrRecordNotFound) {
		t.Fatalf("pending record should be deleted after reconfirm, got %v", err)
	}

	wait(t, f.notifier.completed, "completion")
}

func TestConfirmRecordRejectsNonPending(t *testing.T) {
	f := newFixture(t, nil, testBlueprint())
	record, err := f.store.Create(plan.BuildRecord{Requester: "steve", Extent: 8}, plan.StatusCompleted)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.service.ConfirmRecord(context.Background(), record.ID); !errors.Is(err, ErrRecordNotPending) {
		t.Fatalf("expected ErrRecordNotPending, got %v", err)
	}
}

func TestPlanFailureIsReportedVerbatim(t *testing.T) {
	store := plan.NewMemStore()
	led := ledger.NewMemLedger()
	notifier := newChanNotifier()
	svc := New(Config{}, store, led,
		&fakePlanner{err: errors.New("model is overloaded")}, sink.LogSink{}, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = svc.Run(ctx) }()

	req, err := svc.BeginGeneration(ctx, "steve", "uid", command.Point3{}, "overworld", 8, "a hut")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	reason := wait(t, notifier.planFailed, "plan failure")
	if reason != "model is overloaded" {
		t.Fatalf("failure reason not surfaced verbatim: %q", reason)
	}

	// Confirming before any plan exists reports the plan as missing.
	if _, err := svc.Confirm(ctx, req.ID); !errors.Is(err, ErrPlanNotReady) {
		t.Fatalf("expected ErrPlanNotReady, got %v", err)
	}
}

func TestConfirmWhileBusyKeepsRequest(t *testing.T) {
	snk := newBlockingSink()
	store := plan.NewMemStore()
	led := ledger.NewMemLedger()
	notifier := newChanNotifier()
	svc := New(Config{MinExtent: 1, MaxExtent: 64, CommandDelay: time.Millisecond},
		store, led, &fakePlanner{blueprint: testBlueprint()}, snk, notifier)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = svc.Run(ctx) }()

	bg := context.Background()
	led.Deposit("steve", 2000)
	led.Deposit("alex", 2000)

	first, err := svc.BeginGeneration(bg, "steve", "uid-steve", command.Point3{}, "overworld", 8, "a hut")
	if err != nil {
		t.Fatalf("begin first: %v", err)
	}
	second, err := svc.BeginGeneration(bg, "alex", "uid-alex", command.Point3{}, "overworld", 8, "a barn")
	if err != nil {
		t.Fatalf("begin second: %v", err)
	}
	wait(t, notifier.planReady, "first plan")
	wait(t, notifier.planReady, "second plan")

	if _, err := svc.Confirm(bg, first.ID); err != nil {
		t.Fatalf("confirm first: %v", err)
	}
	wait(t, snk.started, "first dispatch")

	if _, err := svc.Confirm(bg, second.ID); !errors.Is(err, engine.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if balance, _ := led.Balance(bg, "alex"); balance != 2000 {
		t.Fatalf("busy rejection must not charge, balance %d", balance)
	}

	// The busy rejection must not consume the request or its plan.
	if _, err := svc.Confirm(bg, second.ID); !errors.Is(err, engine.ErrBusy) {
		t.Fatalf("request was consumed by the busy rejection: %v", err)
	}

	close(snk.release)
	wait(t, notifier.completed, "first build completion")

	deadline := time.Now().Add(3 * time.Second)
	for {
		record, err := svc.Confirm(bg, second.ID)
		if err == nil {
			if record.Requester != "alex" {
				t.Fatalf("wrong requester on reconfirmed build: %s", record.Requester)
			}
			break
		}
		if !errors.Is(err, engine.ErrBusy) {
			t.Fatalf("confirm after engine freed: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("engine never freed after completion")
		}
		time.Sleep(time.Millisecond)
	}
	wait(t, notifier.completed, "second build completion")
}
