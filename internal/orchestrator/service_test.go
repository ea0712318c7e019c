package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Ensemble/internal/agents"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/mq"
)

type mapCatalog map[string]*domain.Ensemble

func (c mapCatalog) Get(_ context.Context, name string) (*domain.Ensemble, error) {
	if ens, ok := c[name]; ok {
		return ens, nil
	}
	return nil, domain.ErrNotFound
}

type memRunSource struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.Run
}

func (s *memRunSource) GetRun(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

func (s *memRunSource) ListPending(_ context.Context, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Run
	for _, run := range s.runs {
		if run.Status == domain.RunStatusPending && len(out) < limit {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *memRunSource) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != domain.RunStatusPending {
		return false, nil
	}
	run.Status = domain.RunStatusRunning
	s.runs[id] = run
	return true, nil
}

// lostClaims — хранилище, в котором каждый run уже забрал другой процесс.
type lostClaims struct {
	*memRunSource
}

func (lostClaims) Claim(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

type completions struct {
	mu       sync.Mutex
	payloads []mq.RunCompletedPayload
}

func (c *completions) PublishRunCompleted(_ context.Context, p mq.RunCompletedPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
	return nil
}

func echoEnsemble() *domain.Ensemble {
	return &domain.Ensemble{
		Name:   "echo",
		Flow:   []domain.FlowStep{echo("say", "{{ input.word }}")},
		Output: map[string]any{"word": "{{ say.output }}"},
	}
}

func TestService_Process(t *testing.T) {
	pub := &completions{}
	svc := NewService(ServiceConfig{
		Orchestrator: newTestOrchestrator(nil),
		Catalog:      mapCatalog{"echo": echoEnsemble()},
		Publisher:    pub,
		Logger:       discardLogger,
	})

	runID := uuid.New()
	res, err := svc.Process(context.Background(), mq.RunPendingPayload{
		RunID:    runID,
		Ensemble: "echo",
		Input:    map[string]any{"word": "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireStatus(t, res, domain.RunStatusSucceeded)
	if res.RunID != runID {
		t.Errorf("expected run id from request, got %s", res.RunID)
	}
	if out, _ := res.Output.(map[string]any); out["word"] != "hi" {
		t.Errorf("unexpected output: %v", res.Output)
	}

	if len(pub.payloads) != 1 || pub.payloads[0].RunID != runID || pub.payloads[0].Status != domain.RunStatusSucceeded {
		t.Errorf("expected one completion for %s, got %+v", runID, pub.payloads)
	}
}

func TestService_Process_UnknownEnsemble(t *testing.T) {
	pub := &completions{}
	svc := NewService(ServiceConfig{
		Orchestrator: newTestOrchestrator(nil),
		Catalog:      mapCatalog{},
		Publisher:    pub,
		Logger:       discardLogger,
	})

	res, err := svc.Process(context.Background(), mq.RunPendingPayload{Ensemble: "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requireStatus(t, res, domain.RunStatusFailed)
	if res.Error.Kind != domain.KindValidation {
		t.Errorf("expected ValidationError, got %s", res.Error.Kind)
	}
	if len(pub.payloads) != 1 || pub.payloads[0].Error == nil {
		t.Errorf("failure should be published, got %+v", pub.payloads)
	}
}

func TestService_StoredRuns(t *testing.T) {
	pending := domain.NewRun("echo", 1, map[string]any{"word": "queued"})
	done := domain.NewRun("echo", 1, nil)
	done.MarkRunning()
	done.MarkSucceeded("old")

	source := &memRunSource{runs: map[uuid.UUID]domain.Run{
		pending.ID: *pending,
		done.ID:    *done,
	}}
	pub := &completions{}
	svc := NewService(ServiceConfig{
		Orchestrator: newTestOrchestrator(nil),
		Catalog:      mapCatalog{"echo": echoEnsemble()},
		Runs:         source,
		Publisher:    pub,
		Logger:       discardLogger,
	})

	// Завершённый run повторно не выполняется
	res, err := svc.Process(context.Background(), mq.RunPendingPayload{RunID: done.ID, Ensemble: "echo"})
	if err != nil || res != nil {
		t.Fatalf("expected finished run to be skipped, got %+v, %v", res, err)
	}

	// Polling подхватывает pending run из хранилища
	svc.poll(context.Background())

	if len(pub.payloads) != 1 {
		t.Fatalf("expected one completion from poll, got %+v", pub.payloads)
	}
	got := pub.payloads[0]
	if got.RunID != pending.ID || got.Status != domain.RunStatusSucceeded {
		t.Errorf("unexpected completion: %+v", got)
	}
	if out, _ := got.Output.(map[string]any); out["word"] != "queued" {
		t.Errorf("stored input should be used, got %v", got.Output)
	}
}

func TestService_Process_DuplicateDelivery(t *testing.T) {
	g := newGate()
	store := &memoryStore{}
	orch := newTestOrchestrator(func(r *agents.Registry) { r.Register("gate", g) })
	orch.runs = store

	pub := &completions{}
	svc := NewService(ServiceConfig{
		Orchestrator: orch,
		Catalog: mapCatalog{"gated": {
			Name: "gated",
			Flow: []domain.FlowStep{{ID: "wait", Agent: "gate"}},
		}},
		Publisher: pub,
		Logger:    discardLogger,
	})

	req := mq.RunPendingPayload{RunID: uuid.New(), Ensemble: "gated"}
	type outcome struct {
		res *Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := svc.Process(context.Background(), req)
		first <- outcome{res, err}
	}()

	select {
	case <-g.started:
	case <-time.After(time.Second):
		t.Fatal("run did not start")
	}

	// Повторная доставка того же сообщения, пока run выполняется
	res, err := svc.Process(context.Background(), req)
	if err != nil || res != nil {
		t.Fatalf("expected redelivery to be skipped, got %+v, %v", res, err)
	}

	close(g.release)
	got := <-first
	if got.err != nil {
		t.Fatalf("unexpected error: %v", got.err)
	}
	requireStatus(t, got.res, domain.RunStatusSucceeded)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.payloads) != 1 || pub.payloads[0].Status != domain.RunStatusSucceeded {
		t.Errorf("expected exactly one SUCCEEDED completion, got %+v", pub.payloads)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, status := range store.statuses {
		if status == domain.RunStatusFailed {
			t.Errorf("run must not be stored as FAILED, got %v", store.statuses)
		}
	}
}

func TestService_Process_ClaimedElsewhere(t *testing.T) {
	pending := domain.NewRun("echo", 1, map[string]any{"word": "taken"})
	log := &callLog{}
	orch := newTestOrchestrator(func(r *agents.Registry) { r.Register("log", log) })

	pub := &completions{}
	svc := NewService(ServiceConfig{
		Orchestrator: orch,
		Catalog: mapCatalog{"echo": {
			Name: "echo",
			Flow: []domain.FlowStep{{ID: "say", Agent: "log"}},
		}},
		Runs:      lostClaims{&memRunSource{runs: map[uuid.UUID]domain.Run{pending.ID: *pending}}},
		Publisher: pub,
		Logger:    discardLogger,
	})

	res, err := svc.Process(context.Background(), mq.RunPendingPayload{RunID: pending.ID, Ensemble: "echo"})
	if err != nil || res != nil {
		t.Fatalf("expected claimed run to be skipped, got %+v, %v", res, err)
	}

	svc.poll(context.Background())

	if len(log.steps) != 0 {
		t.Errorf("run claimed by another worker must not execute, got calls %v", log.steps)
	}
	if len(pub.payloads) != 0 {
		t.Errorf("unexpected completions: %+v", pub.payloads)
	}
}

func TestService_StoredRuns_ClaimOnce(t *testing.T) {
	pending := domain.NewRun("echo", 1, map[string]any{"word": "once"})
	source := &memRunSource{runs: map[uuid.UUID]domain.Run{pending.ID: *pending}}
	pub := &completions{}
	svc := NewService(ServiceConfig{
		Orchestrator: newTestOrchestrator(nil),
		Catalog:      mapCatalog{"echo": echoEnsemble()},
		Runs:         source,
		Publisher:    pub,
		Logger:       discardLogger,
	})

	req := mq.RunPendingPayload{RunID: pending.ID, Ensemble: "echo"}
	if _, err := svc.Process(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Сообщение пришло второй раз, а polling снова видит тот же run
	if res, err := svc.Process(context.Background(), req); err != nil || res != nil {
		t.Fatalf("expected second delivery to be skipped, got %+v, %v", res, err)
	}
	svc.poll(context.Background())

	if len(pub.payloads) != 1 {
		t.Errorf("expected one completion, got %+v", pub.payloads)
	}
	if stored := source.runs[pending.ID]; stored.Status != domain.RunStatusRunning {
		t.Errorf("expected run claimed in the store, got %s", stored.Status)
	}
}
