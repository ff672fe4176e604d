package worker_test

import (
	"context"
	"encoding/json"
	"sync"

	"dialectic.app/engine/internal/executor"
	"dialectic.app/engine/internal/model"
	"dialectic.app/engine/internal/queue"
	"dialectic.app/engine/internal/store"
	"dialectic.app/engine/internal/worker"
)

type mockConsumer struct {
	ReadFunc    func(ctx context.Context) ([]queue.Message, error)
	AckFunc     func(ctx context.Context, msg queue.Message) error
	RequeueFunc func(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQFunc func(ctx context.Context, msg queue.Message, errMsg string) error

	mu       sync.Mutex
	acked    []string
	requeued []string
	dlqd     []string
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	return m.ReadFunc(ctx)
}

func (m *mockConsumer) Ack(ctx context.Context, msg queue.Message) error {
	m.mu.Lock()
	m.acked = append(m.acked, msg.ID)
	m.mu.Unlock()
	if m.AckFunc != nil {
		return m.AckFunc(ctx, msg)
	}
	return nil
}

func (m *mockConsumer) Requeue(ctx context.Context, msg queue.Message, errMsg string) error {
	m.mu.Lock()
	m.requeued = append(m.requeued, msg.ID)
	m.mu.Unlock()
	if m.RequeueFunc != nil {
		return m.RequeueFunc(ctx, msg, errMsg)
	}
	return nil
}

func (m *mockConsumer) SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error {
	m.mu.Lock()
	m.dlqd = append(m.dlqd, msg.ID)
	m.mu.Unlock()
	if m.SendDLQFunc != nil {
		return m.SendDLQFunc(ctx, msg, errMsg)
	}
	return nil
}

func (m *mockConsumer) ackedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

func (m *mockConsumer) requeuedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requeued...)
}

func (m *mockConsumer) dlqdIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dlqd...)
}

type mockProducer struct {
	EnqueueFunc func(ctx context.Context, task queue.Task) error

	enqueued []queue.Task
}

func (m *mockProducer) Enqueue(ctx context.Context, task queue.Task) error {
	m.enqueued = append(m.enqueued, task)
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, task)
	}
	return nil
}

func (m *mockProducer) Close() error { return nil }

type mockJobProcessor struct {
	ProcessFunc func(ctx context.Context, job *model.Job) error

	processed []int64
}

func (m *mockJobProcessor) Process(ctx context.Context, job *model.Job) error {
	m.processed = append(m.processed, job.ID)
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, job)
	}
	return nil
}

type mockGenerator struct {
	GenerateFunc func(ctx context.Context, req executor.Request) (*executor.Result, error)
}

func (m *mockGenerator) Generate(ctx context.Context, req executor.Request) (*executor.Result, error) {
	return m.GenerateFunc(ctx, req)
}

type mockJobStore struct {
	GetByIDFunc                   func(ctx context.Context, id int64) (*model.Job, error)
	CreateFunc                    func(ctx context.Context, job *model.Job) error
	CreateBatchFunc               func(ctx context.Context, jobs []*model.Job) error
	ListInProgressFunc            func(ctx context.Context, sessionID int64, stageSlug string, iteration int, jobType model.JobType) ([]model.Job, error)
	ListByParentFunc              func(ctx context.Context, parentJobID int64) ([]model.Job, error)
	ListWaitingOnPrerequisiteFunc func(ctx context.Context, prerequisiteJobID int64) ([]model.Job, error)
	CountActiveChildrenFunc       func(ctx context.Context, parentJobID int64) (int, error)
	ClaimPendingFunc              func(ctx context.Context, id int64) (*model.Job, error)
	UpdateStatusFunc              func(ctx context.Context, id int64, from, to model.JobStatus) error
	SetPrerequisiteFunc           func(ctx context.Context, id, prerequisiteJobID int64) error
	MarkCompletedFunc             func(ctx context.Context, id int64, results json.RawMessage) error
	MarkFailedFunc                func(ctx context.Context, id int64, errorDetails string) error
	ScheduleRetryFunc             func(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error)
}

func (m *mockJobStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	return m.GetByIDFunc(ctx, id)
}

func (m *mockJobStore) Create(ctx context.Context, job *model.Job) error {
	return m.CreateFunc(ctx, job)
}

func (m *mockJobStore) CreateBatch(ctx context.Context, jobs []*model.Job) error {
	return m.CreateBatchFunc(ctx, jobs)
}

func (m *mockJobStore) ListInProgress(ctx context.Context, sessionID int64, stageSlug string, iteration int, jobType model.JobType) ([]model.Job, error) {
	return m.ListInProgressFunc(ctx, sessionID, stageSlug, iteration, jobType)
}

func (m *mockJobStore) ListByParent(ctx context.Context, parentJobID int64) ([]model.Job, error) {
	return m.ListByParentFunc(ctx, parentJobID)
}

func (m *mockJobStore) ListWaitingOnPrerequisite(ctx context.Context, prerequisiteJobID int64) ([]model.Job, error) {
	return m.ListWaitingOnPrerequisiteFunc(ctx, prerequisiteJobID)
}

func (m *mockJobStore) CountActiveChildren(ctx context.Context, parentJobID int64) (int, error) {
	return m.CountActiveChildrenFunc(ctx, parentJobID)
}

func (m *mockJobStore) ClaimPending(ctx context.Context, id int64) (*model.Job, error) {
	return m.ClaimPendingFunc(ctx, id)
}

func (m *mockJobStore) UpdateStatus(ctx context.Context, id int64, from, to model.JobStatus) error {
	return m.UpdateStatusFunc(ctx, id, from, to)
}

func (m *mockJobStore) SetPrerequisite(ctx context.Context, id, prerequisiteJobID int64) error {
	return m.SetPrerequisiteFunc(ctx, id, prerequisiteJobID)
}

func (m *mockJobStore) MarkCompleted(ctx context.Context, id int64, results json.RawMessage) error {
	return m.MarkCompletedFunc(ctx, id, results)
}

func (m *mockJobStore) MarkFailed(ctx context.Context, id int64, errorDetails string) error {
	return m.MarkFailedFunc(ctx, id, errorDetails)
}

func (m *mockJobStore) ScheduleRetry(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error) {
	return m.ScheduleRetryFunc(ctx, id, errorDetails)
}

type mockContributionStore struct {
	GetByIDFunc          func(ctx context.Context, id int64) (*model.Contribution, error)
	CreateFunc           func(ctx context.Context, c *model.Contribution) error
	ListByIDsFunc        func(ctx context.Context, ids []int64) ([]model.Contribution, error)
	ListForPlanningFunc  func(ctx context.Context, sessionID int64, stageSlug string, documentKeys []string) ([]model.Contribution, error)
	GetHeaderContextFunc func(ctx context.Context, sessionID int64, stageSlug string, iteration int) (*model.Contribution, error)
}

func (m *mockContributionStore) GetByID(ctx context.Context, id int64) (*model.Contribution, error) {
	return m.GetByIDFunc(ctx, id)
}

func (m *mockContributionStore) Create(ctx context.Context, c *model.Contribution) error {
	return m.CreateFunc(ctx, c)
}

func (m *mockContributionStore) ListByIDs(ctx context.Context, ids []int64) ([]model.Contribution, error) {
	return m.ListByIDsFunc(ctx, ids)
}

func (m *mockContributionStore) ListForPlanning(ctx context.Context, sessionID int64, stageSlug string, documentKeys []string) ([]model.Contribution, error) {
	return m.ListForPlanningFunc(ctx, sessionID, stageSlug, documentKeys)
}

func (m *mockContributionStore) GetHeaderContext(ctx context.Context, sessionID int64, stageSlug string, iteration int) (*model.Contribution, error) {
	return m.GetHeaderContextFunc(ctx, sessionID, stageSlug, iteration)
}

type mockRecipeStore struct {
	GetStepFunc           func(ctx context.Context, id int64) (*model.RecipeStep, error)
	GetStepByKeyFunc      func(ctx context.Context, recipeInstanceID int64, stepKey string) (*model.RecipeStep, error)
	ListStepsForStageFunc func(ctx context.Context, stageSlug string) ([]model.RecipeStep, error)
	GetStageFunc          func(ctx context.Context, slug string) (*model.Stage, error)
}

func (m *mockRecipeStore) GetStep(ctx context.Context, id int64) (*model.RecipeStep, error) {
	return m.GetStepFunc(ctx, id)
}

func (m *mockRecipeStore) GetStepByKey(ctx context.Context, recipeInstanceID int64, stepKey string) (*model.RecipeStep, error) {
	return m.GetStepByKeyFunc(ctx, recipeInstanceID, stepKey)
}

func (m *mockRecipeStore) ListStepsForStage(ctx context.Context, stageSlug string) ([]model.RecipeStep, error) {
	return m.ListStepsForStageFunc(ctx, stageSlug)
}

func (m *mockRecipeStore) GetStage(ctx context.Context, slug string) (*model.Stage, error) {
	return m.GetStageFunc(ctx, slug)
}

type mockSessionStore struct {
	GetByIDFunc      func(ctx context.Context, id int64) (*model.Session, error)
	CreateFunc       func(ctx context.Context, session *model.Session) error
	AdvanceStageFunc func(ctx context.Context, id int64, stageSlug string, iteration int) error
}

func (m *mockSessionStore) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	return m.GetByIDFunc(ctx, id)
}

func (m *mockSessionStore) Create(ctx context.Context, session *model.Session) error {
	return m.CreateFunc(ctx, session)
}

func (m *mockSessionStore) AdvanceStage(ctx context.Context, id int64, stageSlug string, iteration int) error {
	return m.AdvanceStageFunc(ctx, id, stageSlug, iteration)
}

type mockModelStore struct {
	GetByIDFunc func(ctx context.Context, id int64) (*model.AIModel, error)
}

func (m *mockModelStore) GetByID(ctx context.Context, id int64) (*model.AIModel, error) {
	return m.GetByIDFunc(ctx, id)
}

// mockStores bundles the per-entity mocks behind the StoreProvider contract.
type mockStores struct {
	jobs          *mockJobStore
	contributions *mockContributionStore
	recipes       *mockRecipeStore
	sessions      *mockSessionStore
	models        *mockModelStore
}

func newMockStores() *mockStores {
	return &mockStores{
		jobs:          &mockJobStore{},
		contributions: &mockContributionStore{},
		recipes:       &mockRecipeStore{},
		sessions:      &mockSessionStore{},
		models:        &mockModelStore{},
	}
}

func (m *mockStores) Jobs() store.JobStore                   { return m.jobs }
func (m *mockStores) Contributions() store.ContributionStore { return m.contributions }
func (m *mockStores) Recipes() store.RecipeStore             { return m.recipes }
func (m *mockStores) Sessions() store.SessionStore           { return m.sessions }
func (m *mockStores) Models() store.ModelStore               { return m.models }

// mockTxRunner hands the same mock stores to the transactional path.
type mockTxRunner struct {
	stores *mockStores
}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(stores worker.StoreProvider) error) error {
	return fn(m.stores)
}

type mockSourceResolver struct {
	ForStepFunc func(ctx context.Context, sessionID int64, iteration int, step *model.RecipeStep) ([]model.SourceDocument, error)
}

func (m *mockSourceResolver) ForStep(ctx context.Context, sessionID int64, iteration int, step *model.RecipeStep) ([]model.SourceDocument, error) {
	return m.ForStepFunc(ctx, sessionID, iteration, step)
}
