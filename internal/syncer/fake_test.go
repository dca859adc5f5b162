package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/tasksync/internal/model"
	"github.com/hitoshi/tasksync/internal/remote"
	"github.com/hitoshi/tasksync/internal/repository"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// --- 永続化層のインメモリ実装 ---

type memStore struct {
	mu       sync.Mutex
	now      time.Time
	users    map[string]*model.User
	projects map[string]*model.Project
	tasks    map[string]*model.Task
	logs     []*model.SyncLog

	logCreateErr   error
	listPushErr    error
	findExternalFn func(externalID string) error
}

func newMemStore() *memStore {
	return &memStore{
		now:      baseTime,
		users:    make(map[string]*model.User),
		projects: make(map[string]*model.Project),
		tasks:    make(map[string]*model.Task),
	}
}

func (s *memStore) repositories() Repositories {
	return Repositories{
		Users:    memUsers{s},
		Projects: memProjects{s},
		Tasks:    memTasks{s},
		Logs:     memLogs{s},
	}
}

func (s *memStore) addUser(id string, token *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &model.User{
		ID:          id,
		Email:       id + "@example.com",
		Name:        id,
		RemoteToken: token,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
}

func (s *memStore) addProject(p *model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
}

func (s *memStore) addTask(t *model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
}

func (s *memStore) project(id string) *model.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (s *memStore) task(id string) *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (s *memStore) allProjects(userID string) []*model.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Project
	for _, p := range s.projects {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) allTasks(userID string) []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) syncLogs() []*model.SyncLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.SyncLog, len(s.logs))
	copy(out, s.logs)
	return out
}

type memUsers struct{ s *memStore }

var _ repository.UserRepository = memUsers{}

func (r memUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r memUsers) ListConnected(_ context.Context) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.User
	for _, u := range r.s.users {
		if u.IsConnected() {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memUsers) UpdateRemoteToken(_ context.Context, id string, token *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return fmt.Errorf("user %s not found", id)
	}
	u.RemoteToken = token
	return nil
}

type memProjects struct{ s *memStore }

var _ repository.ProjectRepository = memProjects{}

func (r memProjects) Create(_ context.Context, p *model.Project) error {
	r.s.addProject(p)
	return nil
}

func (r memProjects) CreatePulled(_ context.Context, p *model.Project) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.projects {
		if existing.UserID == p.UserID && existing.ExternalID != nil && p.ExternalID != nil && *existing.ExternalID == *p.ExternalID {
			return false, nil
		}
	}
	cp := *p
	r.s.projects[p.ID] = &cp
	return true, nil
}

func (r memProjects) FindByID(_ context.Context, userID, id string) (*model.Project, error) {
	p := r.s.project(id)
	if p == nil || p.UserID != userID {
		return nil, nil
	}
	return p, nil
}

func (r memProjects) FindByExternalID(_ context.Context, userID, externalID string) (*model.Project, error) {
	if r.s.findExternalFn != nil {
		if err := r.s.findExternalFn(externalID); err != nil {
			return nil, err
		}
	}
	for _, p := range r.s.allProjects(userID) {
		if p.ExternalID != nil && *p.ExternalID == externalID {
			return p, nil
		}
	}
	return nil, nil
}

func (r memProjects) ListByUser(_ context.Context, userID string) ([]*model.Project, error) {
	out := r.s.allProjects(userID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memProjects) ListNeedingPush(ctx context.Context, userID string) ([]*model.Project, error) {
	if r.s.listPushErr != nil {
		return nil, r.s.listPushErr
	}
	all, _ := r.ListByUser(ctx, userID)
	var out []*model.Project
	for _, p := range all {
		if p.SyncStatus == model.SyncStatusPending || p.ExternalID == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r memProjects) Update(_ context.Context, p *model.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.projects[p.ID]
	if !ok {
		return fmt.Errorf("project %s not found", p.ID)
	}
	existing.Name = p.Name
	existing.Description = p.Description
	existing.SyncStatus = model.SyncStatusPending
	existing.UpdatedAt = r.s.now
	p.SyncStatus = existing.SyncStatus
	p.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r memProjects) MarkSynced(_ context.Context, id, externalID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id]
	if !ok {
		return fmt.Errorf("project %s not found", id)
	}
	for _, other := range r.s.projects {
		if other.ID != id && other.UserID == p.UserID && other.ExternalID != nil && *other.ExternalID == externalID {
			return repository.ErrDuplicateExternalID
		}
	}
	p.ExternalID = &externalID
	p.SyncStatus = model.SyncStatusSynced
	p.LastSyncedAt = &at
	return nil
}

func (r memProjects) MarkFailed(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.projects[id]; ok {
		p.SyncStatus = model.SyncStatusFailed
	}
	return nil
}

func (r memProjects) ResetFailed(_ context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, p := range r.s.projects {
		if p.UserID == userID && p.SyncStatus == model.SyncStatusFailed {
			p.SyncStatus = model.SyncStatusPending
			n++
		}
	}
	return n, nil
}

func (r memProjects) Delete(_ context.Context, userID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.projects[id]; ok && p.UserID == userID {
		delete(r.s.projects, id)
		for _, t := range r.s.tasks {
			if t.ProjectID != nil && *t.ProjectID == id {
				t.ProjectID = nil
			}
		}
	}
	return nil
}

func (r memProjects) CountByStatus(_ context.Context, userID string) (model.StatusCounts, error) {
	var c model.StatusCounts
	for _, p := range r.s.allProjects(userID) {
		c.Add(p.SyncStatus, 1)
	}
	return c, nil
}

type memTasks struct{ s *memStore }

var _ repository.TaskRepository = memTasks{}

func (r memTasks) Create(_ context.Context, t *model.Task) error {
	r.s.addTask(t)
	return nil
}

func (r memTasks) CreatePulled(_ context.Context, t *model.Task) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.tasks {
		if existing.UserID == t.UserID && existing.ExternalID != nil && t.ExternalID != nil && *existing.ExternalID == *t.ExternalID {
			return false, nil
		}
	}
	cp := *t
	r.s.tasks[t.ID] = &cp
	return true, nil
}

func (r memTasks) FindByID(_ context.Context, userID, id string) (*model.Task, error) {
	t := r.s.task(id)
	if t == nil || t.UserID != userID {
		return nil, nil
	}
	return t, nil
}

func (r memTasks) FindByExternalID(_ context.Context, userID, externalID string) (*model.Task, error) {
	for _, t := range r.s.allTasks(userID) {
		if t.ExternalID != nil && *t.ExternalID == externalID {
			return t, nil
		}
	}
	return nil, nil
}

func (r memTasks) List(_ context.Context, userID string, filter model.TaskFilter) ([]*model.Task, error) {
	var out []*model.Task
	for _, t := range r.s.allTasks(userID) {
		if filter.ProjectID != nil && (t.ProjectID == nil || *t.ProjectID != *filter.ProjectID) {
			continue
		}
		if filter.Completed != nil && t.Completed != *filter.Completed {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memTasks) ListNeedingPush(ctx context.Context, userID string) ([]*model.PushTask, error) {
	all, _ := r.List(ctx, userID, model.TaskFilter{})
	var out []*model.PushTask
	for _, t := range all {
		if t.SyncStatus != model.SyncStatusPending && t.ExternalID != nil {
			continue
		}
		pt := &model.PushTask{Task: *t}
		if t.ProjectID != nil {
			if p := r.s.project(*t.ProjectID); p != nil {
				pt.ProjectExternalID = p.ExternalID
			}
		}
		out = append(out, pt)
	}
	return out, nil
}

func (r memTasks) Update(_ context.Context, t *model.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.tasks[t.ID]
	if !ok {
		return fmt.Errorf("task %s not found", t.ID)
	}
	existing.Title = t.Title
	existing.Description = t.Description
	existing.Completed = t.Completed
	existing.ProjectID = t.ProjectID
	existing.SyncStatus = model.SyncStatusPending
	existing.UpdatedAt = r.s.now
	return nil
}

func (r memTasks) ApplyRemote(_ context.Context, id string, f model.RemoteTaskFields, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	t.Title = f.Title
	t.Description = f.Description
	t.Completed = f.Completed
	t.ProjectID = f.ProjectID
	t.SyncStatus = model.SyncStatusSynced
	t.LastSyncedAt = &at
	t.UpdatedAt = at
	return nil
}

func (r memTasks) MarkSynced(_ context.Context, id, externalID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	for _, other := range r.s.tasks {
		if other.ID != id && other.UserID == t.UserID && other.ExternalID != nil && *other.ExternalID == externalID {
			return repository.ErrDuplicateExternalID
		}
	}
	t.ExternalID = &externalID
	t.SyncStatus = model.SyncStatusSynced
	t.LastSyncedAt = &at
	return nil
}

func (r memTasks) MarkFailed(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tasks[id]; ok {
		t.SyncStatus = model.SyncStatusFailed
	}
	return nil
}

func (r memTasks) ResetFailed(_ context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, t := range r.s.tasks {
		if t.UserID == userID && t.SyncStatus == model.SyncStatusFailed {
			t.SyncStatus = model.SyncStatusPending
			n++
		}
	}
	return n, nil
}

func (r memTasks) Delete(_ context.Context, userID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tasks[id]; ok && t.UserID == userID {
		delete(r.s.tasks, id)
	}
	return nil
}

func (r memTasks) CountByStatus(_ context.Context, userID string) (model.StatusCounts, error) {
	var c model.StatusCounts
	for _, t := range r.s.allTasks(userID) {
		c.Add(t.SyncStatus, 1)
	}
	return c, nil
}

type memLogs struct{ s *memStore }

var _ repository.SyncLogRepository = memLogs{}

func (r memLogs) Create(_ context.Context, l *model.SyncLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.logCreateErr != nil {
		return r.s.logCreateErr
	}
	cp := *l
	r.s.logs = append(r.s.logs, &cp)
	return nil
}

func (r memLogs) ListRecent(_ context.Context, userID string, limit int) ([]*model.SyncLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.SyncLog
	for i := len(r.s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.logs[i].UserID == userID {
			out = append(out, r.s.logs[i])
		}
	}
	return out, nil
}

func (r memLogs) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var kept []*model.SyncLog
	var n int64
	for _, l := range r.s.logs {
		if l.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	r.s.logs = kept
	return n, nil
}

// --- 外部サービスのインメモリ実装 ---

type remoteCall struct {
	Op   string
	ID   string
	Args []string
}

type fakeRemote struct {
	mu       sync.Mutex
	nextID   int
	projects []remote.Project
	tasks    []remote.Task
	calls    []remoteCall

	listProjectsErr error
	listTasksErr    error
	deleteErr       error
	// createTaskErr はタイトルごとに作成失敗を注入する。
	createTaskErr map[string]error
	// createProjectFn が設定されている場合はCreateProjectの処理を置き換える。
	createProjectFn func(ctx context.Context, name string) (*remote.Project, error)
	updateTaskErr   error
}

var _ RemoteClient = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote {
	return &fakeRemote{createTaskErr: make(map[string]error)}
}

func (f *fakeRemote) record(op, id string, args ...string) {
	f.calls = append(f.calls, remoteCall{Op: op, ID: id, Args: args})
}

func (f *fakeRemote) callsFor(op string) []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remoteCall
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRemote) ListProjects(_ context.Context) ([]remote.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListProjects", "")
	if f.listProjectsErr != nil {
		return nil, f.listProjectsErr
	}
	return append([]remote.Project(nil), f.projects...), nil
}

func (f *fakeRemote) CreateProject(ctx context.Context, name string) (*remote.Project, error) {
	if f.createProjectFn != nil {
		f.mu.Lock()
		f.record("CreateProject", "", name)
		f.mu.Unlock()
		return f.createProjectFn(ctx, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p := remote.Project{ID: fmt.Sprintf("rp-%d", f.nextID), Name: name}
	f.record("CreateProject", p.ID, name)
	f.projects = append(f.projects, p)
	return &p, nil
}

func (f *fakeRemote) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteProject", id)
	return f.deleteErr
}

func (f *fakeRemote) ListTasks(_ context.Context, projectID string) ([]remote.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListTasks", "", projectID)
	if f.listTasksErr != nil {
		return nil, f.listTasksErr
	}
	return append([]remote.Task(nil), f.tasks...), nil
}

func (f *fakeRemote) CreateTask(_ context.Context, title, description, projectID string) (*remote.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createTaskErr[title]; err != nil {
		f.record("CreateTask", "", title, description, projectID)
		return nil, err
	}
	f.nextID++
	t := remote.Task{
		ID:          fmt.Sprintf("rt-%d", f.nextID),
		Content:     title,
		Description: description,
		ProjectID:   projectID,
		CreatedAt:   baseTime,
	}
	f.record("CreateTask", t.ID, title, description, projectID)
	f.tasks = append(f.tasks, t)
	return &t, nil
}

func (f *fakeRemote) UpdateTask(_ context.Context, id, title, description string) (*remote.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateTask", id, title, description)
	if f.updateTaskErr != nil {
		return nil, f.updateTaskErr
	}
	return &remote.Task{ID: id, Content: title, Description: description}, nil
}

func (f *fakeRemote) CloseTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CloseTask", id)
	return nil
}

func (f *fakeRemote) DeleteTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteTask", id)
	return f.deleteErr
}

// --- メトリクス ---

type fakeMetrics struct {
	mu               sync.Mutex
	runs             map[string]int
	pushes           map[string]int
	pulls            map[string]int
	pullFailures     map[string]int
	logWriteFailures int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		runs:         make(map[string]int),
		pushes:       make(map[string]int),
		pulls:        make(map[string]int),
		pullFailures: make(map[string]int),
	}
}

func (m *fakeMetrics) RecordSyncRun(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[result]++
}

func (m *fakeMetrics) RecordPush(entityType string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes[fmt.Sprintf("%s/%t", entityType, success)]++
}

func (m *fakeMetrics) RecordPull(entityType string, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulls[fmt.Sprintf("%s/%t", entityType, created)]++
}

func (m *fakeMetrics) RecordPullFailure(entityType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pullFailures[entityType]++
}

func (m *fakeMetrics) RecordSyncLogWriteFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logWriteFailures++
}

// --- テスト用Engine ---

type testEnv struct {
	store   *memStore
	remote  *fakeRemote
	metrics *fakeMetrics
	engine  *Engine
	logs    *bytes.Buffer
	tokens  []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   newMemStore(),
		remote:  newFakeRemote(),
		metrics: newFakeMetrics(),
		logs:    &bytes.Buffer{},
	}
	var mu sync.Mutex
	factory := ClientFactoryFunc(func(token string) RemoteClient {
		mu.Lock()
		env.tokens = append(env.tokens, token)
		mu.Unlock()
		return env.remote
	})
	env.engine = NewEngine(env.store.repositories(), factory, nil, env.metrics, newTestLogger(env.logs), DefaultConfig())

	// 同期時刻はローカルの変更より後に固定する
	env.engine.now = func() time.Time { return baseTime.Add(time.Hour) }
	var idMu sync.Mutex
	seq := 0
	env.engine.newID = func() string {
		idMu.Lock()
		defer idMu.Unlock()
		seq++
		return fmt.Sprintf("gen-%03d", seq)
	}
	return env
}

func (env *testEnv) syncTime() time.Time {
	return baseTime.Add(time.Hour)
}

func localProject(id, userID string) *model.Project {
	return &model.Project{
		ID:         id,
		UserID:     userID,
		Name:       "project " + id,
		SyncStatus: model.SyncStatusPending,
		CreatedAt:  baseTime,
		UpdatedAt:  baseTime,
	}
}

func localTask(id, userID string) *model.Task {
	return &model.Task{
		ID:         id,
		UserID:     userID,
		Title:      "task " + id,
		SyncStatus: model.SyncStatusPending,
		CreatedAt:  baseTime,
		UpdatedAt:  baseTime,
	}
}

var errRemote = errors.New("remote unavailable")
