package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/tasksync/internal/model"
)

// PostgresTaskRepoはTaskRepositoryインターフェースを満たすことを検証
func TestPostgresTaskRepo_ImplementsInterface(t *testing.T) {
	var _ TaskRepository = (*PostgresTaskRepo)(nil)
}

func newLocalTask(userID, title string, projectID *string) *model.Task {
	now := time.Now().UTC()
	return &model.Task{
		ID:         uuid.New().String(),
		UserID:     userID,
		ProjectID:  projectID,
		Title:      title,
		SyncStatus: model.SyncStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPostgresTaskRepo_ListNeedingPush_JoinsProjectExternalID(t *testing.T) {
	db := setupRepoDB(t)
	projects := NewPostgresProjectRepo(db)
	tasks := NewPostgresTaskRepo(db)
	ctx := context.Background()
	userID := insertTestUser(t, db, nil)

	p := newLocalProject(userID, "仕事")
	if err := projects.Create(ctx, p); err != nil {
		t.Fatalf("Create project: %v", err)
	}
	if err := projects.MarkSynced(ctx, p.ID, "ext-p", time.Now()); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	linked := newLocalTask(userID, "紐付きタスク", &p.ID)
	loose := newLocalTask(userID, "単独タスク", nil)
	loose.CreatedAt = loose.CreatedAt.Add(time.Second)
	for _, task := range []*model.Task{linked, loose} {
		if err := tasks.Create(ctx, task); err != nil {
			t.Fatalf("Create task: %v", err)
		}
	}

	got, err := tasks.ListNeedingPush(ctx, userID)
	if err != nil {
		t.Fatalf("ListNeedingPush: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != linked.ID || got[0].ProjectExternalID == nil || *got[0].ProjectExternalID != "ext-p" {
		t.Errorf("1件目はプロジェクト外部ID付きであるべき: %+v", got[0])
	}
	if got[1].ID != loose.ID || got[1].ProjectExternalID != nil {
		t.Errorf("2件目はプロジェクト外部IDなしであるべき: %+v", got[1])
	}
}

func TestPostgresTaskRepo_ApplyRemoteAndFilter(t *testing.T) {
	db := setupRepoDB(t)
	tasks := NewPostgresTaskRepo(db)
	ctx := context.Background()
	userID := insertTestUser(t, db, nil)

	ext := "ext-t"
	task := newLocalTask(userID, "旧タイトル", nil)
	task.ExternalID = &ext
	task.SyncStatus = model.SyncStatusSynced
	created, err := tasks.CreatePulled(ctx, task)
	if err != nil || !created {
		t.Fatalf("CreatePulled: created=%v err=%v", created, err)
	}

	desc := "説明"
	at := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	if err := tasks.ApplyRemote(ctx, task.ID, model.RemoteTaskFields{
		Title:       "新タイトル",
		Description: &desc,
		Completed:   true,
	}, at); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}

	got, err := tasks.FindByExternalID(ctx, userID, ext)
	if err != nil || got == nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if got.Title != "新タイトル" || !got.Completed || got.Description == nil || *got.Description != desc {
		t.Errorf("外部サービスの値が反映されていない: %+v", got)
	}
	if !got.UpdatedAt.Equal(at) || got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(at) {
		t.Errorf("updated_at/last_synced_atは共にatであるべき: %v %v", got.UpdatedAt, got.LastSyncedAt)
	}

	completed := true
	list, err := tasks.List(ctx, userID, model.TaskFilter{Completed: &completed})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("完了済みフィルタ: got %d, want 1", len(list))
	}
	notCompleted := false
	list, _ = tasks.List(ctx, userID, model.TaskFilter{Completed: &notCompleted})
	if len(list) != 0 {
		t.Errorf("未完了フィルタ: got %d, want 0", len(list))
	}
}

func TestPostgresTaskRepo_ProjectDeleteSetsNull(t *testing.T) {
	db := setupRepoDB(t)
	projects := NewPostgresProjectRepo(db)
	tasks := NewPostgresTaskRepo(db)
	ctx := context.Background()
	userID := insertTestUser(t, db, nil)

	p := newLocalProject(userID, "消える")
	if err := projects.Create(ctx, p); err != nil {
		t.Fatalf("Create project: %v", err)
	}
	task := newLocalTask(userID, "残る", &p.ID)
	if err := tasks.Create(ctx, task); err != nil {
		t.Fatalf("Create task: %v", err)
	}
	if err := projects.Delete(ctx, userID, p.ID); err != nil {
		t.Fatalf("Delete project: %v", err)
	}

	got, err := tasks.FindByID(ctx, userID, task.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.ProjectID != nil {
		t.Errorf("プロジェクト削除後のproject_idはNULLであるべき: %v", *got.ProjectID)
	}
}

func TestPostgresTaskRepo_UpdateUsesGivenTime(t *testing.T) {
	db := setupRepoDB(t)
	tasks := NewPostgresTaskRepo(db)
	ctx := context.Background()
	userID := insertTestUser(t, db, nil)

	task := newLocalTask(userID, "旧タイトル", nil)
	if err := tasks.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	synced := time.Now().UTC().Truncate(time.Microsecond)
	if err := tasks.MarkSynced(ctx, task.ID, "ext-upd", synced); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	edited := synced.Add(time.Second)
	task.Title = "新タイトル"
	task.Completed = true
	task.UpdatedAt = edited
	if err := tasks.Update(ctx, task); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if task.SyncStatus != model.SyncStatusPending {
		t.Errorf("SyncStatus = %q, want PENDING", task.SyncStatus)
	}

	got, err := tasks.FindByID(ctx, userID, task.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Title != "新タイトル" || !got.Completed || got.SyncStatus != model.SyncStatusPending {
		t.Errorf("更新が反映されていない: %+v", got)
	}
	if !got.UpdatedAt.Equal(edited) {
		t.Errorf("updated_atは呼び出し元の時刻であるべき: got %v, want %v", got.UpdatedAt, edited)
	}
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(synced) {
		t.Errorf("last_synced_atは変わらないべき: %v", got.LastSyncedAt)
	}
	if !got.UpdatedAt.After(*got.LastSyncedAt) {
		t.Error("同期後の編集はlast_synced_atより新しいべき")
	}

	other := insertTestUser(t, db, nil)
	task.UserID = other
	if err := tasks.Update(ctx, task); err == nil {
		t.Error("他ユーザーのタスク更新はエラーになるべき")
	}
}
