package remote

import "time"

// Project は外部サービスのプロジェクト表現。
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task は外部サービスのタスク表現。
type Task struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Description string     `json:"description"`
	ProjectID   string     `json:"project_id"`
	IsCompleted bool       `json:"is_completed"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// LastModified はタスクの最終更新日時を返す。一度も更新されていない場合は作成日時を返す。
func (t Task) LastModified() time.Time {
	if t.UpdatedAt != nil && !t.UpdatedAt.IsZero() {
		return *t.UpdatedAt
	}
	return t.CreatedAt
}

type createProjectRequest struct {
	Name string `json:"name"`
}

type updateProjectRequest struct {
	Name string `json:"name"`
}

type createTaskRequest struct {
	Content     string `json:"content"`
	Description string `json:"description"`
	ProjectID   string `json:"project_id,omitempty"`
}

type updateTaskRequest struct {
	Content     string `json:"content"`
	Description string `json:"description"`
}
