package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/tasksync/internal/model"
	"github.com/hitoshi/tasksync/internal/syncer"
)

// SyncServiceInterface は同期ハンドラーが必要とする同期エンジンのインターフェース。
type SyncServiceInterface interface {
	SyncUserData(ctx context.Context, userID string) (*syncer.Result, error)
	RetryFailedSyncs(ctx context.Context, userID string) (*syncer.Result, error)
	Status(ctx context.Context, userID string, recentLogs int) (*syncer.StatusReport, error)
}

// SyncHandler は同期操作と同期状態のHTTPハンドラー。
type SyncHandler struct {
	service    SyncServiceInterface
	recentLogs int
	runTimeout time.Duration
	logger     *slog.Logger
}

// NewSyncHandler はSyncHandlerを生成する。recentLogsはステータスに含める同期ログの件数。
// runTimeoutは即時同期の時間の上限で、0なら無制限。
func NewSyncHandler(service SyncServiceInterface, recentLogs int, runTimeout time.Duration, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		service:    service,
		recentLogs: recentLogs,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// runContext は即時同期用のctxを返す。
// クライアントが切断しても同期を途中で止めず、runTimeoutまで実行する。
func (h *SyncHandler) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(r.Context())
	if h.runTimeout > 0 {
		return context.WithTimeout(ctx, h.runTimeout)
	}
	return context.WithCancel(ctx)
}

type entityResultResponse struct {
	Pushed      int  `json:"pushed"`
	Failed      int  `json:"failed"`
	Pulled      int  `json:"pulled"`
	Overwritten int  `json:"overwritten"`
	PullFailed  bool `json:"pullFailed"`
}

type syncResultResponse struct {
	Projects   entityResultResponse `json:"projects"`
	Tasks      entityResultResponse `json:"tasks"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
}

type syncRunResponse struct {
	Message string             `json:"message"`
	Result  syncResultResponse `json:"result"`
}

type statusCountsResponse struct {
	Total   int `json:"total"`
	Synced  int `json:"synced"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

type statusSummaryResponse struct {
	Projects statusCountsResponse `json:"projects"`
	Tasks    statusCountsResponse `json:"tasks"`
}

type projectStatusResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	SyncStatus   string     `json:"syncStatus"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
}

type taskStatusResponse struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	SyncStatus   string     `json:"syncStatus"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
}

type syncLogResponse struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	Error      *string   `json:"error"`
	CreatedAt  time.Time `json:"createdAt"`
}

type syncStatusResponse struct {
	Summary    statusSummaryResponse   `json:"summary"`
	Projects   []projectStatusResponse `json:"projects"`
	Tasks      []taskStatusResponse    `json:"tasks"`
	RecentLogs []syncLogResponse       `json:"recentLogs"`
	Syncing    bool                    `json:"syncing"`
}

// Trigger はユーザーの同期を即時実行し、完了まで待って結果を返す。
// POST /api/sync/trigger
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.runContext(r)
	defer cancel()

	res, err := h.service.SyncUserData(ctx, userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, syncRunResponse{
		Message: "Sync completed successfully",
		Result:  toSyncResultResponse(res),
	})
}

// Retry はFAILEDなエンティティをPENDINGに戻して同期を実行する。
// POST /api/sync/retry
func (h *SyncHandler) Retry(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.runContext(r)
	defer cancel()

	res, err := h.service.RetryFailedSyncs(ctx, userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, syncRunResponse{
		Message: "Retry completed successfully",
		Result:  toSyncResultResponse(res),
	})
}

// Status は同期状態の集計と直近の同期ログを返す。
// GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	report, err := h.service.Status(r.Context(), userID, h.recentLogs)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toSyncStatusResponse(report))
}

func toEntityResultResponse(r syncer.EntityResult) entityResultResponse {
	return entityResultResponse{
		Pushed:      r.Pushed,
		Failed:      r.Failed,
		Pulled:      r.Pulled,
		Overwritten: r.Overwritten,
		PullFailed:  r.PullFailed,
	}
}

func toSyncResultResponse(res *syncer.Result) syncResultResponse {
	return syncResultResponse{
		Projects:   toEntityResultResponse(res.Projects),
		Tasks:      toEntityResultResponse(res.Tasks),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
}

func toStatusCountsResponse(c model.StatusCounts) statusCountsResponse {
	return statusCountsResponse{
		Total:   c.Total,
		Synced:  c.Synced,
		Pending: c.Pending,
		Failed:  c.Failed,
	}
}

func toSyncStatusResponse(report *syncer.StatusReport) syncStatusResponse {
	resp := syncStatusResponse{
		Summary: statusSummaryResponse{
			Projects: toStatusCountsResponse(report.Summary.Projects),
			Tasks:    toStatusCountsResponse(report.Summary.Tasks),
		},
		Projects:   make([]projectStatusResponse, len(report.Projects)),
		Tasks:      make([]taskStatusResponse, len(report.Tasks)),
		RecentLogs: make([]syncLogResponse, len(report.RecentLogs)),
		Syncing:    report.Syncing,
	}
	for i, p := range report.Projects {
		resp.Projects[i] = projectStatusResponse{
			ID:           p.ID,
			Name:         p.Name,
			SyncStatus:   string(p.SyncStatus),
			LastSyncedAt: p.LastSyncedAt,
		}
	}
	for i, t := range report.Tasks {
		resp.Tasks[i] = taskStatusResponse{
			ID:           t.ID,
			Title:        t.Title,
			SyncStatus:   string(t.SyncStatus),
			LastSyncedAt: t.LastSyncedAt,
		}
	}
	for i, l := range report.RecentLogs {
		entry := syncLogResponse{
			ID:         l.ID,
			EntityType: string(l.EntityType),
			EntityID:   l.EntityID,
			Action:     string(l.Action),
			Status:     string(l.Status),
			CreatedAt:  l.CreatedAt,
		}
		if l.Error != "" {
			msg := l.Error
			entry.Error = &msg
		}
		resp.RecentLogs[i] = entry
	}
	return resp
}
