// Package remote は外部タスクサービス（Todoist REST v2互換）のクライアントを提供する。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL はTodoist REST APIのベースURL。
	DefaultBaseURL   = "https://api.todoist.com/rest/v2"
	defaultUserAgent = "tasksync/1.0"
)

// Config はクライアントの設定。
type Config struct {
	BaseURL string
	// MaxResponseSize はレスポンスボディの上限バイト数。
	MaxResponseSize int64
	// RequestsPerSecond と Burst はアカウントごとのリクエストペース。
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// DefaultConfig はデフォルトのクライアント設定を返す。
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		MaxResponseSize:   5 * 1024 * 1024,
		RequestsPerSecond: 4,
		Burst:             10,
		UserAgent:         defaultUserAgent,
	}
}

// RequestObserver は外部API呼び出しの結果を受け取る。
type RequestObserver interface {
	RecordRemoteRequest(op string, statusCode int, duration time.Duration)
}

// Client は1つの外部アカウントに対するAPIクライアント。
type Client struct {
	httpClient      *http.Client
	logger          *slog.Logger
	baseURL         string
	token           string
	userAgent       string
	maxResponseSize int64
	limiter         *rate.Limiter
	observer        RequestObserver
}

// NewClient はClientを生成する。ゼロ値の設定項目にはデフォルト値を使う。
func NewClient(httpClient *http.Client, token string, logger *slog.Logger, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return newClient(httpClient, token, logger, cfg, cfg.newLimiter())
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = def.MaxResponseSize
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	return cfg
}

func (cfg Config) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
}

func newClient(httpClient *http.Client, token string, logger *slog.Logger, cfg Config, limiter *rate.Limiter) *Client {
	return &Client{
		httpClient:      httpClient,
		logger:          logger,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		token:           token,
		userAgent:       cfg.UserAgent,
		maxResponseSize: cfg.MaxResponseSize,
		limiter:         limiter,
	}
}

// ListProjects は全プロジェクトを取得する。
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, "list_projects", http.MethodGet, "/projects", nil, nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject はプロジェクトを作成する。
func (c *Client) CreateProject(ctx context.Context, name string) (*Project, error) {
	var p Project
	if err := c.do(ctx, "create_project", http.MethodPost, "/projects", nil, createProjectRequest{Name: name}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProject はプロジェクト名を更新する。
func (c *Client) UpdateProject(ctx context.Context, id, name string) (*Project, error) {
	var p Project
	if err := c.do(ctx, "update_project", http.MethodPost, "/projects/"+url.PathEscape(id), nil, updateProjectRequest{Name: name}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProject はプロジェクトを削除する。
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, "delete_project", http.MethodDelete, "/projects/"+url.PathEscape(id), nil, nil, nil)
}

// ListTasks は未完了タスクを取得する。projectIDが空の場合は全プロジェクトが対象。
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var query url.Values
	if projectID != "" {
		query = url.Values{"project_id": []string{projectID}}
	}
	var tasks []Task
	if err := c.do(ctx, "list_tasks", http.MethodGet, "/tasks", query, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask はタスクを作成する。projectIDが空の場合は受信箱に作成される。
func (c *Client) CreateTask(ctx context.Context, title, description, projectID string) (*Task, error) {
	req := createTaskRequest{Content: title, Description: description, ProjectID: projectID}
	var t Task
	if err := c.do(ctx, "create_task", http.MethodPost, "/tasks", nil, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask はタスクのタイトルと説明を更新する。
func (c *Client) UpdateTask(ctx context.Context, id, title, description string) (*Task, error) {
	req := updateTaskRequest{Content: title, Description: description}
	var t Task
	if err := c.do(ctx, "update_task", http.MethodPost, "/tasks/"+url.PathEscape(id), nil, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CloseTask はタスクを完了にする。
func (c *Client) CloseTask(ctx context.Context, id string) error {
	return c.do(ctx, "close_task", http.MethodPost, "/tasks/"+url.PathEscape(id)+"/close", nil, nil, nil)
}

// ReopenTask は完了済みタスクを未完了に戻す。
func (c *Client) ReopenTask(ctx context.Context, id string) error {
	return c.do(ctx, "reopen_task", http.MethodPost, "/tasks/"+url.PathEscape(id)+"/reopen", nil, nil, nil)
}

// DeleteTask はタスクを削除する。
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, "delete_task", http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil, nil)
}

// do はリクエストを送信し、2xx応答のボディをoutにデコードする。
// 失敗は全て*Errorで返す。
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Err: err}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		c.logger.Warn("外部APIの呼び出しに失敗しました",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.observe(op, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)}
	}
	if int64(len(data)) > c.maxResponseSize {
		return &Error{Op: op, Err: fmt.Errorf("レスポンスが上限 %d バイトを超えています", c.maxResponseSize)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("外部APIがエラーステータスを返しました",
			slog.String("op", op),
			slog.Int("http_status", resp.StatusCode),
		)
		return &Error{Op: op, StatusCode: resp.StatusCode, Body: truncateBody(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)}
	}
	return nil
}

func (c *Client) observe(op string, statusCode int, d time.Duration) {
	if c.observer != nil {
		c.observer.RecordRemoteRequest(op, statusCode, d)
	}
}
