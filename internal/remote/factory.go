package remote

import (
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Factory は認証情報ごとにClientを生成する。
// HTTPクライアントと設定は全アカウントで共有する。
// レート制限は認証情報ごとに1つで、同じ認証情報から生成したClient同士で共有する。
type Factory struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
	observer   RequestObserver

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFactory はFactoryを生成する。observerはnilでもよい。
func NewFactory(httpClient *http.Client, logger *slog.Logger, cfg Config, observer RequestObserver) *Factory {
	return &Factory{
		httpClient: httpClient,
		logger:     logger,
		config:     cfg.withDefaults(),
		observer:   observer,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// New はtokenで認証するClientを返す。
func (f *Factory) New(token string) *Client {
	c := newClient(f.httpClient, token, f.logger, f.config, f.limiterFor(token))
	c.observer = f.observer
	return c
}

func (f *Factory) limiterFor(token string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[token]
	if !ok {
		l = f.config.newLimiter()
		f.limiters[token] = l
	}
	return l
}
