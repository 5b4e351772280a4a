package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/rcliao/donelist/internal/analysis"
	"github.com/rcliao/donelist/internal/config"
	"github.com/rcliao/donelist/internal/proxy"
	"github.com/rcliao/donelist/internal/service"
	"github.com/rcliao/donelist/internal/storage"
)

const sqliteFile = "donelist.db"

func (a *app) openStorage() (service.TaskStorage, error) {
	sc := a.cfg.Storage
	switch sc.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "sqlite":
		path := filepath.Join(sc.DataDir, ".donelist", sqliteFile)
		store, err := storage.NewSQLStorage(path, sc.Owner)
		if err != nil {
			return nil, err
		}
		a.onClose(store.Close)
		a.logger.Debug("using sqlite storage", zap.String("path", store.Path()), zap.String("owner", sc.Owner))
		return store, nil
	default:
		return storage.NewFileStorage(sc.DataDir)
	}
}

func (a *app) taskService() (*service.TaskService, error) {
	store, err := a.openStorage()
	if err != nil {
		return nil, err
	}
	return service.NewTaskService(store, a.logger), nil
}

// orchestrator builds the client-side analysis pipeline against the configured
// proxy, persisting into tasks.
func (a *app) orchestrator(tasks *service.TaskService, observer analysis.Observer, view analysis.Expander) *analysis.Orchestrator {
	cc := a.cfg.Client

	mode := analysis.ModeStreaming
	if cc.Transport == "atomic" {
		mode = analysis.ModeAtomic
	}

	client := analysis.NewClient(cc.ProxyURL, &http.Client{}, a.logger.Named("client"))
	orch := analysis.NewOrchestrator(client, tasks, analysis.Options{
		Mode: mode,
		Retry: analysis.RetryPolicy{
			MaxRetries:   cc.MaxRetries,
			DefaultDelay: cc.RetryDelay(),
		},
		StatusClearDelay: cc.StatusClearDelay(),
		Observer:         observer,
		View:             view,
		Logger:           a.logger.Named("analysis"),
	})
	a.onClose(func() error {
		orch.Close()
		return nil
	})
	return orch
}

// completer returns nil when no key is configured so the proxy can answer
// with its missing-key error instead of refusing to start.
func (a *app) completer(ctx context.Context) (proxy.Completer, error) {
	ac := a.cfg.AI
	if ac.Key() == "" {
		a.logger.Warn("no API key configured, analysis requests will fail", zap.String("provider", ac.Provider))
		return nil, nil
	}

	switch ac.Provider {
	case config.ProviderGemini:
		client, err := proxy.NewGeminiClient(ctx, ac.Key(), ac.Model, a.logger.Named("gemini"))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return client, nil
	default:
		return proxy.NewOpenAIClient(proxy.OpenAIConfig{
			APIKey:  ac.Key(),
			BaseURL: ac.BaseURL,
			Model:   ac.Model,
		}, nil, a.logger.Named("openai")), nil
	}
}
