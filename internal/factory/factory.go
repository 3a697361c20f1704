package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"neuroface-id/internal/analysis"
	"neuroface-id/internal/config"
	"neuroface-id/internal/storage"
	"neuroface-id/internal/strategy"
)

// ClientType represents the analysis backends
type ClientType string

const (
	// LocalClient posts to a self-hosted /api/analyze service
	LocalClient ClientType = config.BackendLocal
	// GeminiClient asks a hosted multimodal model
	GeminiClient ClientType = config.BackendGemini
)

// StoreType represents different preview storage backends
type StoreType string

const (
	MemoryStore StoreType = config.PreviewStoreMemory
	AzureStore  StoreType = config.PreviewStoreAzure
	RedisStore  StoreType = config.PreviewStoreRedis
)

// AnalysisClientFactory creates analysis clients
type AnalysisClientFactory interface {
	CreateClient(ctx context.Context, clientType ClientType) (analysis.Client, error)
}

// PreviewStoreFactory creates preview stores
type PreviewStoreFactory interface {
	CreateStore(ctx context.Context, storeType StoreType) (storage.PreviewStore, error)
}

// analysisClientFactory implements AnalysisClientFactory
type analysisClientFactory struct {
	cfg *config.Config
}

func NewAnalysisClientFactory(cfg *config.Config) AnalysisClientFactory {
	return &analysisClientFactory{cfg: cfg}
}

func (f *analysisClientFactory) retryPolicy() analysis.RetryPolicy {
	policy := analysis.DefaultRetryPolicy()
	if f.cfg.AnalysisMaxAttempts > 0 {
		policy.MaxAttempts = f.cfg.AnalysisMaxAttempts
	}
	if f.cfg.AnalysisRetryBackoff > 0 {
		policy.Backoff = f.cfg.AnalysisRetryBackoff
	}
	return policy
}

// CreateClient creates a client for the requested backend
func (f *analysisClientFactory) CreateClient(ctx context.Context, clientType ClientType) (analysis.Client, error) {
	switch clientType {
	case LocalClient:
		return analysis.NewHTTPClient(analysis.HTTPClientOptions{
			Endpoint: f.cfg.AnalyzeEndpoint,
			Timeout:  f.cfg.AnalysisTimeout,
			Retry:    f.retryPolicy(),
		}), nil
	case GeminiClient:
		return analysis.NewGeminiClient(ctx, analysis.GeminiOptions{
			APIKey:  f.cfg.GeminiAPIKey,
			Model:   f.cfg.GeminiModel,
			Timeout: f.cfg.AnalysisTimeout,
			Retry:   f.retryPolicy(),
		})
	default:
		return nil, fmt.Errorf("unsupported analysis backend: %s", clientType)
	}
}

// previewStoreFactory implements PreviewStoreFactory
type previewStoreFactory struct {
	cfg *config.Config
}

func NewPreviewStoreFactory(cfg *config.Config) PreviewStoreFactory {
	return &previewStoreFactory{cfg: cfg}
}

// CreateStore creates a preview store. The redis backend is pinged so a bad
// address fails at startup rather than on the first upload.
func (f *previewStoreFactory) CreateStore(ctx context.Context, storeType StoreType) (storage.PreviewStore, error) {
	switch storeType {
	case MemoryStore:
		return storage.NewMemoryStore(f.cfg.PreviewTTL), nil
	case AzureStore:
		return storage.NewAzureStore(f.cfg.AzureStorageAccount, f.cfg.AzureStorageKey, f.cfg.AzurePreviewContainer)
	case RedisStore:
		client := redis.NewClient(&redis.Options{
			Addr:        f.cfg.RedisAddr,
			DialTimeout: 5 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", f.cfg.RedisAddr, err)
		}
		return storage.NewRedisStore(client, f.cfg.PreviewTTL), nil
	default:
		return nil, fmt.Errorf("unsupported preview store: %s", storeType)
	}
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	ClientFactory AnalysisClientFactory
	StoreFactory  PreviewStoreFactory
}

func NewComponentFactory(cfg *config.Config) *ComponentFactory {
	return &ComponentFactory{
		ClientFactory: NewAnalysisClientFactory(cfg),
		StoreFactory:  NewPreviewStoreFactory(cfg),
	}
}

// CreateTrigger resolves the configured trigger mode
func (f *ComponentFactory) CreateTrigger(mode string) (strategy.TriggerStrategy, error) {
	return strategy.NewTriggerStrategy(mode)
}
