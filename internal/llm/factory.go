package llm

import "github.com/quietsignal/voxd/internal/router"

// Router dispatches completion calls to the configured backend by engine
// name, falling back to a default when the caller's requested engine is
// unavailable.
type Router struct {
	*router.Router[Provider]
}

// NewRouter creates a Router with registered backends and a fallback
// engine name.
func NewRouter(backends map[string]Provider, fallback string) *Router {
	return &Router{Router: router.New(backends, fallback)}
}

// BackendConfig names the provider implementation and credentials for one
// configured LLM engine.
type BackendConfig struct {
	Engine       string // "ollama", "openai", "anthropic"
	BaseURL      string
	APIKeyEnv    string
	Model        string
	SystemPrompt string
	MaxTokens    int
	PoolSize     int
}

// Build constructs a Provider for one backend config.
func Build(cfg BackendConfig) (Provider, error) {
	switch cfg.Engine {
	case "ollama":
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.SystemPrompt, cfg.MaxTokens, cfg.PoolSize), nil
	case "openai":
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKeyEnv, cfg.Model, cfg.SystemPrompt, cfg.MaxTokens), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKeyEnv, cfg.Model, cfg.SystemPrompt, cfg.MaxTokens, cfg.PoolSize), nil
	default:
		return nil, errUnknownEngine(cfg.Engine)
	}
}

type unknownEngineError string

func (e unknownEngineError) Error() string { return "llm: unknown engine " + string(e) }

func errUnknownEngine(engine string) error { return unknownEngineError(engine) }
