// Package llm adapts hosted and local language models to core.LLM.
package llm

import (
	"context"
	"fmt"
	"strings"

	"bloodtest/analyser-app/core"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderDummy     = "dummy"
)

type Settings struct {
	Provider string
	Model    string
	APIKey   string
	// Host is the base URL for ollama and OpenAI/Anthropic-compatible gateways.
	Host        string
	Temperature *float64
}

// New selects a provider by name.
func New(ctx context.Context, s Settings) (core.LLM, error) {
	switch strings.ToLower(s.Provider) {
	case "", ProviderGemini, "google":
		g, err := NewGemini(ctx, s.APIKey, s.Model, s.Host)
		if err != nil {
			return nil, err
		}
		if s.Temperature != nil {
			t := float32(*s.Temperature)
			g.Temperature = &t
		}
		return g, nil
	case ProviderOpenAI:
		o, err := NewOpenAI(s.APIKey, s.Model, s.Host)
		if err != nil {
			return nil, err
		}
		if s.Temperature != nil {
			o.Temperature = float32(*s.Temperature)
		}
		return o, nil
	case ProviderAnthropic, "claude":
		a, err := NewAnthropic(s.APIKey, s.Model, s.Host)
		if err != nil {
			return nil, err
		}
		a.Temperature = s.Temperature
		return a, nil
	case ProviderOllama:
		o, err := NewOllama(s.Host, s.Model)
		if err != nil {
			return nil, err
		}
		if s.Temperature != nil {
			o.Options = map[string]any{"temperature": *s.Temperature}
		}
		return o, nil
	case ProviderDummy:
		return NewDummy(""), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", s.Provider)
	}
}

// ProviderDefaults are the credentials an agent gets when its catalog entry
// switches to a provider other than the base one.
type ProviderDefaults struct {
	APIKey string
	Host   string
}

// Cache hands out one client per provider and model so agents that share a
// model share its connection pool. It is filled while a crew is built and is
// not safe for concurrent use.
type Cache struct {
	ctx       context.Context
	base      Settings
	providers map[string]ProviderDefaults
	clients   map[string]core.LLM
}

// NewCache returns a cache whose clients default to base. providers is keyed
// by lower-case provider name.
func NewCache(ctx context.Context, base Settings, providers map[string]ProviderDefaults) *Cache {
	return &Cache{ctx: ctx, base: base, providers: providers, clients: make(map[string]core.LLM)}
}

// Settings resolves provider/model against base. A provider switch drops the
// base model, key and host so none of them leak to another service.
func (c *Cache) Settings(provider, model string) Settings {
	s := c.base
	if provider != "" && !strings.EqualFold(provider, s.Provider) {
		defaults := c.providers[strings.ToLower(provider)]
		s.Provider = provider
		s.Model = ""
		s.APIKey = defaults.APIKey
		s.Host = defaults.Host
	}
	if model != "" {
		s.Model = model
	}
	return s
}

// Get returns the client for provider/model; empty values fall back to base.
func (c *Cache) Get(provider, model string) (core.LLM, error) {
	s := c.Settings(provider, model)
	key := strings.ToLower(s.Provider) + "/" + s.Model
	if client, ok := c.clients[key]; ok {
		return client, nil
	}
	client, err := New(c.ctx, s)
	if err != nil {
		return nil, err
	}
	c.clients[key] = client
	return client, nil
}
