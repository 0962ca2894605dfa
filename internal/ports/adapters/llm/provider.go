package llm

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const modelPlaceholder = "{model}"

// Provider maps model names to an OpenAI-compatible endpoint. BaseURL may
// contain {model}, substituted with the escaped model name.
type Provider struct {
	Name      string   `yaml:"name"`
	Match     []string `yaml:"match"`
	BaseURL   string   `yaml:"base_url"`
	APIKeyEnv string   `yaml:"api_key_env"`
}

func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:      "perplexity",
			Match:     []string{"sonar", "r1"},
			BaseURL:   "https://api.perplexity.ai",
			APIKeyEnv: "PERPLEXITY_API_KEY",
		},
		{
			Name:    "kie",
			BaseURL: "https://api.kie.ai/{model}/v1",
		},
	}
}

// ResolveProvider returns the first provider whose Match list contains a
// case-insensitive substring of model. Without a hit the first provider
// with an empty Match list is used.
func ResolveProvider(providers []Provider, model string) (Provider, error) {
	if len(providers) == 0 {
		providers = DefaultProviders()
	}
	m := strings.ToLower(model)
	for _, p := range providers {
		for _, pat := range p.Match {
			pat = strings.ToLower(strings.TrimSpace(pat))
			if pat != "" && strings.Contains(m, pat) {
				return p, nil
			}
		}
	}
	for _, p := range providers {
		if len(p.Match) == 0 {
			return p, nil
		}
	}
	return Provider{}, fmt.Errorf("no provider configured for model %q", model)
}

// Endpoint returns the base URL for model with a trailing slash.
func (p Provider) Endpoint(model string) string {
	u := strings.ReplaceAll(strings.TrimSpace(p.BaseURL), modelPlaceholder, url.PathEscape(model))
	return strings.TrimRight(u, "/") + "/"
}

// APIKey prefers the provider's own env key over the caller's key.
func (p Provider) APIKey(key string, getenv func(string) string) string {
	if p.APIKeyEnv != "" && getenv != nil {
		if v := strings.TrimSpace(getenv(p.APIKeyEnv)); v != "" {
			return v
		}
	}
	return key
}

func ValidateBaseURL(baseURL string) error {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return errors.New("invalid provider base_url: empty")
	}
	probe := strings.ReplaceAll(baseURL, modelPlaceholder, "model")
	u, err := url.Parse(probe)
	if err != nil {
		return fmt.Errorf("invalid provider base_url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("invalid provider base_url %q: absolute URL with host is required", baseURL)
	}
	if u.User != nil {
		return fmt.Errorf("invalid provider base_url %q: userinfo is not allowed", baseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid provider base_url %q: query and fragment are not allowed", baseURL)
	}
	if strings.ToLower(u.Scheme) != "https" {
		return fmt.Errorf("invalid provider base_url %q: https is required", baseURL)
	}
	rest, _ := strings.CutPrefix(strings.ToLower(baseURL), "https://")
	if host, _, _ := strings.Cut(rest, "/"); strings.Contains(host, modelPlaceholder) {
		return fmt.Errorf("invalid provider base_url %q: {model} is only allowed in the path", baseURL)
	}
	return nil
}

func ValidateProviders(providers []Provider) error {
	hasDefault := len(providers) == 0
	for i, p := range providers {
		if err := ValidateBaseURL(p.BaseURL); err != nil {
			return fmt.Errorf("provider %d (%s): %w", i, p.Name, err)
		}
		if len(p.Match) == 0 {
			hasDefault = true
		}
	}
	if !hasDefault {
		return errors.New("provider table needs one entry without match as the default")
	}
	return nil
}
