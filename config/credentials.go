package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ResearchLogin is the read-only login for the research warehouse.
type ResearchLogin struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Credentials holds the secrets kept out of the main configuration file:
// provider API keys and the research warehouse login.
type Credentials struct {
	ProviderKey        string        `yaml:"provider_api"`
	ProviderPremiumKey string        `yaml:"provider_api_premium"`
	Research           ResearchLogin `yaml:"research"`
}

// ProviderAPIKey selects between the premium and the free-tier key. Missing
// premium keys fall back to the free key rather than failing the run.
func (c *Credentials) ProviderAPIKey(premium bool) string {
	if premium && c.ProviderPremiumKey != "" {
		return c.ProviderPremiumKey
	}
	return c.ProviderKey
}

var credentialCandidates = []string{
	"credentials.yml",
	"config/credentials.yml",
}

// LoadCredentials reads the credentials file, trying the conventional
// locations when no explicit path is given, then applies environment
// variable overrides so secrets never need to live on disk.
func LoadCredentials(path string) (*Credentials, error) {
	paths := credentialCandidates
	if path != "" {
		paths = []string{path}
	}

	creds := &Credentials{}
	found := false
	for _, candidate := range paths {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		if err := yaml.Unmarshal(data, creds); err != nil {
			return nil, fmt.Errorf("failed to parse credentials file %s: %w", candidate, err)
		}
		found = true
		break
	}

	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		creds.ProviderKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("PROVIDER_API_KEY_PREMIUM"); v != "" {
		creds.ProviderPremiumKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("RESEARCH_DB_USER"); v != "" {
		creds.Research.Username = strings.TrimSpace(v)
	}
	if v := os.Getenv("RESEARCH_DB_PASSWORD"); v != "" {
		creds.Research.Password = strings.TrimSpace(v)
	}

	if !found && creds.ProviderKey == "" && creds.ProviderPremiumKey == "" {
		return nil, fmt.Errorf("no credentials file found in expected locations and no environment overrides set")
	}

	return creds, nil
}
