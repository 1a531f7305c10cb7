package llm

import "strings"

// Deployment environments recognised by SamplingFor.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// SamplingFor returns the sampling preset of a deployment environment with the
// given temperature and token limit applied.
func SamplingFor(environment string, temperature float64, maxTokens int) Sampling {
	s := Sampling{Temperature: temperature, MaxTokens: maxTokens}

	switch strings.ToLower(environment) {
	case EnvProduction:
		s.TopP = 0.95
		s.PresencePenalty = 0.1
		s.FrequencyPenalty = 0.1
	case EnvStaging:
		s.TopP = 0.9
	default:
		s.TopP = 0.8
	}

	return s
}
