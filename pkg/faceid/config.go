package faceid

import "time"

// MinSamples is the fewest accepted captures FinishEarly will finalize
// with. Below this floor a template is too noisy to be useful.
const MinSamples = 3

// Config controls both enrollment admission and match classification.
// The zero value is usable; setDefaults fills in tuned defaults for
// 128-dimensional face descriptors.
type Config struct {
	// MaxCaptures is the number of accepted samples that completes an
	// enrollment. Default: 5.
	MaxCaptures int `json:"maxCaptures" yaml:"max_captures"`

	// CaptureInterval is the minimum time between accepted captures.
	// Frames arriving faster are rejected too_fast. Default: 1s.
	CaptureInterval time.Duration `json:"captureInterval" yaml:"capture_interval"`

	// MinConfidence is the minimum detector score for a frame to count.
	// Default: 0.6.
	MinConfidence float64 `json:"minConfidence" yaml:"min_confidence"`

	// SimilarityThreshold rejects near-duplicate samples: a candidate
	// closer than this to any accepted embedding is too_similar.
	// Default: 0.1.
	SimilarityThreshold float64 `json:"similarityThreshold" yaml:"similarity_threshold"`

	// ConsistencyThreshold rejects off-identity samples: a candidate
	// farther than this from any accepted embedding is inconsistent.
	// Default: 0.7.
	ConsistencyThreshold float64 `json:"consistencyThreshold" yaml:"consistency_threshold"`

	// MatchThreshold is the strict upper bound for a query to count as
	// a match. Lower = stricter. Default: 0.6.
	MatchThreshold float64 `json:"matchThreshold" yaml:"match_threshold"`

	// HighConfidenceThreshold marks matches well inside the decision
	// boundary. Default: 0.4.
	HighConfidenceThreshold float64 `json:"highConfidenceThreshold" yaml:"high_confidence_threshold"`

	// UseMeanEmbedding indexes one mean vector per identity instead of
	// every captured sample. Cheaper queries, smoother matching; raw
	// samples give higher fidelity. Default: false (index all samples).
	UseMeanEmbedding bool `json:"useMeanEmbedding" yaml:"use_mean_embedding"`
}

// WithDefaults returns a copy of c with zero fields replaced by the
// library defaults. Session and Matcher apply the same defaulting
// internally; this is for callers that need the effective values (for
// progress display, say) without re-stating them.
func (c Config) WithDefaults() Config {
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.MaxCaptures == 0 {
		c.MaxCaptures = 5
	}
	if c.CaptureInterval == 0 {
		c.CaptureInterval = time.Second
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.6
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.1
	}
	if c.ConsistencyThreshold == 0 {
		c.ConsistencyThreshold = 0.7
	}
	if c.MatchThreshold == 0 {
		c.MatchThreshold = 0.6
	}
	if c.HighConfidenceThreshold == 0 {
		c.HighConfidenceThreshold = 0.4
	}
}
