package refine

import "github.com/rotisserie/eris"

// Config bounds one refinement loop.
type Config struct {
	// MaxIterations is the number of revisions allowed after the initial
	// draft. Zero means the initial draft is final.
	MaxIterations int `mapstructure:"max_iterations"`
	// QualityThreshold is the overall score at which the loop stops.
	QualityThreshold int `mapstructure:"quality_threshold"`
	// Epsilon: a revision whose delta is at or below it ends the loop.
	Epsilon int `mapstructure:"epsilon"`
	// TopK is the number of retrieval passages requested per document.
	TopK int `mapstructure:"top_k"`
}

// DefaultConfig returns the standard loop bounds.
func DefaultConfig() Config {
	return Config{MaxIterations: 3, QualityThreshold: 85, Epsilon: 1, TopK: 5}
}

// Validate rejects bounds the loop cannot honour.
func (c Config) Validate() error {
	if c.MaxIterations < 0 {
		return eris.Errorf("refine: max_iterations must be >= 0, got %d", c.MaxIterations)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 100 {
		return eris.Errorf("refine: quality_threshold must be within 0-100, got %d", c.QualityThreshold)
	}
	if c.Epsilon < 0 {
		return eris.Errorf("refine: epsilon must be >= 0, got %d", c.Epsilon)
	}
	if c.TopK < 0 {
		return eris.Errorf("refine: top_k must be >= 0, got %d", c.TopK)
	}
	return nil
}
