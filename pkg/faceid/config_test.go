package faceid

import (
	"testing"
	"time"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.MaxCaptures != 5 {
		t.Errorf("MaxCaptures = %d, want 5", cfg.MaxCaptures)
	}
	if cfg.CaptureInterval != time.Second {
		t.Errorf("CaptureInterval = %v, want 1s", cfg.CaptureInterval)
	}
	if cfg.MatchThreshold != 0.6 {
		t.Errorf("MatchThreshold = %v, want 0.6", cfg.MatchThreshold)
	}
	if cfg.UseMeanEmbedding {
		t.Error("UseMeanEmbedding should default to false")
	}
}

func TestConfigWithDefaultsKeepsSetFields(t *testing.T) {
	cfg := Config{MaxCaptures: 8, MatchThreshold: 0.5}.WithDefaults()
	if cfg.MaxCaptures != 8 {
		t.Errorf("MaxCaptures = %d, want 8", cfg.MaxCaptures)
	}
	if cfg.MatchThreshold != 0.5 {
		t.Errorf("MatchThreshold = %v, want 0.5", cfg.MatchThreshold)
	}
	if cfg.MinConfidence != 0.6 {
		t.Errorf("MinConfidence = %v, want default 0.6", cfg.MinConfidence)
	}
}
