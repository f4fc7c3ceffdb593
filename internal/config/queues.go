// internal/config/queues.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/unclebandit/voicereach-engine/internal/queue"
)

// Named queues.
const (
	QueueCampaign           = "campaign-execution"
	QueueContactCalls       = "contact-calls"
	QueueAudio              = "audio-processing"
	QueueAnalytics          = "analytics-calculation"
	QueueRecurringAnalytics = "recurring-analytics"
)

// QueueNames lists every queue in startup order.
var QueueNames = []string{QueueCampaign, QueueContactCalls, QueueAudio, QueueAnalytics, QueueRecurringAnalytics}

// DefaultQueues returns the built-in tuning per queue.
func DefaultQueues() map[string]queue.Config {
	return map[string]queue.Config{
		QueueCampaign: {
			Concurrency: 2, RateLimit: queue.RateLimit{Max: 5, Window: time.Second},
			Attempts: 3, Backoff: 5 * time.Second, NormalDelay: 500 * time.Millisecond,
		},
		QueueContactCalls: {
			Concurrency: 5, RateLimit: queue.RateLimit{Max: 10, Window: time.Second},
			Attempts: 2, Backoff: 30 * time.Second, NormalDelay: 5 * time.Second,
		},
		QueueAudio: {
			Concurrency: 2, RateLimit: queue.RateLimit{Max: 5, Window: time.Second},
			Attempts: 3, Backoff: 2 * time.Second, NormalDelay: 500 * time.Millisecond,
		},
		QueueAnalytics: {
			Concurrency: 3, RateLimit: queue.RateLimit{Max: 5, Window: time.Second},
			Attempts: 3, Backoff: 10 * time.Second, NormalDelay: 500 * time.Millisecond,
		},
		QueueRecurringAnalytics: {
			Concurrency: 1, RateLimit: queue.RateLimit{Max: 2, Window: time.Second},
			Attempts: 2, Backoff: 30 * time.Second, NormalDelay: 500 * time.Millisecond,
		},
	}
}

type queuesFile struct {
	Queues map[string]queueEntry `yaml:"queues"`
}

type queueEntry struct {
	Concurrency int    `yaml:"concurrency"`
	Attempts    int    `yaml:"attempts"`
	Backoff     string `yaml:"backoff"`
	MaxBackoff  string `yaml:"max_backoff"`
	NormalDelay string `yaml:"normal_delay"`
	Visibility  string `yaml:"visibility"`
	RateLimit   *struct {
		Max    int    `yaml:"max"`
		Window string `yaml:"window"`
	} `yaml:"rate_limit"`
}

// LoadQueues reads per-queue overrides from path on top of DefaultQueues.
// A missing file yields the defaults.
func LoadQueues(path string) (map[string]queue.Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultQueues(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseQueues(data)
}

// ParseQueues decodes a queues document. Unknown fields and unknown queue names are errors.
func ParseQueues(data []byte) (map[string]queue.Config, error) {
	out := DefaultQueues()

	var f queuesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}

	for name, e := range f.Queues {
		cfg, ok := out[name]
		if !ok {
			return nil, fmt.Errorf("queues.%s: unknown queue", name)
		}
		path := "queues." + name
		if e.Concurrency < 0 || e.Attempts < 0 {
			return nil, fmt.Errorf("%s: concurrency and attempts must be >= 0", path)
		}
		if e.Concurrency > 0 {
			cfg.Concurrency = e.Concurrency
		}
		if e.Attempts > 0 {
			cfg.Attempts = e.Attempts
		}
		var err error
		if cfg.Backoff, err = ParseDurationOrDefault(path+".backoff", e.Backoff, cfg.Backoff); err != nil {
			return nil, err
		}
		if cfg.MaxBackoff, err = ParseDurationOrDefault(path+".max_backoff", e.MaxBackoff, cfg.MaxBackoff); err != nil {
			return nil, err
		}
		if cfg.NormalDelay, err = ParseDurationOrDefault(path+".normal_delay", e.NormalDelay, cfg.NormalDelay); err != nil {
			return nil, err
		}
		if cfg.Visibility, err = ParseDurationOrDefault(path+".visibility", e.Visibility, cfg.Visibility); err != nil {
			return nil, err
		}
		if e.RateLimit != nil {
			cfg.RateLimit.Max = e.RateLimit.Max
			if cfg.RateLimit.Window, err = ParseDurationOrDefault(path+".rate_limit.window", e.RateLimit.Window, cfg.RateLimit.Window); err != nil {
				return nil, err
			}
		}
		out[name] = cfg
	}
	return out, nil
}
