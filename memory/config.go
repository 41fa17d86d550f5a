package memory

const defaultRecallLimit = 2000

// Config holds memory store initialization parameters.
type Config struct {
	Path        string `json:"path,omitempty"`         // FileStore root directory; empty disables user notes.
	RecallLimit int    `json:"recall_limit,omitempty"` // Trailing characters returned by Notes.Recall.
}

// DefaultConfig returns the default memory configuration (disabled).
func DefaultConfig() Config {
	return Config{RecallLimit: defaultRecallLimit}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Path != "" {
		c.Path = source.Path
	}
	if source.RecallLimit > 0 {
		c.RecallLimit = source.RecallLimit
	}
}

// NewStore creates a Store from configuration. Returns nil Store when Path
// is empty, indicating memory is disabled.
func NewStore(cfg *Config) (Store, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	return NewFileStore(cfg.Path), nil
}
