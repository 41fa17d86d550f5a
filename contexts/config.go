package contexts

// Config holds context store initialization parameters.
type Config struct {
	Dir string `json:"dir,omitempty"`
	// DefaultPrompt is the system prompt written into a freshly created
	// default context.
	DefaultPrompt string `json:"default_prompt,omitempty"`
}

// DefaultConfig returns the default context store configuration.
func DefaultConfig() Config {
	return Config{
		DefaultPrompt: "You are a helpful AI assistant powered by RAPP.",
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Dir != "" {
		c.Dir = source.Dir
	}
	if source.DefaultPrompt != "" {
		c.DefaultPrompt = source.DefaultPrompt
	}
}
