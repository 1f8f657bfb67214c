package composite

// Config holds configuration for the Engine.
type Config struct {
	// MaxChainDepth is the largest number of parent links one entity may
	// resolve through. It exists to stop cyclic link registrations from
	// recursing forever.
	// Default: 8
	// Max: 64
	MaxChainDepth int

	// DisableTagRules turns off `validate` struct-tag evaluation for
	// records that do not implement FieldValidator. Records implementing
	// FieldValidator are unaffected.
	DisableTagRules bool
}

// DefaultConfig returns sensible defaults for typical two-level links.
func DefaultConfig() Config {
	return Config{
		MaxChainDepth: 8,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxChainDepth < 1 {
		c.MaxChainDepth = 8
	}
	if c.MaxChainDepth > 64 {
		c.MaxChainDepth = 64
	}
}
