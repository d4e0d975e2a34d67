package templating

// EngineConfig holds the configuration of an Engine.
type EngineConfig struct {
	// Patterns lists the resources loaded by Init, in order. A "*" matches any
	// substring of a location, including "/".
	Patterns []string `json:"patterns" yaml:"patterns"`

	// LoadConcurrency bounds the number of resources read at once for a single
	// pattern. Values below 1 mean 1.
	LoadConcurrency int `json:"load_concurrency" yaml:"load_concurrency"`

	// TemplateDir is the directory served to the engine from disk. Empty means
	// templates come only from the database store.
	TemplateDir string `json:"template_dir" yaml:"template_dir"`

	// Extension is the file suffix of template sources. It selects the files
	// the watcher reacts to and the files the compile command picks up.
	Extension string `json:"extension" yaml:"extension"`
}

// DefaultConfig returns an EngineConfig that loads every ".dust" resource.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		Patterns:        []string{"/*.dust"},
		LoadConcurrency: 4,
		TemplateDir:     "templates",
		Extension:       ".dust",
	}
}

func (c *EngineConfig) clone() *EngineConfig {
	out := *c
	out.Patterns = append([]string(nil), c.Patterns...)
	return &out
}
