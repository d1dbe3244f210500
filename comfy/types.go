package comfy

// Sn0wMeta defines the structure of the sn0w_meta TOML block embedded in a
// workflow file. It tells the runner which graph widgets carry the prompt,
// the lora name and the sampler parameters.
type Sn0wMeta struct {
	Name         string                    `toml:"name"`
	Description  string                    `toml:"description"`
	Type         string                    `toml:"type"`
	ModelClass   string                    `toml:"modelClass"`
	PromptTarget Target                    `toml:"promptTarget"`
	NegativeTarget Target                  `toml:"negativeTarget"`
	LoraTarget   Target                    `toml:"loraTarget"`
	Parameters   map[string]ParameterDef   `toml:"parameters"`
	Hardcoded    map[string]HardcodedValue `toml:"hardcoded"`
}

// ParameterDef defines the structure for a configurable parameter.
type ParameterDef struct {
	Type        string      `toml:"type"`
	Default     interface{} `toml:"default"`
	Description string      `toml:"description"`
	Targets     []Target    `toml:"targets"`
	Min         *float64    `toml:"min"`
	Max         *float64    `toml:"max"`
}

// HardcodedValue defines a value to be set directly in the workflow.
type HardcodedValue struct {
	Value   interface{} `toml:"value"`
	Targets []Target    `toml:"targets"`
}

// Target defines a specific widget in a workflow to update.
type Target struct {
	Node        string `toml:"node"`
	WidgetIndex int    `toml:"widget_index"`
}

// TestRequest describes one lora comparison run: the same sampling settings
// applied once per lora in LoraInfo, outputs collected into a single batch.
type TestRequest struct {
	Workflow    string  `json:"workflow"` // workflow name without extension
	Positive    string  `json:"positive"`
	Negative    string  `json:"negative"`
	Seed        int64   `json:"seed"`
	Steps       int     `json:"steps"`
	Cfg         float64 `json:"cfg"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	SamplerName string  `json:"sampler_name"`
	Scheduler   string  `json:"scheduler"`
	Denoise     float64 `json:"denoise"`
	LoraInfo    string  `json:"lora_info"`       // ";"-separated lora names
	NodeID      string  `json:"node_id"`         // relay id for the frontend keep/discard choice, "" to skip
	SaveAsJpeg  bool    `json:"convert_to_jpeg"` // re-encode saved outputs as jpeg
}
