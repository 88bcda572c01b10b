// Package manifest provides loading and validation of cardforge batch
// manifests.
//
// A batch manifest is a YAML or JSON file that configures one generation
// run: backend connection, generation behavior, the template library, the
// output destination, and the list of cards to produce.
//
// Manifests are validated against a JSON Schema to ensure correctness
// before execution. The schema enforces strict typing and disallows
// unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	backend:
//	  endpoint: http://127.0.0.1:8188
//	templates:
//	  dir: templates
//	generate:
//	  concurrency: 4
//	  max_attempts: 3
//	  unit_cost: 0.012
//	output:
//	  destination: out/cards
//	cards:
//	  - name: Ada Lovelace
//	    source: assets/ada.png
//	    template: portrait-v2
//	  - source: "assets/extra/**/*.png"
//	    template: portrait-v2
//	    params:
//	      styleStrength: 0.8
package manifest

// Manifest represents a validated batch manifest.
//
// Required fields are Version, Backend, Templates, and Cards. Generate and
// Output are optional with sensible defaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Backend configures the inference backend connection.
	Backend BackendConfig `json:"backend" yaml:"backend"`

	// Templates configures the workflow template library.
	Templates TemplatesConfig `json:"templates" yaml:"templates"`

	// Generate configures batch behavior (optional).
	Generate GenerateConfig `json:"generate,omitempty" yaml:"generate,omitempty"`

	// Output configures the artifact destination (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`

	// Cards lists the generation requests, in order.
	Cards []CardSpec `json:"cards" yaml:"cards"`
}

// BackendConfig configures the inference backend connection.
type BackendConfig struct {
	// Endpoint is the backend base URL, e.g. "http://127.0.0.1:8188".
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// RequestTimeoutSeconds bounds a single round-trip. Default: 60.
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty" yaml:"request_timeout_seconds,omitempty"`

	// Events enables the push-status websocket channel when the backend
	// offers one. Polling remains the fallback. Default: true.
	Events *bool `json:"events,omitempty" yaml:"events,omitempty"`
}

// TemplatesConfig configures the workflow template library.
type TemplatesConfig struct {
	// Dir is the directory containing *.json workflow templates.
	Dir string `json:"dir" yaml:"dir"`
}

// GenerateConfig configures batch behavior.
//
// All fields are optional with defaults applied during loading.
type GenerateConfig struct {
	// Concurrency is the number of workers driving jobs through the
	// backend. This bounds in-flight remote jobs. Range: 1-32. Default: 4.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// MaxAttempts bounds submission attempts per card. Default: 3.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// RateLimit is the maximum submissions per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// UnitCost is the configured cost per completed generation, in account
	// currency. Reported cost is completed * UnitCost. Default: 0.
	UnitCost float64 `json:"unit_cost,omitempty" yaml:"unit_cost,omitempty"`

	// JobTimeoutSeconds bounds one attempt end to end, including the poll
	// loop. A job that never reaches a terminal backend state within this
	// window fails the attempt with a retryable timeout. Default: 600.
	JobTimeoutSeconds int `json:"job_timeout_seconds,omitempty" yaml:"job_timeout_seconds,omitempty"`

	// RetryBaseMillis is the base backoff delay in milliseconds.
	// Default: 2000.
	RetryBaseMillis int `json:"retry_base_ms,omitempty" yaml:"retry_base_ms,omitempty"`

	// RetryMaxMillis caps the backoff delay in milliseconds. Default: 30000.
	RetryMaxMillis int `json:"retry_max_ms,omitempty" yaml:"retry_max_ms,omitempty"`
}

// OutputConfig configures the artifact destination.
type OutputConfig struct {
	// Destination is a local directory path or an "s3://bucket/prefix" URI.
	// Default: "output".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Region is the bucket region for s3 destinations. Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint URL for S3-compatible storage. Optional.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Progress enables progress record emission during the run.
	// Default: true.
	Progress *bool `json:"progress,omitempty" yaml:"progress,omitempty"`

	// Report enables writing report.json next to the artifacts.
	// Default: true.
	Report *bool `json:"report,omitempty" yaml:"report,omitempty"`
}

// CardSpec is one manifest entry: a source asset (or glob of assets) paired
// with a workflow template.
type CardSpec struct {
	// Name labels the card. Optional for glob sources, where each match is
	// named after its file stem.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Source is the input asset path, relative to the manifest directory.
	// Doublestar globs are expanded ("assets/**/*.png").
	Source string `json:"source" yaml:"source"`

	// Template is the workflow template ID from the template library.
	Template string `json:"template" yaml:"template"`

	// Params are named values for the template's parameter injection
	// points (e.g. styleStrength, guidance).
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultConcurrency is the default worker count.
	DefaultConcurrency = 4

	// DefaultMaxAttempts is the default submission attempt ceiling.
	DefaultMaxAttempts = 3

	// DefaultRequestTimeoutSeconds bounds a single backend round-trip.
	DefaultRequestTimeoutSeconds = 60

	// DefaultJobTimeoutSeconds bounds one attempt including polling.
	DefaultJobTimeoutSeconds = 600

	// DefaultRetryBaseMillis is the default base backoff delay.
	DefaultRetryBaseMillis = 2000

	// DefaultRetryMaxMillis is the default backoff delay cap.
	DefaultRetryMaxMillis = 30000

	// DefaultDestination is the default artifact destination.
	DefaultDestination = "output"

	// DefaultProgress is the default value for progress emission.
	DefaultProgress = true

	// DefaultReport is the default value for report.json emission.
	DefaultReport = true

	// DefaultEvents is the default value for the push-status channel.
	DefaultEvents = true
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest so
// callers never need to reason about zero values.
func (m *Manifest) ApplyDefaults() {
	if m.Backend.RequestTimeoutSeconds == 0 {
		m.Backend.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if m.Backend.Events == nil {
		v := DefaultEvents
		m.Backend.Events = &v
	}

	if m.Generate.Concurrency == 0 {
		m.Generate.Concurrency = DefaultConcurrency
	}
	if m.Generate.MaxAttempts == 0 {
		m.Generate.MaxAttempts = DefaultMaxAttempts
	}
	if m.Generate.JobTimeoutSeconds == 0 {
		m.Generate.JobTimeoutSeconds = DefaultJobTimeoutSeconds
	}
	if m.Generate.RetryBaseMillis == 0 {
		m.Generate.RetryBaseMillis = DefaultRetryBaseMillis
	}
	if m.Generate.RetryMaxMillis == 0 {
		m.Generate.RetryMaxMillis = DefaultRetryMaxMillis
	}
	// RateLimit and UnitCost: 0 is a valid value, no default needed.

	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
	if m.Output.Progress == nil {
		v := DefaultProgress
		m.Output.Progress = &v
	}
	if m.Output.Report == nil {
		v := DefaultReport
		m.Output.Report = &v
	}
}

// ProgressEnabled returns whether progress records should be emitted.
func (o *OutputConfig) ProgressEnabled() bool {
	if o.Progress == nil {
		return DefaultProgress
	}
	return *o.Progress
}

// ReportEnabled returns whether report.json should be written.
func (o *OutputConfig) ReportEnabled() bool {
	if o.Report == nil {
		return DefaultReport
	}
	return *o.Report
}

// EventsEnabled returns whether the push-status channel should be tried.
func (b *BackendConfig) EventsEnabled() bool {
	if b.Events == nil {
		return DefaultEvents
	}
	return *b.Events
}
