/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package types

// AppConfig represents the complete application configuration
type AppConfig struct {
	Verbose bool          `mapstructure:"verbose"`
	Config  string        `mapstructure:"config"`
	Project ProjectConfig `mapstructure:"project" validate:"required"`
	Data    DataConfig    `mapstructure:"data" validate:"required"`
	Policy  PolicyRef     `mapstructure:"policy" validate:"omitempty"`
	Engine  EngineConfig  `mapstructure:"engine" validate:"omitempty"`
}

// ProjectConfig holds project-related settings
type ProjectConfig struct {
	RootDir     string `mapstructure:"rootDir" validate:"required"`
	StateDir    string `mapstructure:"stateDir" validate:"required"`
	PoliciesDir string `mapstructure:"policiesDir" validate:"omitempty"`
}

// DataConfig holds persistence configuration for the artifact store and ledger.
type DataConfig struct {
	ArtifactsDir string `mapstructure:"artifactsDir" validate:"required"`
	LedgerFile   string `mapstructure:"ledgerFile" validate:"required"`
}

// PolicyRef points at the policy configuration file loaded once per task.
type PolicyRef struct {
	File string `mapstructure:"file" validate:"omitempty"`
}

// EngineConfig holds execution tuning knobs.
type EngineConfig struct {
	// StepConcurrency bounds how many ready steps of one plan run at once.
	StepConcurrency int `mapstructure:"stepConcurrency" validate:"omitempty,min=1,max=64"`
	// RetrospectWorkers bounds the background deep-check worker pool.
	RetrospectWorkers int `mapstructure:"retrospectWorkers" validate:"omitempty,min=1,max=32"`
	// StepTimeoutSeconds is the fallback capability timeout when a contract
	// declares no latency budget.
	StepTimeoutSeconds int `mapstructure:"stepTimeoutSeconds" validate:"omitempty,min=1,max=3600"`
}
