/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/josephgoksu/PlanWing/types"
)

const (
	configName = ".planwing"
	envPrefix  = "PLANWING"
)

// GlobalAppConfig holds the global application configuration instance.
var GlobalAppConfig types.AppConfig

// validate is a single validator instance; it caches struct info.
var validate = validator.New()

// validateAppConfig performs validation on the AppConfig struct.
func validateAppConfig(config *types.AppConfig) error {
	return validate.Struct(config)
}

// InitConfig reads in config file and ENV variables if set.
func InitConfig() {
	viper.SetEnvPrefix(envPrefix) // e.g., PLANWING_VERBOSE
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	cfgFileFlag := viper.GetString("config")
	if cfgFileFlag != "" {
		viper.SetConfigFile(cfgFileFlag)
	} else {
		projectDir := viper.GetString("project.rootDir")
		if _, err := os.Stat(projectDir); !os.IsNotExist(err) {
			// Project-local config wins over the home directory one.
			viper.AddConfigPath(projectDir)
		}
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		// Missing config is fine; defaults apply. A malformed one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	} else if viper.GetBool("verbose") {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if err := viper.Unmarshal(&GlobalAppConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling config: %v\n", err)
		os.Exit(1)
	}
	if err := validateAppConfig(&GlobalAppConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
}

func setDefaults() {
	viper.SetDefault("project.rootDir", ".planwing")
	viper.SetDefault("project.stateDir", "state")
	viper.SetDefault("project.policiesDir", "policies")
	viper.SetDefault("data.artifactsDir", "artifacts")
	viper.SetDefault("data.ledgerFile", "planwing.db")
	viper.SetDefault("engine.stepConcurrency", 4)
	viper.SetDefault("engine.retrospectWorkers", 2)
	viper.SetDefault("engine.stepTimeoutSeconds", 60)
}

// GetConfig returns the loaded application configuration.
func GetConfig() types.AppConfig {
	return GlobalAppConfig
}

// LedgerPath returns the full path to the SQLite ledger file.
func LedgerPath() string {
	cfg := GetConfig()
	return filepath.Join(cfg.Project.RootDir, cfg.Project.StateDir, cfg.Data.LedgerFile)
}

// ArtifactsPath returns the full path to the artifact store directory.
func ArtifactsPath() string {
	cfg := GetConfig()
	return filepath.Join(cfg.Project.RootDir, cfg.Data.ArtifactsDir)
}

// PoliciesPath returns the full path to the Rego guard directory.
func PoliciesPath() string {
	cfg := GetConfig()
	return filepath.Join(cfg.Project.RootDir, cfg.Project.PoliciesDir)
}
