package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nvandessel/observer/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage observer configuration",
		Long: `View and modify observer configuration settings.

Configuration is stored in ~/.observer/config.yaml (or the file named by
--config) and can be overridden with OBSERVER_* environment variables.`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)
	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
			}
			text, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value (e.g. scoring.lookback)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			values, err := configValues(cfg)
			if err != nil {
				return err
			}
			value, ok := lookupValue(values, args[0])
			if !ok {
				return fmt.Errorf("unknown config key: %s (valid: %s)", args[0], strings.Join(configKeys(values), ", "))
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"key":   args[0],
					"value": value,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value in the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key, value := args[0], args[1]

			path, err := configPath(cmd)
			if err != nil {
				return err
			}

			// Start from the file alone so env overrides are not persisted.
			cfg := config.Default()
			if _, err := os.Stat(path); err == nil {
				if cfg, err = config.LoadFromFile(path); err != nil {
					return err
				}
			}

			updated, err := setConfigValue(cfg, key, value)
			if err != nil {
				return err
			}
			if err := updated.Validate(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}

			text, err := updated.Marshal()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(text), 0600); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"status": "updated",
					"key":    key,
					"value":  value,
					"path":   path,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

func configPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, nil
	}
	return config.DefaultPath()
}

// configValues flattens cfg into section -> key -> value using its YAML
// field names.
func configValues(cfg *config.ObserverConfig) (map[string]map[string]interface{}, error) {
	text, err := cfg.Marshal()
	if err != nil {
		return nil, err
	}
	values := map[string]map[string]interface{}{}
	if err := yaml.Unmarshal([]byte(text), &values); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return values, nil
}

func lookupValue(values map[string]map[string]interface{}, key string) (interface{}, bool) {
	section, name, ok := strings.Cut(key, ".")
	if !ok {
		return nil, false
	}
	fields, ok := values[section]
	if !ok {
		return nil, false
	}
	v, ok := fields[name]
	return v, ok
}

func configKeys(values map[string]map[string]interface{}) []string {
	var keys []string
	for section, fields := range values {
		for name := range fields {
			keys = append(keys, section+"."+name)
		}
	}
	sort.Strings(keys)
	return keys
}

// setConfigValue returns a copy of cfg with the dot-notation key set to
// value. The value is parsed as YAML so numbers and booleans keep their type.
func setConfigValue(cfg *config.ObserverConfig, key, value string) (*config.ObserverConfig, error) {
	values, err := configValues(cfg)
	if err != nil {
		return nil, err
	}
	if _, ok := lookupValue(values, key); !ok {
		return nil, fmt.Errorf("unknown config key: %s (valid: %s)", key, strings.Join(configKeys(values), ", "))
	}

	var parsed interface{}
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", value, err)
	}
	section, name, _ := strings.Cut(key, ".")
	values[section][name] = parsed

	data, err := yaml.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	updated := config.Default()
	if err := yaml.Unmarshal(data, updated); err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return updated, nil
}
