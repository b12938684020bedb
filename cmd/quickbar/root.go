package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appconfig "github.com/entrhq/quickbar/pkg/config"
)

const envPrefix = "QUICKBAR"

// override maps a flag or QUICKBAR_* variable onto a config section key.
type override struct {
	key     string // viper key, also the flag name
	section string
	field   string
	value   func(v *viper.Viper, key string) any
}

func stringOverride(v *viper.Viper, key string) any { return v.GetString(key) }
func boolOverride(v *viper.Viper, key string) any   { return v.GetBool(key) }
func intOverride(v *viper.Viper, key string) any    { return v.GetInt(key) }

var overrides = []override{
	{"planner-url", appconfig.SectionIDPlanner, "base_url", stringOverride},
	{"planner-timeout", appconfig.SectionIDPlanner, "request_timeout", stringOverride},
	{"search-ui-url", appconfig.SectionIDSearch, "ui_url", stringOverride},
	{"headless", appconfig.SectionIDBrowser, "headless", boolOverride},
	{"browser-timeout", appconfig.SectionIDBrowser, "timeout", intOverride},
	{"storage-driver", appconfig.SectionIDStorage, "driver", stringOverride},
	{"db", appconfig.SectionIDStorage, "path", stringOverride},
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "quickbar",
		Short:         "Browser task-execution engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return initializeConfig(v)
		},
	}
	root.PersistentFlags().String("config", "", "config file (default is ~/.quickbar/config.json)")

	root.AddCommand(newServeCmd(v))
	return root
}

// initializeConfig loads the config file and applies flag and environment
// overrides on top of it.
func initializeConfig(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := appconfig.Initialize(v.GetString("config")); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	return applyOverrides(v, appconfig.Global())
}

// applyOverrides copies every set override into its config section and
// re-validates the touched sections.
func applyOverrides(v *viper.Viper, manager *appconfig.Manager) error {
	touched := make(map[string]appconfig.Section)
	for _, o := range overrides {
		if !v.IsSet(o.key) {
			continue
		}
		section, ok := manager.GetSection(o.section)
		if !ok {
			return fmt.Errorf("unknown config section %q", o.section)
		}
		if err := section.SetData(map[string]any{o.field: o.value(v, o.key)}); err != nil {
			return fmt.Errorf("invalid --%s: %w", o.key, err)
		}
		touched[o.section] = section
	}

	for id, section := range touched {
		if err := section.Validate(); err != nil {
			return fmt.Errorf("invalid %s configuration: %w", id, err)
		}
	}
	return nil
}
