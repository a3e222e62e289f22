package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/dvbrelay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing dvbrelay configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

With no config file and no environment overrides this prints the defaults,
which makes a usable template:

  dvbrelay config dump > config.yaml

Environment variables use the DVBRELAY_ prefix and underscores for nesting.
Example: output.port -> DVBRELAY_OUTPUT_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

var byteSizeType = reflect.TypeOf(config.ByteSize(0))

// toMap converts a config struct to a map keyed by mapstructure tags,
// rendering durations and byte sizes in their human-readable forms.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		default:
			switch {
			case field.Type() == byteSizeType:
				result[key] = field.Interface().(config.ByteSize).String()
			case field.Kind() == reflect.Struct:
				result[key] = toMap(field.Interface())
			default:
				result[key] = fv
			}
		}
	}
	return result
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# dvbrelay configuration")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Duration format: 1ms, 1s, 10s")
	fmt.Fprintln(w, "# Size format: 262144, 512KB, 4MB")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintln(w, "#   DVBRELAY_DEVICE_ADAPTER, DVBRELAY_TUNING_SYMBOL_RATE")
	fmt.Fprintln(w, "#   DVBRELAY_OUTPUT_MODE, DVBRELAY_OUTPUT_PORT")
	fmt.Fprintln(w, "#   DVBRELAY_LOGGING_LEVEL, DVBRELAY_METRICS_ENABLED")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w)
	_, err = w.Write(data)
	return err
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return writeConfig(cmd.OutOrStdout(), cfg)
}
