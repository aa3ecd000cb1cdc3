package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/stagefs/stagefs/pkg/config"
)

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Generate a JSON schema for the stagefs configuration file.

Point an editor at the generated schema for autocompletion and inline
validation, e.g. with yaml-language-server:

  # yaml-language-server: $schema=./config.schema.json

Examples:
  # Print schema to stdout
  stagefs config schema

  # Save schema to file
  stagefs config schema --output config.schema.json`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Output file (default: stdout)")
}

// configSchema reflects the Config struct into a draft 2020-12 schema.
func configSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "stagefs Configuration"
	schema.Description = "Configuration schema for stagefs server"

	return json.MarshalIndent(schema, "", "  ")
}

func runSchema(cmd *cobra.Command, args []string) error {
	schemaJSON, err := configSchema()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if schemaOutput == "" {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
		return nil
	}

	if err := os.WriteFile(schemaOutput, schemaJSON, 0644); err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
	return nil
}
