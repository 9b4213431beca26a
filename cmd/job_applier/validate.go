package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-applier/internal/config"
	"github.com/jonathan/job-applier/internal/schemas"
	embedded "github.com/jonathan/job-applier/schemas"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file or run report",
	Long: `Checks a config file against the config schema and the engine's own rules, or a run
report against the run report schema. Exits with status 1 when validation fails.`,
	RunE: runValidate,
}

var (
	validateConfigPath string
	validateReportPath string
)

func init() {
	validateCmd.Flags().StringVarP(&validateConfigPath, "config", "c", "", "Path to config.json file")
	validateCmd.Flags().StringVarP(&validateReportPath, "report", "r", "", "Path to a session_<timestamp>.json run report")
	validateCmd.MarkFlagsOneRequired("config", "report")

	rootCmd.AddCommand(validateCmd)
}

var errValidationFailed = errors.New("validation failed")

func runValidate(cmd *cobra.Command, _ []string) error {
	var err error
	switch {
	case validateConfigPath != "":
		err = validateConfig(validateConfigPath)
	default:
		err = schemas.ValidateFile(embedded.RunReport, validateReportPath)
	}

	out := cmd.OutOrStdout()
	if err != nil {
		var schemaErr *schemas.ValidationError
		var cfgErr *config.Error
		switch {
		case errors.As(err, &schemaErr):
			_, _ = fmt.Fprintln(out, "Validation failed:")
			for _, fe := range schemaErr.Errors {
				_, _ = fmt.Fprintf(out, "  - %s: %s\n", fe.Field, fe.Message)
			}
		case errors.As(err, &cfgErr):
			_, _ = fmt.Fprintln(out, "Validation failed:")
			for _, fe := range cfgErr.Fields {
				_, _ = fmt.Fprintf(out, "  - %s: %s\n", fe.Field, fe.Message)
			}
		default:
			return err
		}
		return errValidationFailed
	}

	_, _ = fmt.Fprintln(out, "Validation passed")
	return nil
}

// validateConfig checks the raw file against the schema, then the loaded config against
// the rules the schema cannot express.
func validateConfig(path string) error {
	if err := schemas.ValidateFile(embedded.Config, path); err != nil {
		return err
	}
	_, err := config.Load(path)
	return err
}
