package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Rom0219/EDR-ringdown-search/configs"
	"github.com/Rom0219/EDR-ringdown-search/internal/app"
)

var (
	generateCatalogOut string
	generateConfigOut  string
	generateDataDir    string
	generateMultiMode  bool
	generateForce      bool
)

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or generate configuration and catalog files",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display all configuration values",
	Long: `Load the configuration (defaults, config file, RINGDOWN_* environment
variables and flags) and display every value to verify it was parsed correctly.

Examples:
  # Effective configuration with defaults
  ringdown config show

  # Configuration from a specific file
  ringdown --config ./configs/ringdown.yaml config show`,
	RunE: runConfigShow,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write an example catalog and a default configuration file",
	Long: `Write the built-in example catalog of confident binary black hole
events (H1 and L1 GWOSC ASCII segments) and a configuration file holding
every default value.

Examples:
  # catalog.yaml and configs/ringdown.yaml in the current directory
  ringdown config generate

  # Multi-mode defaults, strain files under ./data
  ringdown config generate --multi-mode --data-dir ./data --force`,
	RunE: runConfigGenerate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().StringVar(&generateCatalogOut, "catalog-out", "catalog.yaml", "catalog file to write (.yaml or .json)")
	configGenerateCmd.Flags().StringVar(&generateConfigOut, "config-out", filepath.Join("configs", "ringdown.yaml"), "configuration file to write; empty skips it")
	configGenerateCmd.Flags().StringVar(&generateDataDir, "data-dir", "data", "directory holding the strain segments")
	configGenerateCmd.Flags().BoolVar(&generateMultiMode, "multi-mode", false, "configure multi-mode templates (22, 33, 21)")
	configGenerateCmd.Flags().BoolVar(&generateForce, "force", false, "overwrite existing files")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	fmt.Println("RINGDOWN CONFIGURATION")
	fmt.Println(strings.Repeat("=", 80))

	config, err := configs.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if used := viper.ConfigFileUsed(); used != "" {
		printKeyValue("Config File", used)
	} else {
		printKeyValue("Config File", "(none, defaults only)")
	}

	printSection("APPLICATION SETTINGS")
	printKeyValue("Verbose", fmt.Sprintf("%t", config.Verbose))
	printKeyValue("Log Level", config.LogLevel)
	printKeyValue("Output Format", config.OutputFormat)
	printKeyValue("Config Directory", config.ConfigDir)
	printKeyValue("Data Directory", config.DataDir)

	printSection("WHITENING")
	w := config.Whitening
	printKeyValue("PSD Segment Length", fmt.Sprintf("%g s", w.PSDSegmentLength))
	printKeyValue("Overlap", fmt.Sprintf("%.2f", w.Overlap))
	printKeyValue("Normalization", w.Normalization)
	printKeyValue("PSD Floor", fmt.Sprintf("%g", w.Floor))
	printKeyValue("Detrend", fmt.Sprintf("%t", w.Detrend))
	printKeyValue("Highpass", fmt.Sprintf("%g Hz", w.HighpassFreq))
	printKeyValue("Notches", fmt.Sprintf("(%d) %v", len(w.Notches), w.Notches))
	printKeyValue("Notch Q", fmt.Sprintf("%g", w.NotchQ))
	printKeyValue("Skip", fmt.Sprintf("%t", w.Skip))

	printSection("LOCATOR")
	l := config.Locator
	printKeyValue("Half Widths", fmt.Sprintf("%v s", l.HalfWidths))
	printKeyValue("Min Search Samples", fmt.Sprintf("%d", l.MinSearchSamples))
	printKeyValue("Fit Duration", fmt.Sprintf("%g s", l.FitDuration))
	printKeyValue("Min Window Samples", fmt.Sprintf("%d", l.MinWindowSamples))

	printSection("ESTIMATOR")
	e := config.Estimator
	printKeyValue("Frequency Band", fmt.Sprintf("%g - %g Hz", e.FrequencyMin, e.FrequencyMax))
	printKeyValue("Fallback Frequency", fmt.Sprintf("%g Hz", e.FallbackFrequency))
	printKeyValue("Fallback Damping Time", fmt.Sprintf("%g s", e.FallbackDampingTime))
	printKeyValue("Initial Onset", fmt.Sprintf("%g s", e.InitialOnset))
	printKeyValue("Amplitude Scale", fmt.Sprintf("%g", e.AmplitudeScale))
	printKeyValue("Shape Range", fmt.Sprintf("%g - %g", e.ShapeRangeMin, e.ShapeRangeMax))
	printKeyValue("Shift Bound", fmt.Sprintf("%g", e.ShiftBound))
	printKeyValue("Max Onset Offset", fmt.Sprintf("%g s", e.MaxOnsetOffset))
	printKeyValue("Amplitude Floor", fmt.Sprintf("%g", e.AmplitudeFloor))
	printKeyValue("Max Iterations", fmt.Sprintf("%d", e.MaxIterations))
	printKeyValue("Max Evaluations", fmt.Sprintf("%d", e.MaxEvaluations))

	printSection("MODELS")
	m := config.Models
	printKeyValue("GR Variant", m.GRVariant)
	printKeyValue("EDR Variant", m.EDRVariant)
	printKeyValue("Modes", fmt.Sprintf("%v", m.Modes))
	printKeyValue("Fit EDR Multi", fmt.Sprintf("%t", m.FitEDRMulti))
	printKeyValue("Tie Tolerance", fmt.Sprintf("%g", m.TieTolerance))

	printSection("RUNNER")
	printKeyValue("Max Concurrent", fmt.Sprintf("%d", config.Runner.MaxConcurrent))
	printKeyValue("Unit Timeout", config.Runner.UnitTimeout.String())
	printKeyValue("Run Timeout", config.Runner.RunTimeout.String())

	printSection("RELIABILITY")
	printKeyValue("Min Amplitude", fmt.Sprintf("%g", config.Reliability.MinAmplitude))
	printKeyValue("Max Shift", fmt.Sprintf("%g", config.Reliability.MaxShift))

	printSection("OUTPUT")
	printKeyValue("Directory", config.Output.Dir)
	printKeyValue("Write Unit Files", fmt.Sprintf("%t", config.Output.WriteUnitFiles))
	printKeyValue("Pretty", fmt.Sprintf("%t", config.Output.Pretty))
	printKeyValue("Include Records", fmt.Sprintf("%t", config.Output.IncludeRecords))

	printSection("STORE")
	printKeyValue("Enabled", fmt.Sprintf("%t", config.Store.Enabled))
	printKeyValue("Path", config.Store.Path)

	fmt.Println()
	if err := configs.ValidateConfig(config); err != nil {
		fmt.Printf("Configuration INVALID: %v\n", err)
		return err
	}
	fmt.Println("Configuration OK")
	return nil
}

func runConfigGenerate(cmd *cobra.Command, args []string) error {
	if err := checkWritable(generateCatalogOut); err != nil {
		return err
	}
	catalog := app.GenerateExampleCatalog(generateDataDir)
	if err := app.WriteCatalog(generateCatalogOut, catalog); err != nil {
		return err
	}
	fmt.Printf("Catalog written to %s (%d events)\n", generateCatalogOut, len(catalog.Events))

	if generateConfigOut == "" {
		return nil
	}
	if err := checkWritable(generateConfigOut); err != nil {
		return err
	}

	config := configs.GetDefaultConfig()
	config.DataDir = generateDataDir
	if generateMultiMode {
		config.Models = configs.MultiModeModelsConfig()
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := app.WriteToFile(generateConfigOut, data); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", generateConfigOut)
	return nil
}

func checkWritable(path string) error {
	if generateForce {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	return nil
}

func printSection(title string) {
	fmt.Printf("\n%s\n", title)
	fmt.Println(strings.Repeat("-", len(title)))
}

func printKeyValue(key, value string) {
	if value == "" {
		fmt.Printf("%-35s\n", key)
	} else {
		fmt.Printf("%-35s %s\n", key+":", value)
	}
}
