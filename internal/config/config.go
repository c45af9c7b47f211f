// =============================================================================
// Report Kapp - Configuration Module
// =============================================================================
//
// This module loads and validates all configuration files.
//
// CONFIGURATION FILES:
//   1. Main Config (config.yaml): directories, output naming, logging, server
//   2. Station Configs (stations/*.yaml): one file per buying station with its
//      file matching rules, input parsing settings and shipment defaults
//
// ENVIRONMENT:
//   A .env file in the working directory is loaded if present. Variables with
//   the REPORTKAPP_ prefix override values from config.yaml (see applyEnvOverrides).
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/report-kapp/internal/transform"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is scanned by the process command for station sheets.
	// Default: "./input"
	InputDir string `yaml:"input_dir"`

	// OutputDir receives the generated Loading/Buying files.
	// Default: "./output"
	OutputDir string `yaml:"output_dir"`

	// InputArchiveDir receives input files after successful processing.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir"`

	// OutputArchiveDir receives a copy of every generated file.
	// Default: "./output_archive"
	OutputArchiveDir string `yaml:"output_archive_dir"`

	// StationsDir holds one YAML file per buying station.
	// Default: "./stations"
	StationsDir string `yaml:"stations_dir"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogFile is an optional extra log destination. Logs always go to stderr.
	LogFile string `yaml:"log_file"`

	// LogLevel is one of "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// =========================================================================
	// OUTPUT SETTINGS
	// =========================================================================

	// OutputNameFormat is the base name (no extension) of generated files.
	// Placeholders:
	//   {uuid}      - A random UUID
	//   {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
	//   {date}      - Current date (YYYYMMDD)
	//   {station}   - Station code
	//   {delivery}  - Official delivery number
	//   {original}  - Input file name without extension
	// Default: "{station}_{delivery}_{timestamp}"
	OutputNameFormat string `yaml:"output_name_format"`

	// OutputFormats lists the export formats: "xlsx", "csv", "txt".
	// Default: ["xlsx"]
	OutputFormats []string `yaml:"output_formats"`

	// RoundWeights writes weights rounded to whole kilograms. When false the
	// exact values are written.
	// Default: true
	RoundWeights *bool `yaml:"round_weights"`

	// Columns overrides the required input column names.
	Columns transform.Columns `yaml:"columns"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxConcurrency is the number of files processed at once.
	// Default: 4
	MaxConcurrency int `yaml:"max_concurrency"`

	// ContinueOnError keeps processing other files after a failure.
	// Default: true
	ContinueOnError *bool `yaml:"continue_on_error"`

	// =========================================================================
	// SERVER SETTINGS
	// =========================================================================

	Server ServerConfig `yaml:"server"`
}

// ServerConfig configures the HTTP upload service.
type ServerConfig struct {
	// Address is the listen address.
	// Default: ":8080"
	Address string `yaml:"address"`

	// MaxUploadMB limits the request body size.
	// Default: 20
	MaxUploadMB int `yaml:"max_upload_mb"`

	// Users maps user names to bcrypt password hashes.
	// Authentication is disabled when empty.
	Users map[string]string `yaml:"users"`
}

// Rounded reports whether weights are exported rounded.
func (c *MainConfig) Rounded() bool {
	return c.RoundWeights == nil || *c.RoundWeights
}

// ContinueAfterError reports whether batch processing continues after a
// failed file.
func (c *MainConfig) ContinueAfterError() bool {
	return c.ContinueOnError == nil || *c.ContinueOnError
}

// =============================================================================
// STATION CONFIGURATION STRUCTURE
// =============================================================================

// StationConfig holds the configuration for one buying station.
type StationConfig struct {
	// StationName is the buying station name written to both tables.
	StationName string `yaml:"station_name"`

	// StationCode is a short code used in output file names and logs.
	StationCode string `yaml:"station_code"`

	// FileMatchingPatterns are glob patterns matched against input file names.
	// Examples:
	//   - "empalme_*.xlsx"
	//   - "*_quevedo_*.csv"
	FileMatchingPatterns []string `yaml:"file_matching_patterns"`

	// SheetName is the worksheet read from spreadsheet inputs.
	// Default: the first sheet.
	SheetName string `yaml:"sheet_name"`

	// CSVSettings controls parsing of delimited text inputs.
	CSVSettings CSVSettings `yaml:"csv_settings"`

	// Defaults are the shipment metadata used when a run does not supply them.
	Defaults MetadataDefaults `yaml:"defaults"`

	// DeliveryNumberPattern extracts the official delivery number from the
	// input file name. It must contain exactly one capture group.
	// Example: "GR-(\\d+)"
	DeliveryNumberPattern string `yaml:"delivery_number_pattern"`

	deliveryNumberRE *regexp.Regexp
}

// MetadataDefaults are per-station shipment values.
type MetadataDefaults struct {
	OriginWarehouse     string `yaml:"origin_warehouse"`
	OriginWarehouseCode string `yaml:"origin_warehouse_code"`
	Product             string `yaml:"product"`
}

// CSVSettings contains settings for parsing delimited text inputs.
type CSVSettings struct {
	// Delimiter separates fields. Accepts ",", ";", "|", "tab".
	// Default: ","
	Delimiter string `yaml:"delimiter"`

	// HeaderRows is the number of header rows; multi-row headers are joined
	// with a space.
	// Default: 1
	HeaderRows int `yaml:"header_rows"`

	// DataStartRow is the 1-based row where data begins.
	// Default: HeaderRows + 1
	DataStartRow int `yaml:"data_start_row"`

	// DateColumn is the column whose values are read as dates.
	// Default: the configured delivery date column.
	DateColumn string `yaml:"date_column"`

	// DateFormats are Go layouts tried in order for DateColumn values.
	// Default: ["2006-01-02", "02/01/2006", "2006/01/02"]
	DateFormats []string `yaml:"date_formats"`
}

// DeliveryNumberFromFile applies DeliveryNumberPattern to a file name.
// It returns "" when no pattern is configured or nothing matches.
func (s *StationConfig) DeliveryNumberFromFile(path string) string {
	if s.deliveryNumberRE == nil {
		return ""
	}
	m := s.deliveryNumberRE.FindStringSubmatch(filepath.Base(path))
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// Matches reports whether the station handles the given input file.
func (s *StationConfig) Matches(path string) bool {
	name := filepath.Base(path)
	for _, pattern := range s.FileMatchingPatterns {
		matched, err := filepath.Match(pattern, name)
		if err != nil {
			// Invalid patterns are rejected at load time.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "REPORTKAPP_"

// LoadMainConfig loads the main configuration from a YAML file.
//
// A missing file is not an error: defaults and environment overrides are
// applied to an empty configuration so the tool works out of the box.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be parsed or the result is invalid.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	var config MainConfig

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	if err := applyEnvOverrides(&config); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	applyMainConfigDefaults(&config)

	if err := validateMainConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides copies REPORTKAPP_* variables over file values.
func applyEnvOverrides(config *MainConfig) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	str("INPUT_DIR", &config.InputDir)
	str("OUTPUT_DIR", &config.OutputDir)
	str("INPUT_ARCHIVE_DIR", &config.InputArchiveDir)
	str("OUTPUT_ARCHIVE_DIR", &config.OutputArchiveDir)
	str("STATIONS_DIR", &config.StationsDir)
	str("LOG_FILE", &config.LogFile)
	str("LOG_LEVEL", &config.LogLevel)
	str("OUTPUT_NAME_FORMAT", &config.OutputNameFormat)
	str("SERVER_ADDRESS", &config.Server.Address)

	if v, ok := os.LookupEnv(EnvPrefix + "OUTPUT_FORMATS"); ok && v != "" {
		config.OutputFormats = splitList(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "MAX_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_CONCURRENCY: %w", EnvPrefix, err)
		}
		config.MaxConcurrency = n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "ROUND_WEIGHTS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sROUND_WEIGHTS: %w", EnvPrefix, err)
		}
		config.RoundWeights = &b
	}

	return nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.InputDir == "" {
		config.InputDir = "./input"
	}
	if config.OutputDir == "" {
		config.OutputDir = "./output"
	}
	if config.InputArchiveDir == "" {
		config.InputArchiveDir = "./input_archive"
	}
	if config.OutputArchiveDir == "" {
		config.OutputArchiveDir = "./output_archive"
	}
	if config.StationsDir == "" {
		config.StationsDir = "./stations"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.OutputNameFormat == "" {
		config.OutputNameFormat = "{station}_{delivery}_{timestamp}"
	}
	if len(config.OutputFormats) == 0 {
		config.OutputFormats = []string{"xlsx"}
	}
	for i, f := range config.OutputFormats {
		config.OutputFormats[i] = strings.ToLower(strings.TrimSpace(f))
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Server.Address == "" {
		config.Server.Address = ":8080"
	}
	if config.Server.MaxUploadMB <= 0 {
		config.Server.MaxUploadMB = 20
	}
	config.Columns = config.Columns.WithDefaults()
}

// validateMainConfig validates the main configuration.
func validateMainConfig(config *MainConfig) error {
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", config.LogLevel)
	}

	for _, f := range config.OutputFormats {
		switch f {
		case "xlsx", "csv", "txt":
		default:
			return fmt.Errorf("unknown output format %q", f)
		}
	}

	for user, hash := range config.Server.Users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return fmt.Errorf("server user %q: password must be a bcrypt hash: %w", user, err)
		}
	}

	return nil
}

// LoadStationConfigs loads all station configurations from a directory.
//
// PARAMETERS:
//   - stationsDir: The directory containing station YAML files.
//   - columns: The input column layout, used to default the CSV date column.
//
// RETURNS:
//   - A map of station configurations keyed by station code (or file name
//     when the code is blank).
//   - An error if any file cannot be parsed or is invalid.
func LoadStationConfigs(stationsDir string, columns transform.Columns) (map[string]*StationConfig, error) {
	configs := make(map[string]*StationConfig)

	files, err := filepath.Glob(filepath.Join(stationsDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list station files: %w", err)
	}
	ymlFiles, err := filepath.Glob(filepath.Join(stationsDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list station files: %w", err)
	}
	files = append(files, ymlFiles...)

	for _, file := range files {
		station, err := LoadStationConfig(file, columns)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}

		key := station.StationCode
		if key == "" {
			key = filepath.Base(file)
		}
		if _, dup := configs[key]; dup {
			return nil, fmt.Errorf("duplicate station code %q in %s", key, file)
		}
		configs[key] = station
	}

	return configs, nil
}

// LoadStationConfig loads a single station configuration file.
func LoadStationConfig(filePath string, columns transform.Columns) (*StationConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var station StationConfig
	if err := yaml.Unmarshal(data, &station); err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}

	if err := station.Prepare(columns); err != nil {
		return nil, err
	}
	return &station, nil
}

// Prepare applies defaults and compiles patterns. It is called by the loaders
// and must be called on stations built in code.
func (s *StationConfig) Prepare(columns transform.Columns) error {
	applyStationDefaults(s, columns.WithDefaults())
	return validateStation(s)
}

// DefaultDateFormats are the layouts tried for CSV delivery dates.
var DefaultDateFormats = []string{"2006-01-02", "02/01/2006", "2006/01/02"}

// DefaultCSVSettings returns the CSV settings used when no station
// configuration applies, such as for uploads.
func DefaultCSVSettings(columns transform.Columns) CSVSettings {
	var settings CSVSettings
	applyCSVDefaults(&settings, columns.WithDefaults())
	return settings
}

// applyStationDefaults sets default values for a station configuration.
func applyStationDefaults(s *StationConfig, columns transform.Columns) {
	applyCSVDefaults(&s.CSVSettings, columns)
}

func applyCSVDefaults(settings *CSVSettings, columns transform.Columns) {
	if settings.Delimiter == "" {
		settings.Delimiter = ","
	}
	if settings.HeaderRows <= 0 {
		settings.HeaderRows = 1
	}
	if settings.DataStartRow <= 0 {
		settings.DataStartRow = settings.HeaderRows + 1
	}
	if settings.DateColumn == "" {
		settings.DateColumn = columns.DeliveryDate
	}
	if len(settings.DateFormats) == 0 {
		settings.DateFormats = slices.Clone(DefaultDateFormats)
	}
}

// validateStation checks patterns and compiles the delivery number regexp.
func validateStation(s *StationConfig) error {
	for _, pattern := range s.FileMatchingPatterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid file matching pattern %q: %w", pattern, err)
		}
	}

	if s.CSVSettings.DataStartRow <= s.CSVSettings.HeaderRows {
		return fmt.Errorf("data_start_row (%d) must be after the header rows (%d)",
			s.CSVSettings.DataStartRow, s.CSVSettings.HeaderRows)
	}

	if s.DeliveryNumberPattern != "" {
		re, err := regexp.Compile(s.DeliveryNumberPattern)
		if err != nil {
			return fmt.Errorf("invalid delivery_number_pattern: %w", err)
		}
		if re.NumSubexp() != 1 {
			return fmt.Errorf("delivery_number_pattern must have exactly one capture group, has %d", re.NumSubexp())
		}
		s.deliveryNumberRE = re
	}

	return nil
}

// FindStation returns the station whose patterns match the file, or nil.
// Stations are checked in code order so the result does not depend on map
// iteration.
func FindStation(path string, stations map[string]*StationConfig) *StationConfig {
	codes := make([]string, 0, len(stations))
	for code := range stations {
		codes = append(codes, code)
	}
	slices.Sort(codes)

	for _, code := range codes {
		if stations[code].Matches(path) {
			return stations[code]
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
