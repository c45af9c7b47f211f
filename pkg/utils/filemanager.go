// =============================================================================
// Report Kapp - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for batch runs:
//   - Input discovery (station spreadsheets and CSV exports)
//   - File archival (moving processed inputs, copying outputs)
//   - Output file naming
//   - Error logs and YAML run summaries
//
// ARCHIVAL STRATEGY:
//   - Input files are moved to input_archive after successful processing
//   - Output files are copied to output_archive for long-term storage
//   - Failed files remain in the input directory
//   - Error logs are created in the output directory
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// InputExtensions are the file extensions picked up from the input directory.
var InputExtensions = []string{".xlsx", ".xls", ".csv"}

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for batch runs.
type FileManager struct {
	// InputDir is the directory where station files are placed.
	InputDir string

	// OutputDir is the directory where Loading/Buying files are written.
	OutputDir string

	// InputArchiveDir is the directory for archived input files.
	InputArchiveDir string

	// OutputArchiveDir is the directory for archived output files.
	OutputArchiveDir string

	// UseTimestampSubdirs creates date-based subdirectories in archives.
	// Example: input_archive/2024/03/15/empalme_GR-1.xlsx
	UseTimestampSubdirs bool

	// ArchiveOnSuccess determines whether files are archived after processing.
	ArchiveOnSuccess bool

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// claimed holds the output base names handed out by ClaimOutputName.
	mu      sync.Mutex
	claimed map[string]bool
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, outputDir, inputArchiveDir, outputArchiveDir string) *FileManager {
	return &FileManager{
		InputDir:         inputDir,
		OutputDir:        outputDir,
		InputArchiveDir:  inputArchiveDir,
		OutputArchiveDir: outputArchiveDir,
		ArchiveOnSuccess: true,
		Now:              time.Now,
	}
}

func (fm *FileManager) now() time.Time {
	if fm.Now == nil {
		return time.Now()
	}
	return fm.Now()
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates all required directories if they don't exist.
func (fm *FileManager) EnsureDirectories() error {
	dirs := []string{
		fm.InputDir,
		fm.OutputDir,
		fm.InputArchiveDir,
		fm.OutputArchiveDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverInputFiles lists the input files in InputDir, sorted by name.
//
// Only files with one of InputExtensions are returned. Office lock files
// ("~$name.xlsx") and hidden files are skipped.
//
// RETURNS:
//   - A slice of file paths.
//   - An error if the directory cannot be read.
func (fm *FileManager) DiscoverInputFiles() ([]string, error) {
	entries, err := os.ReadDir(fm.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
			continue
		}
		if !slices.Contains(InputExtensions, strings.ToLower(filepath.Ext(name))) {
			continue
		}
		files = append(files, filepath.Join(fm.InputDir, name))
	}

	slices.Sort(files)
	return files, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an input file to the archive directory.
//
// RETURNS:
//   - The path to the archived file.
//   - An error if archival fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	if !fm.ArchiveOnSuccess {
		return filePath, nil
	}

	archivePath := fm.getArchivePath(fm.InputArchiveDir, filePath)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// Rename fails across devices; fall back to copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	return archivePath, nil
}

// ArchiveOutputFile copies an output file to the archive directory. The
// original stays in the output directory.
func (fm *FileManager) ArchiveOutputFile(filePath string) (string, error) {
	if !fm.ArchiveOnSuccess {
		return filePath, nil
	}

	archivePath := fm.getArchivePath(fm.OutputArchiveDir, filePath)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := copyFile(filePath, archivePath); err != nil {
		return "", fmt.Errorf("failed to copy file to archive: %w", err)
	}

	return archivePath, nil
}

// getArchivePath constructs the archive path for a file.
func (fm *FileManager) getArchivePath(archiveDir, filePath string) string {
	fileName := filepath.Base(filePath)

	if fm.UseTimestampSubdirs {
		now := fm.now()
		return filepath.Join(
			archiveDir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
			fileName,
		)
	}

	return filepath.Join(archiveDir, fileName)
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// GenerateOutputFileName expands an output name format. The result has no
// extension; exporters append their own.
//
// PARAMETERS:
//   - format: The format string for the file name.
//             Placeholders:
//               {uuid}      - A random UUID
//               {timestamp} - Timestamp (YYYYMMDD_HHMMSS)
//               {date}      - Date (YYYYMMDD)
//               {time}      - Time (HHMMSS)
//               {station}   - Station code
//               {delivery}  - Official delivery number
//               {original}  - Original file name (without extension)
//   - params: A map of placeholder values, keyed without braces.
//   - now: The time used for the time placeholders.
//
// EXAMPLE:
//   format: "{station}_{delivery}_{timestamp}"
//   params: {"station": "EMP", "delivery": "GR-001"}
//   output: "EMP_GR-001_20240315_143022"
func GenerateOutputFileName(format string, params map[string]string, now time.Time) string {
	replacements := map[string]string{
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
		"{station}":   "",
		"{delivery}":  "",
		"{original}":  "",
	}
	if strings.Contains(format, "{uuid}") {
		replacements["{uuid}"] = uuid.New().String()
	}

	for key, value := range params {
		replacements["{"+key+"}"] = sanitizeFileNamePart(value)
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	// Blank placeholders leave doubled or dangling separators.
	for strings.Contains(result, "__") {
		result = strings.ReplaceAll(result, "__", "_")
	}
	result = strings.Trim(result, "_- ")
	if result == "" {
		result = "output_" + now.Format("20060102_150405")
	}

	return result
}

// ClaimOutputName reserves an output base name for one file of a run. When
// base was already claimed, or one of the files names(base) would produce
// exists in the output directory, a numeric suffix is added: base_2, base_3
// and so on. Safe for concurrent use.
//
// EXAMPLE:
//   Two files processed in the same second with "{station}_{timestamp}"
//   both expand to "EMP_20240315_143022". The first keeps it, the second
//   gets "EMP_20240315_143022_2".
func (fm *FileManager) ClaimOutputName(base string, names func(base string) []string) string {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if fm.claimed == nil {
		fm.claimed = make(map[string]bool)
	}

	candidate := base
	for n := 2; fm.claimed[candidate] || fm.outputExists(names(candidate)); n++ {
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
	fm.claimed[candidate] = true
	return candidate
}

// outputExists reports whether any of the named files is in the output
// directory.
func (fm *FileManager) outputExists(names []string) bool {
	for _, name := range names {
		if FileExists(filepath.Join(fm.OutputDir, name)) {
			return true
		}
	}
	return false
}

// sanitizeFileNamePart replaces characters that are not safe in file names.
func sanitizeFileNamePart(value string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		case ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(value))
}

// =============================================================================
// RUN REPORTS
// =============================================================================
//
// Every batch run leaves two reports in OutputDir:
//   error_log_<timestamp>.txt           - one block per failed file, for people
//   processing_summary_<timestamp>.yaml - totals and per-file results, for
//                                         people and scripts
//
// Both are named with the FileManager clock so a run's reports sort together.

// ErrorLogEntry describes one failed file.
type ErrorLogEntry struct {
	Timestamp    time.Time
	FileName     string
	ErrorType    string
	ErrorMessage string

	// RowNumber is the 1-based sheet row or file line, 0 when the error is
	// not tied to a row.
	RowNumber int

	FieldName      string
	FieldValue     string
	MissingColumns []string
}

const reportRule = "================================================================================\n"

// WriteErrorLog writes entries to an error log in OutputDir.
//
// RETURNS:
//   - The path to the error log file, or "" when there are no entries.
//   - An error if writing fails.
func (fm *FileManager) WriteErrorLog(entries []ErrorLogEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	now := fm.now()
	return fm.writeReport("error_log", ".txt", func(w *bufio.Writer) error {
		fmt.Fprintf(w, "Report Kapp - Error Log\nGenerated: %s\nTotal Errors: %d\n%s\n",
			now.Format(time.DateTime), len(entries), reportRule)
		for i, entry := range entries {
			writeErrorEntry(w, i+1, entry)
		}
		_, err := w.WriteString(reportRule + "End of Error Log\n")
		return err
	})
}

// writeErrorEntry writes one numbered block. Optional fields are omitted when
// empty.
func writeErrorEntry(w io.Writer, n int, entry ErrorLogEntry) {
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %-16s%s\n", label+":", value)
		}
	}

	fmt.Fprintf(w, "Error #%d\n", n)
	field("Timestamp", entry.Timestamp.Format(time.DateTime))
	field("File", entry.FileName)
	field("Error Type", entry.ErrorType)
	field("Message", entry.ErrorMessage)
	if entry.RowNumber > 0 {
		field("Row Number", strconv.Itoa(entry.RowNumber))
	}
	field("Field", entry.FieldName)
	field("Value", entry.FieldValue)
	field("Missing", strings.Join(entry.MissingColumns, ", "))
	fmt.Fprintln(w)
}

// ProcessingSummary describes a batch run.
type ProcessingSummary struct {
	RunID           string              `yaml:"run_id"`
	StartTime       time.Time           `yaml:"start_time"`
	EndTime         time.Time           `yaml:"end_time"`
	TotalFiles      int                 `yaml:"total_files"`
	SuccessfulFiles int                 `yaml:"successful_files"`
	FailedFiles     int                 `yaml:"failed_files"`
	TotalRows       int                 `yaml:"total_rows"`
	TotalSacks      int64               `yaml:"total_sacks"`
	TotalGrossKg    decimal.Decimal     `yaml:"total_gross_kg"`
	ProcessedFiles  []ProcessedFileInfo `yaml:"processed,omitempty"`
	FailedFilesList []FailedFileInfo    `yaml:"failed,omitempty"`
}

// ProcessedFileInfo describes a successfully processed file.
type ProcessedFileInfo struct {
	InputFile      string          `yaml:"input"`
	OutputFiles    []string        `yaml:"outputs"`
	ArchivePath    string          `yaml:"archived_to,omitempty"`
	Station        string          `yaml:"station,omitempty"`
	DeliveryNumber string          `yaml:"delivery_number,omitempty"`
	Rows           int             `yaml:"rows"`
	Sacks          int64           `yaml:"sacks"`
	GrossKg        decimal.Decimal `yaml:"gross_kg"`
	ProcessTime    time.Duration   `yaml:"duration"`
}

// FailedFileInfo describes a failed file.
type FailedFileInfo struct {
	InputFile    string `yaml:"input"`
	ErrorType    string `yaml:"error_type"`
	ErrorMessage string `yaml:"error"`
}

// WriteSummary writes the run summary as YAML to OutputDir and returns its
// path.
func (fm *FileManager) WriteSummary(summary ProcessingSummary) (string, error) {
	return fm.writeReport("processing_summary", ".yaml", func(w *bufio.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(summary); err != nil {
			return err
		}
		return enc.Close()
	})
}

// writeReport creates <prefix>_<timestamp><ext> in OutputDir and fills it
// with write.
func (fm *FileManager) writeReport(prefix, ext string, write func(w *bufio.Writer) error) (string, error) {
	path := filepath.Join(fm.OutputDir, prefix+"_"+fm.now().Format("20060102_150405")+ext)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := write(w); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return destFile.Sync()
}

// FileExists checks if a regular file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
