// =============================================================================
// Loyalty KPI Engine - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for the runs, including:
//   - Input discovery (newest export matching a pattern)
//   - Input archival (moving ingested exports)
//   - Output file naming
//   - Data quality and run summary logs
//
// ARCHIVAL STRATEGY:
//   - Input files are moved to input_archive after a successful ingest
//   - Failed runs leave their inputs in place so they can be re-run
//   - Logs are created in the output directory
//
// =============================================================================

package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoInput is returned when no file matches a discovery pattern.
var ErrNoInput = errors.New("no matching input file")

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the runs.
type FileManager struct {
	// InputDir is the directory where exports are dropped.
	InputDir string

	// OutputDir receives reports, snapshots and logs.
	OutputDir string

	// InputArchiveDir is the directory for archived exports.
	InputArchiveDir string

	// UseTimestampSubdirs creates date-based subdirectories in the archive.
	// Example: input_archive/2024/01/15/transactions.csv
	UseTimestampSubdirs bool

	// ArchiveOnSuccess determines whether ingested files are archived.
	ArchiveOnSuccess bool
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, outputDir, inputArchiveDir string) *FileManager {
	return &FileManager{
		InputDir:         inputDir,
		OutputDir:        outputDir,
		InputArchiveDir:  inputArchiveDir,
		ArchiveOnSuccess: true,
	}
}

// EnsureDirectories creates all required directories if they don't exist.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.InputDir, fm.OutputDir, fm.InputArchiveDir} {
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

// DiscoverFiles returns the regular files in dir matching a glob pattern,
// sorted by name.
//
// PARAMETERS:
//   - dir: The directory to scan.
//   - pattern: A glob pattern matched against file names (e.g., "*.csv").
//     If empty, defaults to "*.csv".
//
// RETURNS:
//   - A slice of file paths.
//   - An error if the pattern is malformed.
func DiscoverFiles(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.csv"
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	var result []string
	for _, file := range matches {
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			continue
		}
		result = append(result, file)
	}
	slices.Sort(result)
	return result, nil
}

// LatestInput returns the most recently modified file in InputDir matching
// pattern. Ties are broken by name so the choice is stable.
//
// RETURNS:
//   - The file path.
//   - ErrNoInput (wrapped) if nothing matches.
func (fm *FileManager) LatestInput(pattern string) (string, error) {
	files, err := DiscoverFiles(fm.InputDir, pattern)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w: %s in %s", ErrNoInput, pattern, fm.InputDir)
	}

	latest := files[0]
	latestMod, _ := GetFileModTime(latest)
	for _, file := range files[1:] {
		mod, err := GetFileModTime(file)
		if err != nil {
			continue
		}
		if !mod.Before(latestMod) {
			latest, latestMod = file, mod
		}
	}
	return latest, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an input file to the archive directory.
//
// PARAMETERS:
//   - filePath: The path to the file to archive.
//
// RETURNS:
//   - The path to the archived file.
//   - An error if archival fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	if !fm.ArchiveOnSuccess {
		return filePath, nil
	}

	archivePath := fm.getArchivePath(filePath, time.Now())

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// If rename fails (e.g., cross-device), try copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	return archivePath, nil
}

// getArchivePath constructs the archive path for a file. An archived file of
// the same name is never overwritten.
func (fm *FileManager) getArchivePath(filePath string, now time.Time) string {
	dir := fm.InputArchiveDir
	if fm.UseTimestampSubdirs {
		dir = filepath.Join(dir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
		)
	}

	name := filepath.Base(filePath)
	path := filepath.Join(dir, name)
	if !FileExists(path) {
		return path
	}

	ext := filepath.Ext(name)
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", strings.TrimSuffix(name, ext), now.Format("20060102_150405"), ext))
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// GenerateOutputFileName generates an output file name.
//
// PARAMETERS:
//   - format: The format string for the file name.
//     Placeholders:
//     {uuid}      - A random UUID
//     {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//     {date}      - Current date (YYYYMMDD)
//     {time}      - Current time (HHMMSS)
//     {table}     - Published table name (via params)
//   - ext: The extension to enforce, with its dot (e.g., ".xlsx").
//   - params: Additional placeholder values.
//
// EXAMPLE:
//
//	format: "{table}_{date}"
//	params: {"table": "KPI_Fidelite"}
//	output: "KPI_Fidelite_20240115.xlsx"
func GenerateOutputFileName(format, ext string, params map[string]string) string {
	now := time.Now()

	replacements := map[string]string{
		"{uuid}":      uuid.New().String(),
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}
	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	if ext != "" && !strings.HasSuffix(strings.ToLower(result), strings.ToLower(ext)) {
		result += ext
	}
	return result
}

// =============================================================================
// DATA QUALITY LOG
// =============================================================================

// DataQualityEntry is one data quality finding of a run.
type DataQualityEntry struct {
	Kind    string
	Source  string
	Key     string
	Message string
}

// WriteDataQualityLog writes data quality findings to a log file. Nothing is
// written when entries is empty.
//
// RETURNS:
//   - The path to the log file, or "" when nothing was written.
//   - An error if writing fails.
func WriteDataQualityLog(entries []DataQualityEntry, outputDir string) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	logPath := filepath.Join(outputDir, fmt.Sprintf("data_quality_%s.txt", time.Now().Format("20060102_150405")))
	file, err := os.Create(logPath)
	if err != nil {
		return "", fmt.Errorf("failed to create data quality log: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	fmt.Fprintf(writer, "Loyalty KPI - Data Quality Log\n"+
		"Generated: %s\n"+
		"Findings: %d\n"+
		"================================================================================\n\n",
		time.Now().Format("2006-01-02 15:04:05"), len(entries))

	for i, entry := range entries {
		fmt.Fprintf(writer, "#%d %s\n", i+1, entry.Kind)
		if entry.Source != "" {
			fmt.Fprintf(writer, "  Source:  %s\n", entry.Source)
		}
		if entry.Key != "" {
			fmt.Fprintf(writer, "  Key:     %s\n", entry.Key)
		}
		fmt.Fprintf(writer, "  Message: %s\n\n", entry.Message)
	}

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush data quality log: %w", err)
	}
	return logPath, nil
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// RunSummary contains summary information about one run.
type RunSummary struct {
	RunID     string
	Command   string
	StartTime time.Time
	EndTime   time.Time
	Success   bool

	TransactionsFile string
	CouponsFile      string
	LineItems        int
	Coupons          int
	TicketsAdded     int
	TicketsSkipped   int
	CouponsUpserted  int
	KpiRows          int

	Stage        string
	Error        string
	PublishError string
	Warnings     []string
	Outputs      []string
}

// WriteSummaryLog writes a run summary to a log file.
//
// RETURNS:
//   - The path to the summary file.
//   - An error if writing fails.
func WriteSummaryLog(summary RunSummary, outputDir string) (string, error) {
	summaryPath := filepath.Join(outputDir, fmt.Sprintf("run_summary_%s.txt", summary.StartTime.Format("20060102_150405")))

	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	status := "SUCCESS"
	if !summary.Success {
		status = "FAILED"
	}

	fmt.Fprintf(writer, "Loyalty KPI - Run Summary\n"+
		"================================================================================\n\n"+
		"Run Information:\n"+
		"  Run ID:         %s\n"+
		"  Command:        %s\n"+
		"  Status:         %s\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n\n",
		summary.RunID,
		summary.Command,
		status,
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Sub(summary.StartTime).String())

	if summary.TransactionsFile != "" || summary.CouponsFile != "" {
		fmt.Fprintf(writer, "Inputs:\n"+
			"  Transactions:   %s\n"+
			"  Coupons:        %s\n\n",
			summary.TransactionsFile, summary.CouponsFile)
	}

	fmt.Fprintf(writer, "Statistics:\n"+
		"  Line Items:       %d\n"+
		"  Coupons:          %d\n"+
		"  Tickets Added:    %d\n"+
		"  Tickets Skipped:  %d\n"+
		"  Coupons Upserted: %d\n"+
		"  KPI Rows:         %d\n\n",
		summary.LineItems,
		summary.Coupons,
		summary.TicketsAdded,
		summary.TicketsSkipped,
		summary.CouponsUpserted,
		summary.KpiRows)

	if summary.Error != "" {
		fmt.Fprintf(writer, "Error (stage %s):\n  %s\n\n", summary.Stage, summary.Error)
	}
	if summary.PublishError != "" {
		fmt.Fprintf(writer, "Publish Error:\n  %s\n\n", summary.PublishError)
	}

	writeSection(writer, "Warnings", summary.Warnings)
	writeSection(writer, "Outputs", summary.Outputs)

	writer.WriteString("================================================================================\n" +
		"End of Summary\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return summaryPath, nil
}

func writeSection(w *bufio.Writer, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	w.WriteString("--------------------------------------------------------------------------------\n")
	for _, line := range lines {
		fmt.Fprintf(w, "  %s\n", line)
	}
	w.WriteString("\n")
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

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetFileModTime returns the modification time of a file.
func GetFileModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
