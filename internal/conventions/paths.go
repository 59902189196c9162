package conventions

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultDataDir is the default transcribeq data directory name (relative to home).
	DefaultDataDir = ".transcribeq"
	// UploadsDir is the subdirectory for persisted input audio.
	UploadsDir = "uploads"
	// RunsDir is the subdirectory for transcription outputs.
	RunsDir = "runs"
	// DBFile is the task registry database filename.
	DBFile = "transcribeq.db"

	// OutputExt is the extension of transcription output files.
	OutputExt = ".txt"
	// DefaultUploadName is used when a submission has no usable name.
	DefaultUploadName = "audio.wav"

	uploadPrefix    = "upload"
	timestampLayout = "2006_01_02_15_04_05"
	shortIDLen      = 8
)

// UploadsPath returns the uploads directory inside a data directory.
func UploadsPath(dataDir string) string {
	return filepath.Join(dataDir, UploadsDir)
}

// RunsPath returns the outputs directory inside a data directory.
func RunsPath(dataDir string) string {
	return filepath.Join(dataDir, RunsDir)
}

// DBPath returns the task registry database path inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName strips any directory and unsafe characters from a client provided name.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return DefaultUploadName
	}
	return name
}

// UploadFileName returns the stored name of an upload: upload-<timestamp>-<short id>-<name>.
// The id part keeps two uploads with the same name in the same second apart.
func UploadFileName(t time.Time, id, name string) string {
	short := strings.ToLower(id)
	if len(short) > shortIDLen {
		short = short[len(short)-shortIDLen:]
	}
	return fmt.Sprintf("%s-%s-%s-%s", uploadPrefix, t.UTC().Format(timestampLayout), short, SanitizeName(name))
}

// OutputFileName returns the output file name for an input path: the input base name
// without extension plus the output extension.
func OutputFileName(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + OutputExt
}
