package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrFileExists   = errors.New("file already exists")
)

const (
	exportStampLayout = "20060102_150405"
	exportIDLength    = 8
)

var (
	reportNameChars = regexp.MustCompile(`[^a-z0-9-]+`)
	// <report>_<YYYYMMDD>_<HHMMSS>_<id>.xlsx
	exportFilePattern = regexp.MustCompile(`^([a-z0-9-]+_\d{8}_\d{6})_([0-9a-z]{1,8})\.xlsx$`)
)

// ExportFileName names the workbook of one export. The export id keeps names
// unique when two exports of the same report start within a second.
func ExportFileName(report string, at time.Time, exportID string) string {
	report = strings.Trim(reportNameChars.ReplaceAllString(strings.ToLower(report), "-"), "-")
	if report == "" {
		report = "report"
	}

	id := strings.ToLower(strings.ReplaceAll(exportID, "-", ""))
	id = reportNameChars.ReplaceAllString(id, "")
	if len(id) > exportIDLength {
		id = id[:exportIDLength]
	}
	if id == "" {
		id = "0"
	}
	return fmt.Sprintf("%s_%s_%s.xlsx", report, at.UTC().Format(exportStampLayout), id)
}

// StorageClient keeps generated export workbooks on local disk until the
// retention sweep removes them.
type StorageClient struct {
	BaseDir      string
	PublicPrefix string // URL prefix the files are served under, e.g. "/files"
	BaseURL      string // optional scheme+host used to build absolute URLs
}

// NewLocalStorage creates baseDir when missing.
func NewLocalStorage(baseDir, publicPrefix, baseURL string) (*StorageClient, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if publicPrefix == "" {
		publicPrefix = "/files"
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure export dir %q: %w", baseDir, err)
	}

	return &StorageClient{BaseDir: baseDir, PublicPrefix: publicPrefix, BaseURL: baseURL}, nil
}

// Save writes an export workbook under the name built by ExportFileName.
// It never overwrites an existing export.
func (s *StorageClient) Save(ctx context.Context, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !exportFilePattern.MatchString(fileName) {
		return "", fmt.Errorf("save %q: not an export file name", fileName)
	}

	path := filepath.Join(s.BaseDir, fileName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("save %q: %w", fileName, ErrFileExists)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %q: %w", fileName, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize %q: %w", fileName, err)
	}
	return fileName, nil
}

// GetURL builds BaseURL + PublicPrefix + "/" + fileName, or a relative URL
// when no BaseURL is configured.
func (s *StorageClient) GetURL(fileName string) string {
	prefix := "/" + strings.Trim(s.PublicPrefix, "/")
	if prefix == "/" {
		prefix = "/files"
	}
	return strings.TrimRight(s.BaseURL, "/") + prefix + "/" + fileName
}

// Path resolves a saved export inside BaseDir.
func (s *StorageClient) Path(fileName string) (string, error) {
	if !exportFilePattern.MatchString(fileName) {
		return "", ErrFileNotFound
	}
	path := filepath.Join(s.BaseDir, fileName)
	if _, err := os.Stat(path); err != nil {
		return "", ErrFileNotFound
	}
	return path, nil
}

// ServeFile sends an export as an attachment named without its id suffix,
// e.g. arrears_20240315_103000.xlsx.
func (s *StorageClient) ServeFile(w http.ResponseWriter, r *http.Request, fileName string) {
	path, err := s.Path(fileName)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	download := exportFilePattern.FindStringSubmatch(fileName)[1] + ".xlsx"
	w.Header().Set("Content-Disposition", `attachment; filename="`+download+`"`)
	http.ServeFile(w, r, path)
}

// CleanupOlderThan removes exports and abandoned temp files older than d and
// returns how many it removed. Other files in BaseDir are left alone.
func (s *StorageClient) CleanupOlderThan(d time.Duration) (int, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return 0, fmt.Errorf("read export dir: %w", err)
	}

	cutoff := time.Now().Add(-d)
	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !exportFilePattern.MatchString(strings.TrimSuffix(name, ".tmp")) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.BaseDir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
