package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exportAt = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

func TestExportFileName(t *testing.T) {
	tests := []struct {
		report, id, want string
	}{
		{"arrears", "3f2b9c1e-77aa-4c1d-9e0f-000000000000", "arrears_20240315_103000_3f2b9c1e.xlsx"},
		{"Arrears By Tenant", "ab", "arrears-by-tenant_20240315_103000_ab.xlsx"},
		{"../", "", "report_20240315_103000_0.xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.report, func(t *testing.T) {
			assert.Equal(t, tt.want, ExportFileName(tt.report, exportAt, tt.id))
		})
	}
}

func TestGetURL_AbsoluteAndRelative(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := NewLocalStorage(tmpDir, "/files", "http://example.com:8060/")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:8060/files/a.xlsx", c.GetURL("a.xlsx"))

	c2, err := NewLocalStorage(tmpDir, "files", "")
	require.NoError(t, err)
	assert.Equal(t, "/files/b.xlsx", c2.GetURL("b.xlsx"))
}

func TestSaveAndServeFile(t *testing.T) {
	c, err := NewLocalStorage(t.TempDir(), "/files", "")
	require.NoError(t, err)

	content := []byte("hello world")
	name := ExportFileName("arrears", exportAt, "3f2b9c1e")
	saved, err := c.Save(context.Background(), name, content)
	require.NoError(t, err)
	assert.Equal(t, name, saved)

	_, err = c.Save(context.Background(), name, content)
	assert.ErrorIs(t, err, ErrFileExists)
	_, err = c.Save(context.Background(), "../arrears.xlsx", content)
	assert.Error(t, err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.ServeFile(w, r, strings.TrimPrefix(r.URL.Path, "/files/"))
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + c.GetURL(saved))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="arrears_20240315_103000.xlsx"`)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)
}

func TestPath_RejectsTraversalAndMissing(t *testing.T) {
	c, err := NewLocalStorage(t.TempDir(), "/files", "")
	require.NoError(t, err)

	for _, name := range []string{"", "../etc/passwd", ".hidden", "notes.txt", ExportFileName("arrears", exportAt, "missing")} {
		_, err := c.Path(name)
		assert.ErrorIs(t, err, ErrFileNotFound, name)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	c, err := NewLocalStorage(dir, "/files", "")
	require.NoError(t, err)
	ctx := context.Background()

	oldName, err := c.Save(ctx, ExportFileName("arrears", exportAt, "aaaa"), []byte("x"))
	require.NoError(t, err)
	newName, err := c.Save(ctx, ExportFileName("arrears", exportAt, "bbbb"), []byte("y"))
	require.NoError(t, err)
	foreign := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("z"), 0o644))
	staleTmp := filepath.Join(dir, ExportFileName("arrears", exportAt, "cccc")+".tmp")
	require.NoError(t, os.WriteFile(staleTmp, []byte("w"), 0o644))

	past := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{filepath.Join(dir, oldName), foreign, staleTmp} {
		require.NoError(t, os.Chtimes(p, past, past))
	}

	removed, err := c.CleanupOlderThan(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = os.Stat(filepath.Join(dir, oldName))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(staleTmp)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, newName))
	assert.NoError(t, err)
	_, err = os.Stat(foreign)
	assert.NoError(t, err)
}
