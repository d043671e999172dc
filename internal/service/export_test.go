package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"renttrack/internal/clients"
	"renttrack/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newExportFixture(t *testing.T) (*fixture, *ExportService, *clients.StorageClient) {
	t.Helper()
	f := newFixture(t)
	storage, err := clients.NewLocalStorage(t.TempDir(), "/files", "")
	require.NoError(t, err)

	svc := NewExportService(NewArrearsService(f.store, f.opts), f.redis, storage, nil, clients.NewWebSocketClient(nil), nil)
	svc.now = func() time.Time { return testNow }
	return f, svc, storage
}

func waitExport(t *testing.T, svc *ExportService, id string) *ExportStatus {
	t.Helper()
	var st *ExportStatus
	require.Eventually(t, func() bool {
		got, err := svc.GetExport(context.Background(), id)
		if err != nil {
			return false
		}
		st = got
		return got.Progress == 100 || got.Stage == "failed"
	}, 5*time.Second, 20*time.Millisecond)
	return st
}

func TestArrearsExport_WritesWorkbook(t *testing.T) {
	f, svc, storage := newExportFixture(t)
	f.store.AddTenant(domain.Tenant{PropertyID: f.property.ID, Name: "Alice", Email: strp("alice@example.com"), MoveInDate: day(2024, time.January, 1)})
	f.charge(t, "1000.00", day(2024, time.February, 1))

	id, err := svc.StartArrearsExport(context.Background(), "ops")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "exports:"))

	st := waitExport(t, svc, id)
	require.Empty(t, st.Error)
	require.NotNil(t, st.FileURL)
	assert.Equal(t, "ready", st.Stage)
	assert.True(t, strings.HasPrefix(*st.FileURL, "/files/"))
	assert.True(t, strings.HasPrefix(st.FileName, "arrears_20240315_103000_"))
	assert.Equal(t, st.FileName, filepath.Base(*st.FileURL))

	path, err := storage.Path(filepath.Base(*st.FileURL))
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows(arrearsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Tenant", rows[0][0])
	assert.Equal(t, "Alice", rows[1][0])
	assert.Equal(t, "alice@example.com", rows[1][1])
	assert.Equal(t, "2024-02-01", rows[1][6])
	assert.Equal(t, "1,000.00", rows[1][8])

	stored, err := wb.GetCellValue(arrearsSheet, "I2", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "1000.00", stored)
}

func TestArrearsExport_EmptyReport(t *testing.T) {
	_, svc, _ := newExportFixture(t)

	id, err := svc.StartArrearsExport(context.Background(), "ops")
	require.NoError(t, err)

	st := waitExport(t, svc, id)
	assert.Empty(t, st.Error)
	assert.Equal(t, float64(100), st.Progress)
}

func TestListExports(t *testing.T) {
	f, svc, _ := newExportFixture(t)
	ctx := context.Background()

	first, err := svc.StartArrearsExport(ctx, "ops")
	require.NoError(t, err)
	waitExport(t, svc, first)

	svc.now = func() time.Time { return testNow.Add(time.Minute) }
	second, err := svc.StartArrearsExport(ctx, "ops")
	require.NoError(t, err)
	waitExport(t, svc, second)

	list, err := svc.ListExports(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].Key)
	assert.Equal(t, first, list[1].Key)

	f.mr.Del("test:" + first)
	list, err = svc.ListExports(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	members, err := f.redis.SMembers(ctx, exportSetKey)
	require.NoError(t, err)
	assert.Equal(t, []string{second}, members)
}

func TestGetExport_Missing(t *testing.T) {
	_, svc, _ := newExportFixture(t)

	_, err := svc.GetExport(context.Background(), "exports:nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
