package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"renttrack/internal/clients"
	"renttrack/internal/domain"
	"renttrack/internal/logging"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	exportKeyPrefix    = "exports:"
	exportSetKey       = "export_ids"
	exportTTL          = 20 * time.Minute
	exportURLTTL       = 48 * time.Hour
	exportProgressStep = 100
	arrearsSheet       = "Arrears"
)

type ExportStatus struct {
	Key         string    `json:"key"`
	Type        string    `json:"type"`
	RequestedBy string    `json:"requested_by,omitempty"`
	Progress    float64   `json:"progress"`
	Stage       string    `json:"stage,omitempty"`
	FileURL     *string   `json:"file_url"`
	FileName    string    `json:"file_name,omitempty"`
	Error       string    `json:"error,omitempty"`
	Created     time.Time `json:"created_at"`
}

type arrearsColumn struct {
	Header string
	Value  func(r domain.TenantArrears) any
}

var arrearsColumns = []arrearsColumn{
	{Header: "Tenant", Value: func(r domain.TenantArrears) any { return r.Tenant.Name }},
	{Header: "Email", Value: func(r domain.TenantArrears) any { return strPtr(r.Tenant.Email) }},
	{Header: "Phone", Value: func(r domain.TenantArrears) any { return strPtr(r.Tenant.Phone) }},
	{Header: "Address", Value: func(r domain.TenantArrears) any { return r.Property.Address }},
	{Header: "City", Value: func(r domain.TenantArrears) any { return r.Property.City }},
	{Header: "Overdue charges", Value: func(r domain.TenantArrears) any { return len(r.Charges) }},
	{Header: "Oldest due date", Value: func(r domain.TenantArrears) any { return r.OldestDueDate.Format(domain.DateLayout) }},
	{Header: "Days overdue", Value: func(r domain.TenantArrears) any { return r.DaysOverdue }},
	{Header: "Total outstanding", Value: func(r domain.TenantArrears) any { return moneyCell(r.TotalOutstanding) }},
}

// moneyCell is written as a numeric cell from its exact decimal text.
type moneyCell decimal.Decimal

func (m moneyCell) String() string {
	return decimal.Decimal(m).StringFixed(domain.CurrencyScale)
}

func strPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ExportService builds arrears spreadsheets in the background and tracks
// their progress in redis.
type ExportService struct {
	arrears *ArrearsService
	redis   *clients.RedisClient
	storage *clients.StorageClient
	s3      *clients.S3Client
	ws      *clients.WebSocketClient
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewExportService(
	arrears *ArrearsService,
	redis *clients.RedisClient,
	storage *clients.StorageClient,
	s3 *clients.S3Client,
	ws *clients.WebSocketClient,
	logger logrus.FieldLogger,
) *ExportService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ExportService{
		arrears: arrears,
		redis:   redis,
		storage: storage,
		s3:      s3,
		ws:      ws,
		logger:  logger,
		now:     time.Now,
	}
}

// StartArrearsExport registers a new export and builds it asynchronously.
// The returned id can be polled with GetExport.
func (s *ExportService) StartArrearsExport(ctx context.Context, requestedBy string) (string, error) {
	if s.redis == nil {
		return "", errors.New("redis client not configured")
	}

	status := &ExportStatus{
		Key:         exportKeyPrefix + uuid.NewString(),
		Type:        "arrears",
		RequestedBy: requestedBy,
		Stage:       "queued",
		Created:     s.now(),
	}
	if err := s.saveExportStatus(ctx, status); err != nil {
		return "", fmt.Errorf("save export status: %w", err)
	}

	go s.runArrearsExport(context.WithoutCancel(ctx), status)

	return status.Key, nil
}

func (s *ExportService) runArrearsExport(ctx context.Context, status *ExportStatus) {
	log := s.logger.WithField("export_id", status.Key)

	fail := func(stage string, err error) {
		logging.LogError(s.logger, "export", "runArrearsExport", stage, status.Key, err)
		status.Error = err.Error()
		status.Stage = "failed"
		_ = s.saveExportStatus(ctx, status)
		_ = s.ws.NotifyExportFailed(ctx, status.Key, err.Error())
	}

	rows, err := s.arrears.ArrearsByTenant(ctx)
	if err != nil {
		fail("load arrears", err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), arrearsSheet); err != nil {
		fail("prepare sheet", err)
		return
	}
	_ = f.SetDocProps(&excelize.DocProperties{Creator: status.RequestedBy})

	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		fail("prepare sheet", err)
		return
	}

	for i, col := range arrearsColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(arrearsSheet, cell, col.Header)
	}

	total := len(rows)
	for i, r := range rows {
		for colIdx, col := range arrearsColumns {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, i+2)
			if m, ok := col.Value(r).(moneyCell); ok {
				_ = f.SetCellDefault(arrearsSheet, cell, m.String())
				_ = f.SetCellStyle(arrearsSheet, cell, cell, moneyStyle)
				continue
			}
			_ = f.SetCellValue(arrearsSheet, cell, col.Value(r))
		}

		if (i+1)%exportProgressStep == 0 || i == total-1 {
			// 100 is reserved for when the file URL is ready.
			progress := math.Min(math.Round(float64(i+1)/float64(total)*100), 90)
			s.progress(ctx, status, progress, "generating")
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		fail("write workbook", err)
		return
	}
	data := buf.Bytes()
	fileName := clients.ExportFileName(status.Type, status.Created, strings.TrimPrefix(status.Key, exportKeyPrefix))

	var url string
	if s.storage != nil {
		saved, err := s.storage.Save(ctx, fileName, data)
		if err != nil {
			fail("save file", err)
			return
		}
		url = s.storage.GetURL(saved)
	}

	if s.s3 != nil {
		s.progress(ctx, status, 95, "uploading")

		key, err := s.s3.UploadXLSX(ctx, fileName, data)
		if err != nil {
			fail("upload", err)
			return
		}
		url, err = s.s3.GetTemporaryURL(ctx, key, exportURLTTL)
		if err != nil {
			fail("presign", err)
			return
		}
	}

	if url == "" {
		fail("publish file", errors.New("no file storage configured"))
		return
	}

	status.FileURL = &url
	status.FileName = fileName
	s.progress(ctx, status, 100, "ready")
	_ = s.ws.NotifyExportComplete(ctx, status.Key, url, fileName)

	log.WithField("rows", total).Info("arrears export finished")
}

func (s *ExportService) progress(ctx context.Context, status *ExportStatus, progress float64, stage string) {
	status.Progress = progress
	status.Stage = stage
	if err := s.saveExportStatus(ctx, status); err != nil {
		logging.LogError(s.logger, "export", "progress", "save export status", status.Key, err)
	}
	_ = s.ws.NotifyExportProgress(ctx, status.Key, progress, stage)
}

func (s *ExportService) saveExportStatus(ctx context.Context, st *ExportStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, st.Key, string(data), exportTTL); err != nil {
		return err
	}
	return s.redis.SAdd(ctx, exportSetKey, st.Key)
}

// ListExports returns the exports still known to redis, newest first.
// Ids whose status expired are dropped from the index.
func (s *ExportService) ListExports(ctx context.Context) ([]ExportStatus, error) {
	if s.redis == nil {
		return nil, errors.New("redis client not configured")
	}

	keys, err := s.redis.SMembers(ctx, exportSetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get export keys: %w", err)
	}

	statuses := []ExportStatus{}
	for _, key := range keys {
		st, err := s.GetExport(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			_ = s.redis.SRem(ctx, exportSetKey, key)
			continue
		}
		if err != nil {
			continue
		}
		statuses = append(statuses, *st)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Created.After(statuses[j].Created)
	})
	return statuses, nil
}

func (s *ExportService) GetExport(ctx context.Context, exportID string) (*ExportStatus, error) {
	if s.redis == nil {
		return nil, errors.New("redis client not configured")
	}

	data, err := s.redis.Get(ctx, exportID)
	if errors.Is(err, clients.ErrCacheMiss) {
		return nil, fmt.Errorf("export %s: %w", exportID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var status ExportStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to parse export status: %w", err)
	}
	return &status, nil
}
