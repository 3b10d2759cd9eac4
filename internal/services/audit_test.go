package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/utils"
)

type uploadedObject struct {
	name        string
	contentType string
	body        []byte
}

type recordingUploader struct {
	mu      sync.Mutex
	objects []uploadedObject
	err     error
}

func (u *recordingUploader) Upload(_ context.Context, name string, reader io.Reader, _ int64, contentType string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	body, _ := io.ReadAll(reader)
	u.objects = append(u.objects, uploadedObject{name: name, contentType: contentType, body: body})
	return nil
}

func TestNewAuditService(t *testing.T) {
	db := setupServiceTestDB(t)
	service := NewAuditService(db, nil)
	defer service.Close()

	if service.DB != db {
		t.Fatal("expected DB to be set")
	}
}

func TestAuditService_LogAsync(t *testing.T) {
	db := setupServiceTestDB(t)
	service := NewAuditService(db, nil)
	service.Clock = newFixedClock()
	user := createTestUser(t, db, "audited")

	service.LogAsync(AuditEntry{
		UserID:       &user.ID,
		Action:       "token.create",
		ResourceType: "token",
		Details:      map[string]interface{}{"renewable": true},
		IPAddress:    "127.0.0.1",
		RequestID:    "req-123",
	})
	service.Close()

	var log models.AuditLog
	if err := db.Where("action = ?", "token.create").First(&log).Error; err != nil {
		t.Fatalf("expected audit log to be created: %v", err)
	}
	if log.UserID == nil || *log.UserID != user.ID || log.RequestID != "req-123" {
		t.Fatalf("unexpected audit row %+v", log)
	}
	if log.Details["renewable"] != true {
		t.Fatalf("expected details to round trip, got %v", log.Details)
	}
}

func TestAuditService_List(t *testing.T) {
	db := setupServiceTestDB(t)
	service := NewAuditService(db, nil)
	defer service.Close()
	userID := uuid.New()

	for _, action := range []string{"user.register", "user.activate", "token.create"} {
		db.Create(&models.AuditLog{UserID: &userID, Action: action, ResourceType: strings.Split(action, ".")[0], IPAddress: "::1"})
	}
	db.Create(&models.AuditLog{Action: "company.create", ResourceType: "company", IPAddress: "::1"})

	page := utils.PaginationParams{Page: 1, Limit: 20}

	logs, total, err := service.List(context.Background(), AuditFilter{UserID: &userID}, page)
	if err != nil || total != 3 || len(logs) != 3 {
		t.Fatalf("expected 3 logs for the user, got %d/%d (%v)", len(logs), total, err)
	}

	logs, total, err = service.List(context.Background(), AuditFilter{ResourceType: "company"}, page)
	if err != nil || total != 1 || logs[0].Action != "company.create" {
		t.Fatalf("expected the company log, got %v (%v)", logs, err)
	}
}

func TestAuditService_Export(t *testing.T) {
	ctx := context.Background()

	t.Run("ships new rows once", func(t *testing.T) {
		db := setupServiceTestDB(t)
		uploader := &recordingUploader{}
		service := NewAuditService(db, uploader)
		defer service.Close()
		service.Clock = newFixedClock()

		for _, action := range []string{"user.register", "user.activate"} {
			db.Create(&models.AuditLog{Action: action, ResourceType: "user", IPAddress: "::1"})
		}

		n, err := service.Export(ctx)
		if err != nil || n != 2 {
			t.Fatalf("expected 2 exported rows, got %d (%v)", n, err)
		}
		if len(uploader.objects) != 1 {
			t.Fatalf("expected 1 upload, got %d", len(uploader.objects))
		}
		obj := uploader.objects[0]
		if obj.name != "audit-logs/2024/03/15/12-00-00.ndjson" || obj.contentType != "application/x-ndjson" {
			t.Fatalf("unexpected object %s (%s)", obj.name, obj.contentType)
		}

		lines := 0
		scanner := bufio.NewScanner(bytes.NewReader(obj.body))
		for scanner.Scan() {
			var row models.AuditLog
			if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
				t.Fatalf("invalid ndjson line: %v", err)
			}
			lines++
		}
		if lines != 2 {
			t.Fatalf("expected 2 lines, got %d", lines)
		}

		n, err = service.Export(ctx)
		if err != nil || n != 0 {
			t.Fatalf("expected nothing new to export, got %d (%v)", n, err)
		}

		var cursor models.AuditExportCursor
		db.First(&cursor)
		if cursor.ExportedCount != 2 {
			t.Fatalf("expected exported count 2, got %d", cursor.ExportedCount)
		}
	})

	t.Run("failed upload keeps the cursor", func(t *testing.T) {
		db := setupServiceTestDB(t)
		uploader := &recordingUploader{err: errors.New("bucket unavailable")}
		service := NewAuditService(db, uploader)
		defer service.Close()

		db.Create(&models.AuditLog{Action: "user.register", ResourceType: "user", IPAddress: "::1"})

		if _, err := service.Export(ctx); err == nil {
			t.Fatal("expected an upload error")
		}
		uploader.err = nil
		n, err := service.Export(ctx)
		if err != nil || n != 1 {
			t.Fatalf("expected the row to be retried, got %d (%v)", n, err)
		}
	})

	t.Run("no storage", func(t *testing.T) {
		db := setupServiceTestDB(t)
		service := NewAuditService(db, nil)
		defer service.Close()
		if n, err := service.Export(ctx); err != nil || n != 0 {
			t.Fatalf("expected a no-op, got %d (%v)", n, err)
		}
	})
}
