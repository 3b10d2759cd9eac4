package database

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/utils"
	"gorm.io/gorm"
)

func setupDatabaseTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("failed migrating: %v", err)
	}
	return db
}

func TestMigrate(t *testing.T) {
	db := setupDatabaseTestDB(t)

	t.Run("is idempotent", func(t *testing.T) {
		if err := Migrate(db); err != nil {
			t.Fatalf("expected second migration to succeed, got %v", err)
		}
	})

	t.Run("company names are unique ignoring case", func(t *testing.T) {
		first := models.Company{Name: "Acme", LicenseType: models.LicenseTypeCommercial, LicenseStatus: models.LicenseStatusRegular, LicenseModel: models.LicenseModelFull}
		if err := db.Create(&first).Error; err != nil {
			t.Fatalf("failed creating company: %v", err)
		}
		second := models.Company{Name: "ACME", LicenseType: models.LicenseTypeCommercial, LicenseStatus: models.LicenseStatusRegular, LicenseModel: models.LicenseModelFull}
		if err := db.Create(&second).Error; err == nil {
			t.Fatal("expected duplicate company name to be rejected")
		}
	})
}

func TestSeedAdminUser(t *testing.T) {
	db := setupDatabaseTestDB(t)

	if err := seedAdminUser(db); err != nil {
		t.Fatalf("seedAdminUser returned error: %v", err)
	}
	if err := seedAdminUser(db); err != nil {
		t.Fatalf("second seedAdminUser returned error: %v", err)
	}

	var admins []models.User
	if err := db.Where("role = ?", models.UserRoleAdmin).Find(&admins).Error; err != nil {
		t.Fatalf("failed loading admins: %v", err)
	}
	if len(admins) != 1 {
		t.Fatalf("expected exactly one admin, got %d", len(admins))
	}
	if !admins[0].Activated || !admins[0].Approved {
		t.Fatalf("expected seeded admin to be activated and approved, got %+v", admins[0])
	}
	if !utils.CheckPassword("admin123", admins[0].PasswordHash) {
		t.Fatal("expected seeded admin password to match")
	}
}

func TestConnectRedisDisabled(t *testing.T) {
	client, err := ConnectRedis(config.RedisConfig{})
	if err != nil {
		t.Fatalf("expected no error for disabled redis, got %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client when redis is not configured")
	}
}
