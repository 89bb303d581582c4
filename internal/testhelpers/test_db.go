package testhelpers

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/yoockh/yoointerview/config"
	"github.com/yoockh/yoointerview/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dsnReplacer = strings.NewReplacer("/", "_", " ", "_")

// SetupTestDB creates an isolated in-memory SQLite database with the interview schema.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", dsnReplacer.Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// one connection keeps the shared in-memory db alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := config.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// SetupTestRedis starts a miniredis instance closed at test cleanup.
func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

// SeedApplication inserts an interview-eligible application with a slot starting at slot.
func SeedApplication(t *testing.T, db *gorm.DB, slot time.Time) *models.Application {
	t.Helper()

	slot = slot.UTC()
	end := slot.Add(time.Hour)
	app := &models.Application{
		ID:           uuid.NewString(),
		CandidateID:  uuid.NewString(),
		Position:     "backend engineer",
		Skills:       []string{"go", "postgres"},
		Status:       models.ApplicationEligible,
		SlotStartsAt: &slot,
		SlotEndsAt:   &end,
		UpdatedAt:    slot,
	}
	if err := db.Create(app).Error; err != nil {
		t.Fatalf("failed to seed application: %v", err)
	}
	return app
}
