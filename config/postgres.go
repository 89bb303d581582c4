package config

import (
	"errors"
	"os"
	"time"

	"github.com/yoockh/yoointerview/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var PostgresDB *gorm.DB

func InitPostgres() error {
	uri := os.Getenv("POSTGRES_URI")
	if uri == "" {
		return errors.New("POSTGRES_URI environment variable is not set")
	}
	db, err := gorm.Open(postgres.Open(uri), &gorm.Config{
		// unique violations surface as gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	// Connection Pooling settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	PostgresDB = db
	return nil
}

// Migrate creates or updates the interview tables.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is nil; call InitPostgres() first")
	}
	return db.AutoMigrate(
		&models.Application{},
		&models.InterviewSession{},
		&models.InterviewQuestion{},
		&models.Answer{},
		&models.EvaluationResult{},
		&models.EvaluationArchive{},
	)
}
