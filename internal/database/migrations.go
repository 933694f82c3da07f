package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeBlankAuthors = "2024-03-01_normalize_blank_authors"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeBlankAuthors, apply: normalizeBlankAuthors},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeBlankAuthors attributes rows written before authors were defaulted.
func normalizeBlankAuthors(tx *gorm.DB) error {
	if err := tx.Model(&notes.NoteRecord{}).
		Where("trim(author) = ''").
		Update("author", notes.AnonymousAuthor).Error; err != nil {
		return err
	}
	return tx.Model(&notes.HistoryRecord{}).
		Where("trim(author) = ''").
		Update("author", notes.AnonymousAuthor).Error
}
