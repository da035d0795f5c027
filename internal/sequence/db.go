package sequence

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// AssessmentRecord is the relational form of one history entry, as written by
// the assessment export job.
type AssessmentRecord struct {
	ID            uint   `gorm:"primaryKey"`
	StudentID     string `gorm:"index;not null"`
	CanonicalCCSS string `gorm:"not null"`
	NormalizedDOK int
	AssessmentSeq int
	Score         *float64
}

func (AssessmentRecord) TableName() string { return "student_assessments" }

// LoadSQLite loads the full assessment table from a sqlite file.
func LoadSQLite(path string) (*Repository, error) {
	return loadDB(sqlite.Open(path))
}

// LoadPostgres loads the full assessment table from Postgres.
func LoadPostgres(dsn string) (*Repository, error) {
	return loadDB(postgres.Open(dsn))
}

// loadDB reads every record once at startup; the connection is not kept. The
// repository never reloads, so drift between the table and the index is
// resolved only by restarting the process.
func loadDB(dialector gorm.Dialector) (*Repository, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sequence db: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	var records []AssessmentRecord
	if err := db.Order("student_id, assessment_seq").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load sequences: %w", err)
	}

	m := map[string][]Entry{}
	for _, rec := range records {
		m[rec.StudentID] = append(m[rec.StudentID], Entry{
			Code:  rec.CanonicalCCSS,
			DOK:   rec.NormalizedDOK,
			Seq:   rec.AssessmentSeq,
			Score: rec.Score,
		})
	}
	return FromMap(m), nil
}
