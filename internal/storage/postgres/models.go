package postgres

import (
	"time"

	"github.com/google/uuid"
)

// CallRecordModel maps to the "call_records" table.
// No UpdatedAt or DeletedAt: rows are never modified, only pruned by age.
// Args is stored as JSON text so the same model works on SQLite.
type CallRecordModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	CallID     string    `gorm:"index;not null"`
	Caller     string
	Operation  string `gorm:"index;not null"`
	Root       string `gorm:"not null"`
	Args       string `gorm:"type:text;not null;default:'{}'"`
	Success    bool   `gorm:"not null"`
	Kind       string
	Output     string `gorm:"type:text"`
	DurationMS int64
	CreatedAt  time.Time `gorm:"index"`
}

func (CallRecordModel) TableName() string { return "call_records" }

// Models lists every model, in dependency order, for AutoMigrate.
func Models() []any {
	return []any{&CallRecordModel{}}
}
