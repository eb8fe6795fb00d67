package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Jazzman94/agentai/internal/audit"
)

// AuditRepository implements audit.Store with GORM.
// Rows are never updated. Prune is the only delete path.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a single call record. This is the only write method.
func (r *AuditRepository) Append(ctx context.Context, e audit.Entry) error {
	model := toCallRecordModel(e)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending call record: %w", err)
	}
	return nil
}

// Recent returns call records, newest first.
// If operation is non-empty, filters to that operation. Limit defaults to 100.
func (r *AuditRepository) Recent(ctx context.Context, operation string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit)

	if operation != "" {
		q = q.Where("operation = ?", operation)
	}

	var models []CallRecordModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying call records: %w", err)
	}

	entries := make([]audit.Entry, len(models))
	for i := range models {
		entries[i] = toAuditEntry(&models[i])
	}
	return entries, nil
}

// Prune deletes call records created before cutoff and reports how many
// were removed.
func (r *AuditRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&CallRecordModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning call records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

var (
	_ audit.Store  = (*AuditRepository)(nil)
	_ audit.Pruner = (*AuditRepository)(nil)
)
