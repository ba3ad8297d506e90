package repository

import (
	"context"

	"github.com/careguide/backend/internal/model"
	"gorm.io/gorm"
)

type appointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) AppointmentRepository {
	return &appointmentRepository{db: db}
}

func (r *appointmentRepository) Create(ctx context.Context, change *model.AppointmentChange) error {
	return r.db.WithContext(ctx).Create(change).Error
}

func (r *appointmentRepository) ListByThread(ctx context.Context, threadID string) ([]model.AppointmentChange, error) {
	var changes []model.AppointmentChange
	err := r.db.WithContext(ctx).Where("thread_id = ?", threadID).Order("id").Find(&changes).Error
	return changes, err
}
