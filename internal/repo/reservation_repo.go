// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ReservationRequest model (the per-title FIFO queue).
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
)

var openReservation = []domain.ReservationStatus{domain.ReservationQueued, domain.ReservationAllocated}

// CreateReservation inserts a queued request and fills in its ID.
func CreateReservation(ctx context.Context, tx *gorm.DB, r *domain.ReservationRequest) error {
	return tx.WithContext(ctx).Create(r).Error
}

// GetReservation fetches a reservation by ID or returns ErrNotFound.
func GetReservation(ctx context.Context, db *gorm.DB, id uint64) (*domain.ReservationRequest, error) {
	var r domain.ReservationRequest
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetOpenReservation returns the reader's queued or allocated reservation, or
// ErrNotFound. A reader has at most one.
func GetOpenReservation(ctx context.Context, db *gorm.DB, readerID string) (*domain.ReservationRequest, error) {
	var r domain.ReservationRequest
	err := forUpdate(db.WithContext(ctx)).
		Where("reader_id = ? AND status IN ?", readerID, openReservation).
		Order("id ASC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// NextQueued returns the oldest queued request for isbn (FIFO by request
// time, ties broken by ID), or ErrNotFound.
func NextQueued(ctx context.Context, tx *gorm.DB, isbn string) (*domain.ReservationRequest, error) {
	var r domain.ReservationRequest
	err := forUpdate(tx.WithContext(ctx)).
		Where("isbn = ? AND status = ?", isbn, domain.ReservationQueued).
		Order("requested_at ASC, id ASC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetAllocatedByBarcode returns the allocated reservation holding a copy, or
// ErrNotFound.
func GetAllocatedByBarcode(ctx context.Context, tx *gorm.DB, barcode string) (*domain.ReservationRequest, error) {
	var r domain.ReservationRequest
	err := forUpdate(tx.WithContext(ctx)).
		Where("barcode = ? AND status = ?", barcode, domain.ReservationAllocated).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListExpiredAllocations returns allocated reservations whose pickup window
// ended at or before now, oldest first.
func ListExpiredAllocations(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.ReservationRequest, error) {
	var out []domain.ReservationRequest
	err := db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", domain.ReservationAllocated, now).
		Order("expires_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// UpdateReservation moves a reservation from one status to another and sets
// its barcode and expiry. A nil barcode clears the column.
func UpdateReservation(ctx context.Context, tx *gorm.DB, id uint64, from, to domain.ReservationStatus, barcode *string, expiresAt time.Time) error {
	res := tx.WithContext(ctx).
		Model(&domain.ReservationRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "barcode": barcode, "expires_at": expiresAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// QueuePosition returns the 1-based position of a queued request in its
// title's queue.
func QueuePosition(ctx context.Context, db *gorm.DB, r *domain.ReservationRequest) (int64, error) {
	var ahead int64
	err := db.WithContext(ctx).
		Model(&domain.ReservationRequest{}).
		Where("isbn = ? AND status = ?", r.ISBN, domain.ReservationQueued).
		Where("requested_at < ? OR (requested_at = ? AND id < ?)", r.RequestedAt, r.RequestedAt, r.ID).
		Count(&ahead).Error
	return ahead + 1, err
}
