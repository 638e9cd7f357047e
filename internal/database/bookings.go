package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stayops/internal/models"
)

// CreateProperty inserts a property if it does not exist yet.
func (s *Store) CreateProperty(ctx context.Context, property *models.Property) error {
	query := `INSERT INTO properties (name, total_units, is_active) VALUES (?, ?, ?)
              ON CONFLICT(name) DO UPDATE SET total_units = excluded.total_units, is_active = excluded.is_active`
	result, err := s.db.ExecContext(ctx, query, property.Name, property.TotalUnits, property.IsActive)
	if err != nil {
		return fmt.Errorf("failed to create property: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil && property.ID == 0 {
		property.ID = id
	}
	return nil
}

// GetProperty returns a property by id.
func (s *Store) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	query := `SELECT id, name, total_units, is_active FROM properties WHERE id = ?`
	var p models.Property
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.TotalUnits, &p.IsActive)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateBooking inserts a booking and fills in its id and timestamps.
func (s *Store) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.Status == "" {
		booking.Status = models.StatusPending
	}
	now := time.Now()

	query := `INSERT INTO bookings (property_id, guest_name, guest_email, phone, check_in, check_out, status, comment, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		booking.PropertyID,
		booking.GuestName,
		booking.GuestEmail,
		booking.Phone,
		booking.CheckIn,
		booking.CheckOut,
		booking.Status,
		booking.Comment,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	return nil
}

// GetBooking returns a booking by id.
func (s *Store) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT id, property_id, guest_name, guest_email, phone, check_in, check_out, status, comment, created_at, updated_at
              FROM bookings WHERE id = ?`
	var b models.Booking
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&b.PropertyID,
		&b.GuestName,
		&b.GuestEmail,
		&b.Phone,
		&b.CheckIn,
		&b.CheckOut,
		&b.Status,
		&b.Comment,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBookingStatus moves a booking between pending/confirmed/cancelled.
func (s *Store) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	return err
}

// GetBookedCount returns how many units of a property are taken on a night.
// A booking occupies every night from check_in inclusive to check_out
// exclusive.
func (s *Store) GetBookedCount(ctx context.Context, propertyID int64, date time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM bookings
              WHERE property_id = ?
              AND date(check_in) <= date(?)
              AND date(check_out) > date(?)
              AND status IN ('pending', 'confirmed')`
	dateStr := date.Format("2006-01-02")
	var count int64
	err := s.db.QueryRowContext(ctx, query, propertyID, dateStr, dateStr).Scan(&count)
	return count, err
}

// GetAvailability returns per-night availability for a property over a range.
func (s *Store) GetAvailability(ctx context.Context, propertyID int64, from time.Time, days int) ([]models.Availability, error) {
	property, err := s.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	var availability []models.Availability
	for i := 0; i < days; i++ {
		date := from.AddDate(0, 0, i)
		booked, err := s.GetBookedCount(ctx, propertyID, date)
		if err != nil {
			return nil, err
		}
		availability = append(availability, models.Availability{
			Date:       date,
			PropertyID: propertyID,
			Booked:     booked,
			Available:  property.TotalUnits - booked,
		})
	}
	return availability, nil
}

// GetRates returns nightly rates for a property over a range. Nights
// without a stored rate are skipped.
func (s *Store) GetRates(ctx context.Context, propertyID int64, from, to time.Time) ([]models.RateDay, error) {
	query := `SELECT property_id, date, price_cents, currency FROM rates
              WHERE property_id = ? AND date(date) >= date(?) AND date(date) <= date(?)
              ORDER BY date ASC`
	rows, err := s.db.QueryContext(ctx, query, propertyID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get rates: %w", err)
	}
	defer rows.Close()

	var rates []models.RateDay
	for rows.Next() {
		var r models.RateDay
		if err := rows.Scan(&r.PropertyID, &r.Date, &r.PriceCents, &r.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// UpsertRate sets the nightly price of a property for a date.
func (s *Store) UpsertRate(ctx context.Context, rate models.RateDay) error {
	query := `INSERT INTO rates (property_id, date, price_cents, currency) VALUES (?, ?, ?, ?)
              ON CONFLICT(property_id, date) DO UPDATE SET price_cents = excluded.price_cents, currency = excluded.currency`
	_, err := s.db.ExecContext(ctx, query, rate.PropertyID, rate.Date.Format("2006-01-02"), rate.PriceCents, rate.Currency)
	return err
}

// ListRecentBookings returns bookings created since a cutoff, used by
// reservation propagation.
func (s *Store) ListRecentBookings(ctx context.Context, propertyID int64, since time.Time) ([]models.Booking, error) {
	query := `SELECT id, property_id, guest_name, guest_email, phone, check_in, check_out, status, comment, created_at, updated_at
              FROM bookings WHERE property_id = ? AND updated_at >= ? ORDER BY updated_at ASC`
	rows, err := s.db.QueryContext(ctx, query, propertyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := rows.Scan(
			&b.ID,
			&b.PropertyID,
			&b.GuestName,
			&b.GuestEmail,
			&b.Phone,
			&b.CheckIn,
			&b.CheckOut,
			&b.Status,
			&b.Comment,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// IsNotFound reports whether err is the driver's missing-row error.
func IsNotFound(err error) bool {
	return err == sql.ErrNoRows
}
