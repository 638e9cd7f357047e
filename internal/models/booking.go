package models

import "time"

type Booking struct {
	ID         int64     `json:"id"`
	PropertyID int64     `json:"property_id"`
	GuestName  string    `json:"guest_name"`
	GuestEmail string    `json:"guest_email"`
	Phone      string    `json:"phone"`
	CheckIn    time.Time `json:"check_in"`
	CheckOut   time.Time `json:"check_out"`
	Status     string    `json:"status"` // pending, confirmed, cancelled
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Property struct {
	ID         int64  `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	TotalUnits int64  `json:"total_units" yaml:"total_units"`
	IsActive   bool   `json:"is_active" yaml:"is_active"`
}

// Availability describes how many units of a property remain bookable on a date.
type Availability struct {
	Date       time.Time `json:"date"`
	PropertyID int64     `json:"property_id"`
	Booked     int64     `json:"booked"`
	Available  int64     `json:"available"`
}

// RateDay is a nightly price pushed to channels during pricing sync.
type RateDay struct {
	Date       time.Time `json:"date"`
	PropertyID int64     `json:"property_id"`
	PriceCents int64     `json:"price_cents"`
	Currency   string    `json:"currency"`
}
