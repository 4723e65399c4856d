package domain

import (
	"math"
	"time"
)

type BookingStatus string

const (
	BookingStatusUpcoming  BookingStatus = "upcoming"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodBank PaymentMethod = "bank"
)

type PaymentStatus string

const (
	PaymentStatusCOD     PaymentStatus = "cod"
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Booking is a confirmed rental created at checkout. Car name, image,
// location and the renter email are snapshots taken at creation time so the
// record stays renderable if the listing changes later.
type Booking struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	UserEmail     string        `json:"user_email"`
	CarID         string        `json:"car_id"`
	CarName       string        `json:"car_name"`
	CarImage      string        `json:"car_image"`
	PricePerDay   float64       `json:"price_per_day"`
	Location      string        `json:"location"`
	StartDate     time.Time     `json:"start_date"`
	EndDate       time.Time     `json:"end_date"`
	Days          int           `json:"days"`
	TotalPrice    float64       `json:"total_price"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	SlipImage     string        `json:"slip_image"`
	Status        BookingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// BookingFromRow maps a backend row into the canonical Booking shape.
func BookingFromRow(r Row) Booking {
	return Booking{
		ID:            r.str("id"),
		UserID:        r.str("user_id"),
		UserEmail:     r.str("user_email"),
		CarID:         r.str("car_id"),
		CarName:       r.str("car_name"),
		CarImage:      r.str("car_image"),
		PricePerDay:   r.num("price_per_day"),
		Location:      r.str("location"),
		StartDate:     r.timeField("start_date"),
		EndDate:       r.timeField("end_date"),
		Days:          int(r.num("days")),
		TotalPrice:    r.num("total_price"),
		PaymentMethod: PaymentMethod(r.str("payment_method")),
		PaymentStatus: PaymentStatus(r.str("payment_status")),
		SlipImage:     r.str("slip_image"),
		Status:        BookingStatus(r.str("status")),
		CreatedAt:     r.timeField("created_at"),
	}
}

// DayCount returns the billable day count for a rental period: the ceiling
// of the elapsed time divided by one day, never less than 1. A 4-hour rental
// bills as a full day.
func DayCount(start, end time.Time) int {
	days := int(math.Ceil(end.Sub(start).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

// TotalPrice is the exact product of the per-day price and the day count.
func TotalPrice(pricePerDay float64, days int) float64 {
	return pricePerDay * float64(days)
}

// CanCancel reports whether the booking is still cancellable: only upcoming
// bookings whose start time has not passed.
func (b Booking) CanCancel(now time.Time) bool {
	return b.Status == BookingStatusUpcoming && b.StartDate.After(now)
}

// BookingStats aggregates a booking collection for dashboards.
type BookingStats struct {
	Total     int
	Upcoming  int
	Completed int
	Cancelled int
	Revenue   float64 // sum of total prices over completed bookings
}

// ComputeStats derives aggregate statistics from a booking list. Pure: the
// input is never mutated.
func ComputeStats(bookings []Booking) BookingStats {
	s := BookingStats{Total: len(bookings)}
	for _, b := range bookings {
		switch b.Status {
		case BookingStatusUpcoming:
			s.Upcoming++
		case BookingStatusCompleted:
			s.Completed++
			s.Revenue += b.TotalPrice
		case BookingStatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// BookingDraft carries the checkout inputs before day count and total price
// are computed. SlipRef is a raw local or remote receipt reference for bank
// transfers, empty otherwise.
type BookingDraft struct {
	CarID       string
	CarName     string
	CarImage    string
	PricePerDay float64
	Location    string
	StartDate   time.Time
	EndDate     time.Time
	Method      PaymentMethod
	SlipRef     string
}
