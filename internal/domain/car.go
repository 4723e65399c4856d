package domain

import "time"

type CarStatus string

const (
	CarStatusPending  CarStatus = "pending"
	CarStatusApproved CarStatus = "approved"
	CarStatusRejected CarStatus = "rejected"
)

// Car is a vehicle listing offered for rental by an owner, subject to admin
// approval. ImageRef is either a storage-relative path in the cars bucket or
// an absolute fallback URL.
type Car struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Brand           string    `json:"brand"`
	PricePerDay     float64   `json:"price_per_day"`
	Location        string    `json:"location"`
	ImageRef        string    `json:"image_url"`
	OwnerID         string    `json:"owner_id"`
	OwnerEmail      string    `json:"owner_email"`
	OwnerPhone      string    `json:"owner_phone"`
	Status          CarStatus `json:"status"`
	Year            *int      `json:"year,omitempty"`
	Engine          string    `json:"engine"`
	FuelConsumption string    `json:"fuel_consumption"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
}

// CarFromRow maps a backend row into the canonical Car shape. Price is
// coerced to a finite non-negative number even when the stored value is
// null or non-numeric.
func CarFromRow(r Row) Car {
	return Car{
		ID:              r.str("id"),
		Name:            r.str("name"),
		Brand:           r.str("brand"),
		PricePerDay:     r.num("price_per_day"),
		Location:        r.str("location"),
		ImageRef:        r.str("image_url"),
		OwnerID:         r.str("owner_id"),
		OwnerEmail:      r.str("owner_email"),
		OwnerPhone:      r.str("owner_phone"),
		Status:          CarStatus(r.str("status")),
		Year:            r.intPtr("year"),
		Engine:          r.str("engine"),
		FuelConsumption: r.str("fuel_consumption"),
		Description:     r.str("description"),
		CreatedAt:       r.timeField("created_at"),
	}
}

// CarDraft is an owner submission before upload and insert. The image
// reference is a raw local or remote ref, not yet a stored path.
type CarDraft struct {
	Name            string
	Brand           string
	PricePerDay     float64
	Location        string
	ImageRef        string
	Year            *int
	Engine          string
	FuelConsumption string
	Description     string
}
