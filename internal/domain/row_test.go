package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRowNumCoercion(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected float64
	}{
		{"float64", float64(1500), 1500},
		{"json number", json.Number("650000"), 650000},
		{"numeric string", "1200.5", 1200.5},
		{"int", 7, 7},
		{"nil", nil, 0},
		{"non-numeric string", "cheap", 0},
		{"negative clamps to zero", float64(-50), 0},
		{"bool", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Row{"price": tt.value}
			assert.Equal(t, tt.expected, r.num("price"))
		})
	}

	t.Run("absent key", func(t *testing.T) {
		assert.Equal(t, 0.0, Row{}.num("price"))
	})
}

func TestRowIntPtr(t *testing.T) {
	t.Run("json number", func(t *testing.T) {
		v := Row{"year": json.Number("2021")}.intPtr("year")
		if assert.NotNil(t, v) {
			assert.Equal(t, 2021, *v)
		}
	})
	t.Run("numeric string", func(t *testing.T) {
		v := Row{"year": "2019"}.intPtr("year")
		if assert.NotNil(t, v) {
			assert.Equal(t, 2019, *v)
		}
	})
	t.Run("malformed is nil", func(t *testing.T) {
		assert.Nil(t, Row{"year": "new-ish"}.intPtr("year"))
	})
	t.Run("absent is nil", func(t *testing.T) {
		assert.Nil(t, Row{}.intPtr("year"))
	})
}

func TestRowTimeField(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected time.Time
	}{
		{"rfc3339", "2025-06-01T10:00:00Z", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"no timezone", "2025-06-01T10:00:00", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"date only", "2025-06-01", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"garbage is zero", "yesterday", time.Time{}},
		{"absent is zero", nil, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Row{"at": tt.value}
			assert.True(t, tt.expected.Equal(r.timeField("at")))
		})
	}
}

func TestCarFromRow(t *testing.T) {
	c := CarFromRow(Row{
		"id":            "c1",
		"name":          "Yaris",
		"brand":         "Toyota",
		"price_per_day": json.Number("900"),
		"image_url":     "cars/u_1/1700.jpg",
		"owner_id":      "u1",
		"status":        "approved",
		"year":          json.Number("2020"),
	})

	assert.Equal(t, "Yaris", c.Name)
	assert.Equal(t, 900.0, c.PricePerDay)
	assert.Equal(t, "cars/u_1/1700.jpg", c.ImageRef)
	assert.Equal(t, CarStatusApproved, c.Status)
	if assert.NotNil(t, c.Year) {
		assert.Equal(t, 2020, *c.Year)
	}
}

func TestCarFromRowMalformed(t *testing.T) {
	c := CarFromRow(Row{
		"id":            "c2",
		"price_per_day": nil,
		"year":          "unknown",
		"created_at":    12345,
	})

	assert.Equal(t, 0.0, c.PricePerDay)
	assert.Nil(t, c.Year)
	assert.True(t, c.CreatedAt.IsZero())
}
