package provider

import (
	"context"
	"sync"
	"time"

	"xevivu-client/internal/backend"
	"xevivu-client/internal/domain"
	"xevivu-client/internal/errs"
	"xevivu-client/internal/logger"
	"xevivu-client/internal/upload"
)

const bookingsTable = "bookings"

// BookingProvider owns the cached booking collection for the signed-in
// renter (admins see every booking). Checkout computes the billable day
// count and total price and snapshots the listing fields.
type BookingProvider struct {
	tables   *backend.Tables
	uploader *upload.Uploader
	session  *SessionProvider
	realtime *backend.Realtime

	mu       sync.RWMutex
	bookings []domain.Booking
	closed   bool

	sub  *backend.Subscription
	done chan struct{}

	now func() time.Time // injectable clock for cancellation checks
}

func NewBookingProvider(tables *backend.Tables, uploader *upload.Uploader, session *SessionProvider, realtime *backend.Realtime) *BookingProvider {
	p := &BookingProvider{
		tables:   tables,
		uploader: uploader,
		session:  session,
		realtime: realtime,
		done:     make(chan struct{}),
		now:      time.Now,
	}
	session.OnChange(func() {
		p.resubscribe()
		p.Reload(context.Background())
	})
	return p
}

// Start performs the initial load and opens the change subscription.
func (p *BookingProvider) Start(ctx context.Context) {
	p.Reload(ctx)
	p.subscribe()
}

func (p *BookingProvider) subscribe() {
	sub, err := p.realtime.Subscribe(bookingsTable)
	if err != nil {
		logger.Warn("Booking change subscription unavailable", "error", err)
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	p.sub = sub
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-p.done:
				return
			case _, ok := <-sub.Events():
				if !ok {
					return
				}
				p.Reload(context.Background())
			}
		}
	}()
}

// resubscribe tears down the active subscription and opens a fresh one on
// identity change. No-op until Start has subscribed once.
func (p *BookingProvider) resubscribe() {
	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()
	if sub == nil {
		return
	}
	sub.Unsubscribe()
	p.subscribe()
}

// Reload re-runs the scoping query: admins read every booking, renters only
// their own, anonymous callers none. Query errors reset the cache to empty.
func (p *BookingProvider) Reload(ctx context.Context) {
	s := p.session.Current()
	if s == nil {
		p.replace(nil)
		return
	}

	q := backend.SelectQuery{Table: bookingsTable, OrderBy: "created_at", Descending: true}
	if !s.IsAdmin() {
		q.Eq = [][2]string{{"user_id", s.ID}}
	}

	rows, err := p.tables.Select(ctx, q)
	if err != nil {
		logger.Error("Load bookings failed, resetting cache", "error", err)
		p.replace(nil)
		return
	}

	bookings := make([]domain.Booking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, domain.BookingFromRow(domain.Row(row)))
	}
	p.replace(bookings)
}

func (p *BookingProvider) replace(bookings []domain.Booking) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.bookings = bookings
}

// Checkout creates a booking from the draft: day count is the ceiling of
// the rental period over whole days (minimum 1), total price is exact, the
// payment status follows the method, and a bank-transfer receipt is stored
// through the upload pipeline before the insert.
func (p *BookingProvider) Checkout(ctx context.Context, draft domain.BookingDraft) error {
	s := p.session.Current()
	if s == nil {
		return errs.ErrNoSession
	}
	if draft.CarID == "" {
		return &errs.ValidationError{Field: "car_id", Reason: "required"}
	}
	if !draft.EndDate.After(draft.StartDate) {
		return &errs.ValidationError{Field: "end_date", Reason: "must be after start date"}
	}

	days := domain.DayCount(draft.StartDate, draft.EndDate)
	total := domain.TotalPrice(draft.PricePerDay, days)

	var slipURL string
	paymentStatus := domain.PaymentStatusCOD
	if draft.Method == domain.PaymentMethodBank {
		var err error
		slipURL, err = p.uploader.AcquireSlipURL(ctx, draft.SlipRef, s.ID)
		if err != nil {
			return err
		}
		if slipURL != "" {
			paymentStatus = domain.PaymentStatusPaid
		} else {
			paymentStatus = domain.PaymentStatusPending
		}
	}

	row := map[string]any{
		"user_id":        s.ID,
		"user_email":     s.Email,
		"car_id":         draft.CarID,
		"car_name":       draft.CarName,
		"car_image":      draft.CarImage,
		"price_per_day":  draft.PricePerDay,
		"location":       draft.Location,
		"start_date":     draft.StartDate.UTC().Format(time.RFC3339),
		"end_date":       draft.EndDate.UTC().Format(time.RFC3339),
		"days":           days,
		"total_price":    total,
		"payment_method": string(draft.Method),
		"payment_status": string(paymentStatus),
		"slip_image":     slipURL,
		"status":         string(domain.BookingStatusUpcoming),
	}
	if err := p.tables.Insert(ctx, bookingsTable, row); err != nil {
		return err
	}
	p.Reload(ctx)
	return nil
}

// Cancel marks a booking cancelled. Only upcoming bookings whose start time
// has not passed are eligible; everything else is rejected before any
// network call.
func (p *BookingProvider) Cancel(ctx context.Context, id string) error {
	b := p.GetByID(id)
	if b == nil {
		return &errs.ValidationError{Field: "booking", Reason: "not found"}
	}
	if !b.CanCancel(p.now()) {
		return &errs.ValidationError{Field: "booking", Reason: "no longer cancellable"}
	}
	return p.UpdateStatus(ctx, id, domain.BookingStatusCancelled)
}

// UpdateStatus advances a booking's lifecycle (operator path, e.g. marking
// completion).
func (p *BookingProvider) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) error {
	if err := p.tables.Update(ctx, bookingsTable, map[string]any{"status": string(status)}, "id", id); err != nil {
		return err
	}
	p.Reload(ctx)
	return nil
}

// Remove deletes a booking record (operator path).
func (p *BookingProvider) Remove(ctx context.Context, id string) error {
	if err := p.tables.Delete(ctx, bookingsTable, "id", id); err != nil {
		return err
	}
	p.Reload(ctx)
	return nil
}

// Bookings returns a copy of the cached collection.
func (p *BookingProvider) Bookings() []domain.Booking {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Booking, len(p.bookings))
	copy(out, p.bookings)
	return out
}

// ByStatus filters the cache by lifecycle status.
func (p *BookingProvider) ByStatus(status domain.BookingStatus) []domain.Booking {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []domain.Booking
	for _, b := range p.bookings {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out
}

// GetByID finds a cached booking, or nil.
func (p *BookingProvider) GetByID(id string) *domain.Booking {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, b := range p.bookings {
		if b.ID == id {
			booking := b
			return &booking
		}
	}
	return nil
}

// Stats aggregates the cached bookings.
func (p *BookingProvider) Stats() domain.BookingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return domain.ComputeStats(p.bookings)
}

// Close unsubscribes from change notifications and freezes the cache.
func (p *BookingProvider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sub := p.sub
	p.mu.Unlock()

	close(p.done)
	if sub != nil {
		sub.Unsubscribe()
	}
}
