package provider

import (
	"context"
	"strings"
	"sync"

	"xevivu-client/internal/backend"
	"xevivu-client/internal/domain"
	"xevivu-client/internal/errs"
	"xevivu-client/internal/logger"
	"xevivu-client/internal/upload"
)

const carsTable = "cars"

// CarProvider owns the cached vehicle-listing collection. All writes go
// through its mutation operations; a successful mutation reloads the cache
// before returning, so callers can read their own writes immediately.
type CarProvider struct {
	tables   *backend.Tables
	uploader *upload.Uploader
	session  *SessionProvider
	realtime *backend.Realtime

	mu     sync.RWMutex
	cars   []domain.Car
	closed bool

	sub  *backend.Subscription
	done chan struct{}
}

func NewCarProvider(tables *backend.Tables, uploader *upload.Uploader, session *SessionProvider, realtime *backend.Realtime) *CarProvider {
	p := &CarProvider{
		tables:   tables,
		uploader: uploader,
		session:  session,
		realtime: realtime,
		done:     make(chan struct{}),
	}
	session.OnChange(func() {
		// Scoping depends on identity, so a session change invalidates both
		// the cache and the change subscription.
		p.resubscribe()
		p.Reload(context.Background())
	})
	return p
}

// Start performs the initial load and opens the change subscription. A
// failed subscription degrades to manual reloads only; listing browsing
// must not depend on the realtime channel being reachable.
func (p *CarProvider) Start(ctx context.Context) {
	p.Reload(ctx)
	p.subscribe()
}

func (p *CarProvider) subscribe() {
	sub, err := p.realtime.Subscribe(carsTable)
	if err != nil {
		logger.Warn("Car change subscription unavailable", "error", err)
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

// resubscribe tears down the active subscription and opens a fresh one.
// No-op until Start has subscribed once.
func (p *CarProvider) resubscribe() {
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

// Reload re-runs the scoping query and replaces the cache wholesale.
// An admin sees every listing; a signed-in non-admin sees approved listings
// plus their own of any status; anonymous callers see approved only. Query
// errors are absorbed: log, reset to empty, never surface.
func (p *CarProvider) Reload(ctx context.Context) {
	q := backend.SelectQuery{Table: carsTable, OrderBy: "created_at", Descending: true}
	s := p.session.Current()
	switch {
	case s.IsAdmin():
		// unscoped
	case s != nil:
		q.Or = "status.eq.approved,owner_id.eq." + s.ID
	default:
		q.Eq = [][2]string{{"status", string(domain.CarStatusApproved)}}
	}

	rows, err := p.tables.Select(ctx, q)
	if err != nil {
		logger.Error("Load cars failed, resetting cache", "error", err)
		p.replace(nil)
		return
	}

	cars := make([]domain.Car, 0, len(rows))
	for _, row := range rows {
		cars = append(cars, domain.CarFromRow(domain.Row(row)))
	}
	p.replace(cars)
}

func (p *CarProvider) replace(cars []domain.Car) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.cars = cars
}

// Submit validates an owner's draft, resolves its image to a stored path
// (or a fallback URL), and inserts the listing with status pending. Returns
// whether the direct-URL fallback was taken so the UI can tell the owner.
func (p *CarProvider) Submit(ctx context.Context, draft domain.CarDraft) (usedFallbackURL bool, err error) {
	s := p.session.Current()
	if s == nil {
		return false, errs.ErrNoSession
	}
	if strings.TrimSpace(draft.Name) == "" {
		return false, &errs.ValidationError{Field: "name", Reason: "required"}
	}
	if upload.Classify(draft.ImageRef) == upload.RefInvalid {
		return false, &errs.ValidationError{Field: "image", Reason: "required"}
	}

	path, usedFallback, err := p.uploader.AcquireStoredPath(ctx, draft.ImageRef, s.ID)
	if err != nil {
		return false, err
	}

	row := map[string]any{
		"name":             strings.TrimSpace(draft.Name),
		"brand":            strings.TrimSpace(draft.Brand),
		"price_per_day":    draft.PricePerDay,
		"location":         strings.TrimSpace(draft.Location),
		"image_url":        path,
		"owner_id":         s.ID,
		"owner_email":      s.Email,
		"owner_phone":      s.Phone,
		"status":           string(domain.CarStatusPending),
		"year":             draft.Year,
		"engine":           strings.TrimSpace(draft.Engine),
		"fuel_consumption": strings.TrimSpace(draft.FuelConsumption),
		"description":      strings.TrimSpace(draft.Description),
	}
	if err := p.tables.Insert(ctx, carsTable, row); err != nil {
		return usedFallback, err
	}
	p.Reload(ctx)
	return usedFallback, nil
}

// Approve moves a pending listing to approved. Admin only.
func (p *CarProvider) Approve(ctx context.Context, id string) error {
	return p.setStatus(ctx, id, domain.CarStatusApproved)
}

// Reject moves a pending listing to rejected. Admin only.
func (p *CarProvider) Reject(ctx context.Context, id string) error {
	return p.setStatus(ctx, id, domain.CarStatusRejected)
}

func (p *CarProvider) setStatus(ctx context.Context, id string, status domain.CarStatus) error {
	if err := p.requireAdmin(); err != nil {
		return err
	}
	if err := p.tables.Update(ctx, carsTable, map[string]any{"status": string(status)}, "id", id); err != nil {
		return err
	}
	p.Reload(ctx)
	return nil
}

// Delete removes a listing. Admin only.
func (p *CarProvider) Delete(ctx context.Context, id string) error {
	if err := p.requireAdmin(); err != nil {
		return err
	}
	if err := p.tables.Delete(ctx, carsTable, "id", id); err != nil {
		return err
	}
	p.Reload(ctx)
	return nil
}

func (p *CarProvider) requireAdmin() error {
	s := p.session.Current()
	if s == nil {
		return errs.ErrNoSession
	}
	if !s.IsAdmin() {
		return &errs.ValidationError{Field: "role", Reason: "admin role required"}
	}
	return nil
}

// Cars returns a copy of the cached collection.
func (p *CarProvider) Cars() []domain.Car {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Car, len(p.cars))
	copy(out, p.cars)
	return out
}

// Approved returns the approved partition of the cache.
func (p *CarProvider) Approved() []domain.Car { return p.byStatus(domain.CarStatusApproved) }

// Pending returns the pending partition of the cache.
func (p *CarProvider) Pending() []domain.Car { return p.byStatus(domain.CarStatusPending) }

// Rejected returns the rejected partition of the cache.
func (p *CarProvider) Rejected() []domain.Car { return p.byStatus(domain.CarStatusRejected) }

func (p *CarProvider) byStatus(status domain.CarStatus) []domain.Car {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []domain.Car
	for _, c := range p.cars {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// GetByID finds a cached listing, or nil.
func (p *CarProvider) GetByID(id string) *domain.Car {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.cars {
		if c.ID == id {
			car := c
			return &car
		}
	}
	return nil
}

// Close unsubscribes from change notifications and freezes the cache.
func (p *CarProvider) Close() {
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
