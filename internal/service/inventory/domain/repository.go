package domain

import "context"

type ProductRepository interface {
	// FindByID locks the row for the rest of the transaction when called inside a unit of work.
	FindByID(ctx context.Context, id string) (*Product, error)
	Save(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	List(ctx context.Context) ([]*Product, error)
}

type ReservationRepository interface {
	// Find returns nil and no error when the reservation does not exist.
	Find(ctx context.Context, id string) (*Reservation, error)
	// Save fails with ErrReservationExists on a duplicate id.
	Save(ctx context.Context, r *Reservation) error
	Delete(ctx context.Context, id string) error
}

// Repositories are the stores bound to one unit of work.
type Repositories struct {
	Products     ProductRepository
	Reservations ReservationRepository
}

// UnitOfWork runs fn atomically: a returned error rolls every change back.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
