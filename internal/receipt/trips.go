package receipt

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

func validateTrip(t *Trip, existing []Trip) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" || t.StartDate.IsZero() || t.EndDate.IsZero() {
		return invalid("trip", ErrRequiredField, "All fields are required.")
	}
	if t.StartDate.After(t.EndDate) {
		return invalid("startDate", ErrInvalidDateRange, "Start date cannot be after end date.")
	}
	for _, other := range existing {
		if other.ID != t.ID && strings.EqualFold(other.Name, t.Name) {
			return invalid("name", ErrDuplicateTrip, fmt.Sprintf("A trip named %q already exists.", t.Name))
		}
	}
	return nil
}

// AddTrip validates and stores a new trip
func (r *Repository) AddTrip(name string, start, end Date) (*Trip, error) {
	trip := Trip{
		ID:        r.idGenerator.Generate(),
		Name:      name,
		StartDate: start,
		EndDate:   end,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.trips.Update(func(prev []Trip) ([]Trip, error) {
		if err := validateTrip(&trip, prev); err != nil {
			return nil, err
		}
		return append(prev, trip), nil
	})
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

// UpdateTrip replaces the trip with the same id
func (r *Repository) UpdateTrip(trip Trip) (*Trip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.trips.Update(func(prev []Trip) ([]Trip, error) {
		for i := range prev {
			if prev[i].ID != trip.ID {
				continue
			}
			if err := validateTrip(&trip, prev); err != nil {
				return nil, err
			}
			prev[i] = trip
			return prev, nil
		}
		return nil, fmt.Errorf("trip %s: %w", trip.ID, ErrNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

// DeleteTrip unassigns every receipt from the trip and then removes it. Both
// writes land in one commit. Deleting an unknown trip still clears any
// dangling references to it.
func (r *Repository) DeleteTrip(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	receipts, err := r.receipts.Get()
	if err != nil {
		return fmt.Errorf("loading receipts: %w", err)
	}
	trips, err := r.trips.Get()
	if err != nil {
		return fmt.Errorf("loading trips: %w", err)
	}

	unassigned := 0
	for i := range receipts {
		if receipts[i].TripID == id {
			receipts[i].TripID = ""
			unassigned++
		}
	}

	remaining := trips[:0]
	for _, t := range trips {
		if t.ID != id {
			remaining = append(remaining, t)
		}
	}

	if err := r.store.Commit(r.receipts.Stage(receipts), r.trips.Stage(remaining)); err != nil {
		return fmt.Errorf("deleting trip: %w", err)
	}
	slog.Info("Trip deleted", "id", id, "unassigned", unassigned)
	return nil
}

// ListTrips returns all trips in creation order
func (r *Repository) ListTrips() ([]Trip, error) {
	trips, err := r.trips.Get()
	if err != nil {
		return nil, fmt.Errorf("loading trips: %w", err)
	}
	return trips, nil
}

// GetTrip retrieves a trip by ID
func (r *Repository) GetTrip(id string) (*Trip, error) {
	trips, err := r.ListTrips()
	if err != nil {
		return nil, err
	}
	for _, t := range trips {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("trip %s: %w", id, ErrNotFound)
}

// ResolveTrip looks up a receipt's weak trip reference. A dangling or empty
// reference reports false rather than an error.
func (r *Repository) ResolveTrip(tripID string) (*Trip, bool, error) {
	if tripID == "" {
		return nil, false, nil
	}
	trip, err := r.GetTrip(tripID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return trip, true, nil
}

// ReceiptsForTrip returns the receipts assigned to a trip
func (r *Repository) ReceiptsForTrip(tripID string) ([]Receipt, error) {
	receipts, err := r.ListReceipts()
	if err != nil {
		return nil, err
	}
	matched := []Receipt{}
	for _, rec := range receipts {
		if rec.TripID == tripID {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// AssignTrip sets or clears (empty tripID) the trip of a receipt
func (r *Repository) AssignTrip(receiptID, tripID string) (*Receipt, error) {
	if tripID != "" {
		if _, err := r.GetTrip(tripID); err != nil {
			return nil, err
		}
	}
	return r.editReceipt(receiptID, func(rec *Receipt, _ []string) error {
		rec.TripID = tripID
		return nil
	})
}
