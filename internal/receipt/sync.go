package receipt

import (
	"errors"
	"fmt"
)

// SyncCounts is the number of receipts waiting for or in upload
type SyncCounts struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
}

// MarkSyncing moves every pending receipt to syncing in one write and
// returns the ids of the batch.
func (r *Repository) MarkSyncing() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	_, err := r.receipts.Update(func(prev []Receipt) ([]Receipt, error) {
		for i := range prev {
			if prev[i].Status == StatusPending {
				prev[i].Status = StatusSyncing
				ids = append(ids, prev[i].ID)
			}
		}
		if len(ids) == 0 {
			return nil, errNothingToSync
		}
		return prev, nil
	})
	if errors.Is(err, errNothingToSync) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("marking receipts syncing: %w", err)
	}
	return ids, nil
}

// MarkSynced moves the given receipts from syncing to synced. Receipts that
// were deleted or are not syncing are left alone.
func (r *Repository) MarkSynced(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	batch := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		batch[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	synced := 0
	_, err := r.receipts.Update(func(prev []Receipt) ([]Receipt, error) {
		for i := range prev {
			if _, ok := batch[prev[i].ID]; !ok {
				continue
			}
			if prev[i].Status == StatusSyncing && advance(&prev[i], StatusSynced) {
				synced++
			}
		}
		if synced == 0 {
			return nil, errNothingToSync
		}
		return prev, nil
	})
	if errors.Is(err, errNothingToSync) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("marking receipts synced: %w", err)
	}
	return synced, nil
}

// errNothingToSync aborts an Update without writing
var errNothingToSync = errors.New("nothing to sync")

// advance moves rec to status only if that is a step forward
func advance(rec *Receipt, status Status) bool {
	if status.rank() <= rec.Status.rank() {
		return false
	}
	rec.Status = status
	return true
}

// SyncCounts returns how many receipts are pending and syncing
func (r *Repository) SyncCounts() (SyncCounts, error) {
	receipts, err := r.receipts.Get()
	if err != nil {
		return SyncCounts{}, fmt.Errorf("loading receipts: %w", err)
	}
	var counts SyncCounts
	for _, rec := range receipts {
		switch rec.Status {
		case StatusPending:
			counts.Pending++
		case StatusSyncing:
			counts.Syncing++
		}
	}
	return counts, nil
}

// SyncingIDs returns receipts stuck in syncing, e.g. after a restart
func (r *Repository) SyncingIDs() ([]string, error) {
	receipts, err := r.receipts.Get()
	if err != nil {
		return nil, fmt.Errorf("loading receipts: %w", err)
	}
	var ids []string
	for _, rec := range receipts {
		if rec.Status == StatusSyncing {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}
