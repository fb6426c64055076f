package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/trip-ledger/internal/blobstore"
	"github.com/zombor/trip-ledger/internal/kvstore"
)

// Slot names in the key-value store
const (
	SlotReceipts         = "receipts"
	SlotTrips            = "trips"
	SlotCustomCategories = "customCategories"
)

// IDGenerator generates unique IDs for receipts and trips
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Connectivity reports whether the remote is currently reachable
type Connectivity interface {
	Online() bool
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Repository owns receipts, trips and custom categories. It is the only
// component that writes those slots.
//
// mu serializes commands that touch more than one slot or that derive a new
// collection from the current one. Image I/O always happens outside mu.
type Repository struct {
	mu sync.Mutex

	store    *kvstore.Store
	receipts *kvstore.Slot[[]Receipt]
	trips    *kvstore.Slot[[]Trip]
	custom   *kvstore.Slot[[]string]
	blobs    blobstore.Storage

	connMu sync.RWMutex
	conn   Connectivity

	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewRepository creates a Repository with uuid IDs and the wall clock
func NewRepository(store *kvstore.Store, blobs blobstore.Storage) (*Repository, error) {
	return NewRepositoryWithDeps(store, blobs, &uuidGenerator{}, &defaultTimeSource{})
}

// NewRepositoryWithDeps creates a new Repository with custom dependencies for testing
func NewRepositoryWithDeps(store *kvstore.Store, blobs blobstore.Storage, idGen IDGenerator, timeSrc TimeSource) (*Repository, error) {
	r := &Repository{
		store:       store,
		receipts:    kvstore.NewSlot(store, SlotReceipts, []Receipt{}),
		trips:       kvstore.NewSlot(store, SlotTrips, []Trip{}),
		custom:      kvstore.NewSlot(store, SlotCustomCategories, []string{}),
		blobs:       blobs,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}

	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("migrating receipts: %w", err)
	}
	return r, nil
}

// SetConnectivity installs the connectivity source used to pick the initial
// status of new receipts. Without one, receipts start as pending.
func (r *Repository) SetConnectivity(conn Connectivity) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	r.conn = conn
}

func (r *Repository) initialStatus() Status {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	if r.conn != nil && r.conn.Online() {
		return StatusSynced
	}
	return StatusPending
}

// migrate pushes legacy receipt-level categories down into items that have
// none. It writes only when something changed.
func (r *Repository) migrate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.receipts.Get()
	if err != nil {
		return err
	}

	migrated, changed := migrateLegacyCategories(current)
	if !changed {
		return nil
	}

	slog.Info("Migrated legacy receipt categories")
	return r.receipts.Set(migrated)
}

func migrateLegacyCategories(receipts []Receipt) ([]Receipt, bool) {
	changed := false
	for i := range receipts {
		rec := &receipts[i]
		if rec.LegacyCategory == "" {
			continue
		}
		uncategorized := true
		for _, item := range rec.Items {
			if item.Category != "" {
				uncategorized = false
				break
			}
		}
		if uncategorized {
			for j := range rec.Items {
				rec.Items[j].Category = rec.LegacyCategory
			}
		}
		rec.LegacyCategory = ""
		changed = true
	}
	return receipts, changed
}

// lessReceipt orders by date desc, then newest creation, then id
func lessReceipt(a, b Receipt) bool {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortReceipts(receipts []Receipt) {
	sort.SliceStable(receipts, func(i, j int) bool {
		return lessReceipt(receipts[i], receipts[j])
	})
}

// normalizeItems resolves every item category against the current set
func normalizeItems(items []Item, categories []string) {
	for i := range items {
		items[i].Category = ResolveCategory(items[i].Category, categories).Name
	}
}

func (r *Repository) newReceipt(draft Draft) Receipt {
	now := r.timeSource.Now()
	rec := Receipt{
		ID:        r.idGenerator.Generate(),
		Merchant:  draft.Merchant,
		Date:      draft.Date,
		Location:  draft.Location,
		Currency:  draft.Currency,
		TripID:    draft.TripID,
		CreatedAt: now,
	}
	if rec.Date.IsZero() {
		rec.Date = DateOf(now)
	}
	if len(draft.Items) > 0 {
		rec.Items = make([]Item, len(draft.Items))
		copy(rec.Items, draft.Items)
	}
	rec.recompute()
	return rec
}

// AddReceipt saves the image and then the receipt metadata. If the image
// can't be saved the receipt is not created.
func (r *Repository) AddReceipt(ctx context.Context, draft Draft, image []byte) (*Receipt, error) {
	rec := r.newReceipt(draft)

	if len(image) > 0 {
		if err := r.blobs.Save(ctx, rec.ID, image); err != nil {
			blobFailures.WithLabelValues("save").Inc()
			return nil, fmt.Errorf("saving receipt image: %w", err)
		}
	}

	batch := []Receipt{rec}
	if err := r.commitNew(batch); err != nil {
		r.discardImages(ctx, rec.ID)
		return nil, fmt.Errorf("saving receipt: %w", err)
	}
	rec = batch[0]

	receiptsCreated.Inc()
	slog.InfoContext(ctx, "Receipt created", "id", rec.ID, "status", rec.Status, "total", rec.Total)
	return &rec, nil
}

// BatchFailure records a batch item whose image could not be saved
type BatchFailure struct {
	Index int
	Err   error
}

// BatchResult is the outcome of AddReceipts
type BatchResult struct {
	Created []Receipt
	Failed  []BatchFailure
}

// AddReceipts creates several receipts from one action. Each image is saved
// independently and a failure excludes only that upload. Every receipt whose
// image was saved is committed in a single write.
func (r *Repository) AddReceipts(ctx context.Context, uploads []Upload) (*BatchResult, error) {
	result := &BatchResult{}
	for i, upload := range uploads {
		rec := r.newReceipt(upload.Draft)
		if len(upload.Image) > 0 {
			if err := r.blobs.Save(ctx, rec.ID, upload.Image); err != nil {
				blobFailures.WithLabelValues("save").Inc()
				slog.WarnContext(ctx, "Failed to save receipt image, skipping", "index", i, "error", err)
				result.Failed = append(result.Failed, BatchFailure{Index: i, Err: fmt.Errorf("saving receipt image: %w", err)})
				continue
			}
		}
		result.Created = append(result.Created, rec)
	}

	if len(result.Created) == 0 {
		return result, nil
	}

	if err := r.commitNew(result.Created); err != nil {
		ids := make([]string, len(result.Created))
		for i, rec := range result.Created {
			ids[i] = rec.ID
		}
		r.discardImages(ctx, ids...)
		return nil, fmt.Errorf("saving receipts: %w", err)
	}

	receiptsCreated.Add(float64(len(result.Created)))
	return result, nil
}

// commitNew inserts freshly built receipts. Item categories and status are
// resolved under the repository lock, after any image save.
func (r *Repository) commitNew(batch []Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	categories, err := r.Categories()
	if err != nil {
		return err
	}
	status := r.initialStatus()
	for i := range batch {
		batch[i].Status = status
		normalizeItems(batch[i].Items, categories)
	}

	_, err = r.receipts.Update(func(prev []Receipt) ([]Receipt, error) {
		next := append(prev, batch...)
		sortReceipts(next)
		return next, nil
	})
	return err
}

// discardImages removes images whose metadata never made it to the store
func (r *Repository) discardImages(ctx context.Context, ids ...string) {
	for _, id := range ids {
		if err := r.blobs.Delete(ctx, id); err != nil {
			blobFailures.WithLabelValues("delete").Inc()
			slog.WarnContext(ctx, "Failed to discard receipt image", "id", id, "error", err)
		}
	}
}

// UpdateReceipt replaces the receipt with the same id. The stored status and
// creation time are kept; the total is recomputed from the items.
func (r *Repository) UpdateReceipt(ctx context.Context, updated Receipt) (*Receipt, error) {
	updated = updated.clone()
	updated.recompute()
	updated.LegacyCategory = ""

	r.mu.Lock()
	defer r.mu.Unlock()

	categories, err := r.Categories()
	if err != nil {
		return nil, err
	}
	normalizeItems(updated.Items, categories)

	_, err = r.receipts.Update(func(prev []Receipt) ([]Receipt, error) {
		for i := range prev {
			if prev[i].ID == updated.ID {
				updated.Status = prev[i].Status
				updated.CreatedAt = prev[i].CreatedAt
				prev[i] = updated
				sortReceipts(prev)
				return prev, nil
			}
		}
		return nil, fmt.Errorf("receipt %s: %w", updated.ID, ErrNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteReceipt removes the metadata and then the image. A failed image
// delete leaves an orphan and is only logged. Deleting an unknown id is a
// no-op.
func (r *Repository) DeleteReceipt(ctx context.Context, id string) error {
	r.mu.Lock()
	found := false
	_, err := r.receipts.Update(func(prev []Receipt) ([]Receipt, error) {
		next := prev[:0]
		for _, rec := range prev {
			if rec.ID == id {
				found = true
				continue
			}
			next = append(next, rec)
		}
		if !found {
			return nil, ErrNotFound
		}
		return next, nil
	})
	r.mu.Unlock()

	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	receiptsDeleted.Inc()

	if err := r.blobs.Delete(ctx, id); err != nil {
		blobFailures.WithLabelValues("delete").Inc()
		slog.WarnContext(ctx, "Failed to delete receipt image", "id", id, "error", err)
	}
	return nil
}

// GetReceipt retrieves a receipt by ID
func (r *Repository) GetReceipt(id string) (*Receipt, error) {
	receipts, err := r.receipts.Get()
	if err != nil {
		return nil, fmt.Errorf("loading receipts: %w", err)
	}
	for _, rec := range receipts {
		if rec.ID == id {
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
}

// ListReceipts returns all receipts, newest first
func (r *Repository) ListReceipts() ([]Receipt, error) {
	receipts, err := r.receipts.Get()
	if err != nil {
		return nil, fmt.Errorf("loading receipts: %w", err)
	}
	return receipts, nil
}

// ReceiptImage returns the stored image for a receipt
func (r *Repository) ReceiptImage(ctx context.Context, id string) ([]byte, error) {
	data, err := r.blobs.Get(ctx, id)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting receipt image: %w", err)
	}
	return data, nil
}

// editReceipt applies fn to one receipt and recomputes its total
func (r *Repository) editReceipt(id string, fn func(rec *Receipt, categories []string) error) (*Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	categories, err := r.Categories()
	if err != nil {
		return nil, err
	}

	var edited Receipt
	_, err = r.receipts.Update(func(prev []Receipt) ([]Receipt, error) {
		for i := range prev {
			if prev[i].ID != id {
				continue
			}
			if err := fn(&prev[i], categories); err != nil {
				return nil, err
			}
			prev[i].recompute()
			edited = prev[i].clone()
			return prev, nil
		}
		return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &edited, nil
}

// AddItem appends an item to a receipt
func (r *Repository) AddItem(id string, item Item) (*Receipt, error) {
	return r.editReceipt(id, func(rec *Receipt, categories []string) error {
		item.Category = ResolveCategory(item.Category, categories).Name
		rec.Items = append(rec.Items, item)
		return nil
	})
}

// UpdateItem replaces the item at index
func (r *Repository) UpdateItem(id string, index int, item Item) (*Receipt, error) {
	return r.editReceipt(id, func(rec *Receipt, categories []string) error {
		if index < 0 || index >= len(rec.Items) {
			return invalid("index", ErrInvalidItem, fmt.Sprintf("Item %d does not exist.", index))
		}
		item.Category = ResolveCategory(item.Category, categories).Name
		rec.Items[index] = item
		return nil
	})
}

// RemoveItem removes the item at index
func (r *Repository) RemoveItem(id string, index int) (*Receipt, error) {
	return r.editReceipt(id, func(rec *Receipt, _ []string) error {
		if index < 0 || index >= len(rec.Items) {
			return invalid("index", ErrInvalidItem, fmt.Sprintf("Item %d does not exist.", index))
		}
		rec.Items = append(rec.Items[:index], rec.Items[index+1:]...)
		return nil
	})
}

// Replace swaps every collection for the given ones in one commit
func (r *Repository) Replace(receipts []Receipt, trips []Trip, custom []string) error {
	if receipts == nil {
		receipts = []Receipt{}
	}
	if trips == nil {
		trips = []Trip{}
	}
	if custom == nil {
		custom = []string{}
	}

	receipts, _ = migrateLegacyCategories(receipts)
	for i := range receipts {
		receipts[i].recompute()
	}
	sortReceipts(receipts)

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.store.Commit(
		r.receipts.Stage(receipts),
		r.trips.Stage(trips),
		r.custom.Stage(custom),
	)
	if err != nil {
		return fmt.Errorf("replacing collections: %w", err)
	}
	return nil
}
