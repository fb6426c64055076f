// Package snapshot moves the whole local dataset in and out as one JSON
// document.
package snapshot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/zombor/trip-ledger/internal/blobstore"
	"github.com/zombor/trip-ledger/internal/receipt"
)

// Version is the only snapshot format understood by Import
const Version = 1

// ErrMalformed is returned when an import document is rejected. Nothing has
// been changed when it is returned.
var ErrMalformed = errors.New("malformed snapshot")

// Data is the payload of a snapshot. Images are base64 encoded in JSON.
type Data struct {
	Receipts         []receipt.Receipt `json:"receipts"`
	Trips            []receipt.Trip    `json:"trips"`
	CustomCategories []string          `json:"customCategories"`
	Images           map[string][]byte `json:"images"`
}

// Snapshot is a full export
type Snapshot struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	Data       Data      `json:"data"`
}

// Repository is the metadata side of a snapshot
type Repository interface {
	ListReceipts() ([]receipt.Receipt, error)
	ListTrips() ([]receipt.Trip, error)
	CustomCategories() ([]string, error)
	Replace(receipts []receipt.Receipt, trips []receipt.Trip, custom []string) error
}

// Manager exports and imports snapshots
type Manager struct {
	repo  Repository
	blobs blobstore.Storage
	now   func() time.Time
}

// NewManager creates a snapshot manager
func NewManager(repo Repository, blobs blobstore.Storage) *Manager {
	return &Manager{repo: repo, blobs: blobs, now: time.Now}
}

// Export collects every collection and image
func (m *Manager) Export(ctx context.Context) (*Snapshot, error) {
	receipts, err := m.repo.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	trips, err := m.repo.ListTrips()
	if err != nil {
		return nil, fmt.Errorf("listing trips: %w", err)
	}
	custom, err := m.repo.CustomCategories()
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	images, err := m.blobs.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading images: %w", err)
	}
	if images == nil {
		images = map[string][]byte{}
	}

	return &Snapshot{
		Version:    Version,
		ExportedAt: m.now().UTC(),
		Data: Data{
			Receipts:         receipts,
			Trips:            trips,
			CustomCategories: custom,
			Images:           images,
		},
	}, nil
}

// WriteTo exports a snapshot to w as JSON
func (m *Manager) WriteTo(ctx context.Context, w io.Writer) error {
	snap, err := m.Export(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}

// imagePayload decodes an image given either as plain base64 or as a
// base64 data URL (data:image/jpeg;base64,...)
type imagePayload []byte

func (p *imagePayload) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return errors.New("image data URL is not base64")
		}
		raw = body
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("decoding image: %w", err)
	}
	*p = decoded
	return nil
}

// incoming mirrors Snapshot with pointers so absent fields can be told apart
// from empty ones
type incoming struct {
	Version *int `json:"version"`
	Data    *struct {
		Receipts         *[]receipt.Receipt       `json:"receipts"`
		Trips            *[]receipt.Trip          `json:"trips"`
		CustomCategories *[]string                `json:"customCategories"`
		Images           *map[string]imagePayload `json:"images"`
	} `json:"data"`
}

// ImportResult counts what an import restored
type ImportResult struct {
	Receipts   int `json:"receipts"`
	Trips      int `json:"trips"`
	Categories int `json:"categories"`
	Images     int `json:"images"`
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformed, reason)
}

func decode(r io.Reader) (*Data, error) {
	var in incoming
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, malformed(err.Error())
	}
	if in.Version == nil || *in.Version != Version {
		return nil, malformed("unsupported version")
	}
	if in.Data == nil {
		return nil, malformed("missing data")
	}
	d := in.Data
	if d.Receipts == nil || d.Trips == nil || d.CustomCategories == nil || d.Images == nil {
		return nil, malformed("data must contain receipts, trips, customCategories and images")
	}

	for i, rec := range *d.Receipts {
		if rec.ID == "" {
			return nil, malformed(fmt.Sprintf("receipt %d has no id", i))
		}
	}
	for i, t := range *d.Trips {
		if t.ID == "" {
			return nil, malformed(fmt.Sprintf("trip %d has no id", i))
		}
	}
	images := make(map[string][]byte, len(*d.Images))
	for id, payload := range *d.Images {
		if id == "" {
			return nil, malformed("image with empty id")
		}
		images[id] = payload
	}

	return &Data{
		Receipts:         *d.Receipts,
		Trips:            *d.Trips,
		CustomCategories: *d.CustomCategories,
		Images:           images,
	}, nil
}

// Import replaces all local state with the snapshot read from r. The
// document is fully validated before anything is cleared; images are
// replaced first and metadata last. If an image can't be written the
// previous images are put back and the metadata is left alone.
func (m *Manager) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	data, err := decode(r)
	if err != nil {
		return nil, err
	}

	previous, err := m.blobs.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current images: %w", err)
	}
	if err := m.blobs.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clearing images: %w", err)
	}
	if err := m.fill(ctx, data.Images); err != nil {
		if lost := m.rollback(ctx, previous); len(lost) > 0 {
			return nil, fmt.Errorf("restoring images: %w (image store changed, %d previous images lost: %s)",
				err, len(lost), strings.Join(lost, ", "))
		}
		return nil, fmt.Errorf("restoring images: %w (previous images put back)", err)
	}

	if err := m.repo.Replace(data.Receipts, data.Trips, data.CustomCategories); err != nil {
		return nil, fmt.Errorf("restoring collections: %w", err)
	}

	res := &ImportResult{
		Receipts:   len(data.Receipts),
		Trips:      len(data.Trips),
		Categories: len(data.CustomCategories),
		Images:     len(data.Images),
	}
	slog.InfoContext(ctx, "Snapshot imported",
		"receipts", res.Receipts,
		"trips", res.Trips,
		"categories", res.Categories,
		"images", res.Images,
	)
	return res, nil
}

func (m *Manager) fill(ctx context.Context, images map[string][]byte) error {
	for id, payload := range images {
		if err := m.blobs.Save(ctx, id, payload); err != nil {
			return fmt.Errorf("image %s: %w", id, err)
		}
	}
	return nil
}

// rollback replaces the image store with previous and returns the ids that
// could not be written back
func (m *Manager) rollback(ctx context.Context, previous map[string][]byte) []string {
	var lost []string
	if err := m.blobs.Clear(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to clear partially imported images", "error", err)
	}
	for id, payload := range previous {
		if err := m.blobs.Save(ctx, id, payload); err != nil {
			slog.ErrorContext(ctx, "Failed to put back image", "id", id, "error", err)
			lost = append(lost, id)
		}
	}
	sort.Strings(lost)
	return lost
}
