package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/zombor/trip-ledger/internal/scanning"
)

// DraftFromExtraction turns extractor output into a receipt draft. The
// extractor's stated total is ignored; the repository recomputes it from the
// items.
func DraftFromExtraction(ext *scanning.Extraction) Draft {
	draft := Draft{
		Merchant: Text{Original: ext.Merchant.Original, Translated: ext.Merchant.Translated},
		Currency: strings.ToUpper(strings.TrimSpace(ext.Currency)),
		Items:    make([]Item, 0, len(ext.Items)),
	}
	if d, err := ParseDate(ext.Date); err == nil {
		draft.Date = d
	}
	if ext.Location != nil {
		draft.Location = ext.Location.Determined
	}
	for _, item := range ext.Items {
		draft.Items = append(draft.Items, Item{
			Description: Text{Original: item.Description.Original, Translated: item.Description.Translated},
			Price:       item.Price,
			Category:    item.Category,
		})
	}
	return draft
}

// QueueStatus is the state of one upload in a ScanQueue
type QueueStatus string

const (
	QueueQueued     QueueStatus = "queued"
	QueueProcessing QueueStatus = "processing"
	QueueDone       QueueStatus = "done"
	QueueError      QueueStatus = "error"
)

// QueueResult is a snapshot of one queued upload
type QueueResult struct {
	Index       int         `json:"index"`
	Name        string      `json:"name"`
	Status      QueueStatus `json:"status"`
	Draft       *Draft      `json:"draft,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type queueItem struct {
	QueueResult
	contentType string
	image       []byte
}

// ScanQueue runs an extractor over uploads one at a time. Each upload ends
// up done or errored on its own; failures are never retried here.
type ScanQueue struct {
	mu        sync.Mutex
	extractor scanning.Extractor
	repo      *Repository
	coords    *scanning.Coordinates
	items     []*queueItem
}

// NewScanQueue creates an empty queue
func NewScanQueue(extractor scanning.Extractor, repo *Repository) *ScanQueue {
	return &ScanQueue{extractor: extractor, repo: repo}
}

// SetCoordinates records the user's position as an extraction hint
func (q *ScanQueue) SetCoordinates(coords *scanning.Coordinates) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.coords = coords
}

// Enqueue adds an upload and returns its index
func (q *ScanQueue) Enqueue(name, contentType string, image []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, &queueItem{
		QueueResult: QueueResult{Index: len(q.items), Name: name, Status: QueueQueued},
		contentType: contentType,
		image:       image,
	})
	return len(q.items) - 1
}

// next claims the first queued item
func (q *ScanQueue) next() (*queueItem, *scanning.Coordinates) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.Status == QueueQueued {
			item.Status = QueueProcessing
			return item, q.coords
		}
	}
	return nil, nil
}

// Process extracts every queued upload sequentially
func (q *ScanQueue) Process(ctx context.Context) []QueueResult {
	categories, err := q.repo.Categories()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load categories, using defaults", "error", err)
		categories = DefaultCategories
	}

	for {
		item, coords := q.next()
		if item == nil {
			break
		}

		ext, err := q.extractor.Extract(ctx, item.image, item.contentType, categories, coords)

		q.mu.Lock()
		if err != nil {
			item.Status = QueueError
			item.Error = "Failed to process receipt."
			extractionResults.WithLabelValues("error").Inc()
			slog.WarnContext(ctx, "Failed to extract receipt", "name", item.Name, "content_type", item.contentType, "size", len(item.image), "error", err)
		} else {
			draft := DraftFromExtraction(ext)
			item.Status = QueueDone
			item.Draft = &draft
			if ext.Location != nil {
				item.Suggestions = ext.Location.Suggestions
			}
			extractionResults.WithLabelValues("done").Inc()
		}
		q.mu.Unlock()
	}

	return q.Results()
}

// Results returns a snapshot of every upload in the queue
func (q *ScanQueue) Results() []QueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	results := make([]QueueResult, len(q.items))
	for i, item := range q.items {
		results[i] = item.QueueResult
	}
	return results
}

// Edit replaces the draft of a finished upload before it is submitted
func (q *ScanQueue) Edit(index int, draft Draft) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) || q.items[index].Status != QueueDone {
		return fmt.Errorf("queue item %d: %w", index, ErrNotFound)
	}
	q.items[index].Draft = &draft
	return nil
}

// Submit creates receipts for every finished upload and removes them from
// the queue. Errored uploads stay for the caller to inspect or drop.
func (q *ScanQueue) Submit(ctx context.Context, tripID string) (*BatchResult, error) {
	q.mu.Lock()
	var uploads []Upload
	submitted := map[*queueItem]bool{}
	for _, item := range q.items {
		if item.Status == QueueDone && item.Draft != nil {
			draft := *item.Draft
			if tripID != "" {
				draft.TripID = tripID
			}
			uploads = append(uploads, Upload{Draft: draft, Image: item.image})
			submitted[item] = true
		}
	}
	q.mu.Unlock()

	if len(uploads) == 0 {
		return &BatchResult{}, nil
	}

	result, err := q.repo.AddReceipts(ctx, uploads)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	remaining := q.items[:0]
	for _, item := range q.items {
		if !submitted[item] {
			item.Index = len(remaining)
			remaining = append(remaining, item)
		}
	}
	q.items = remaining
	q.mu.Unlock()
	return result, nil
}

// Clear drops every upload
func (q *ScanQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
