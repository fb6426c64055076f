package receipt

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/trip-ledger/internal/kvstore"
	"github.com/zombor/trip-ledger/internal/scanning"
)

var _ = Describe("ScanQueue", func() {
	var (
		ctx       context.Context
		repo      *Repository
		extractor *mockExtractor
		queue     *ScanQueue
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		repo, err = NewRepositoryWithDeps(kvstore.New(kvstore.NewMemoryBackend()), newMockStorage(), &sequentialIDs{}, &steppingClock{})
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.AddCategory("Souvenirs")).To(Succeed())

		extractor = &mockExtractor{results: map[string]*scanning.Extraction{
			"good": {
				Merchant: scanning.LocalizedText{Original: "ローソン", Translated: "Lawson"},
				Date:     "2024-03-05",
				Location: &scanning.Location{Determined: "Kyoto, Japan", Suggestions: []string{"Japan"}},
				Total:    9999,
				Currency: "jpy",
				Items: []scanning.ExtractedItem{
					{Description: scanning.LocalizedText{Original: "おにぎり"}, Price: 500, Category: "Food & Drink"},
					{Description: scanning.LocalizedText{Original: "お茶"}, Price: 300, Category: "Food & Drink"},
				},
			},
		}}
		queue = NewScanQueue(extractor, repo)
	})

	It("marks each upload done or errored independently", func() {
		queue.Enqueue("a.jpg", "image/jpeg", []byte("good"))
		queue.Enqueue("b.jpg", "image/jpeg", []byte("blurry"))
		queue.Enqueue("c.jpg", "image/jpeg", []byte("good"))

		results := queue.Process(ctx)
		Expect(results).To(HaveLen(3))
		Expect(results[0].Status).To(Equal(QueueDone))
		Expect(results[1].Status).To(Equal(QueueError))
		Expect(results[1].Error).To(Equal("Failed to process receipt."))
		Expect(results[2].Status).To(Equal(QueueDone))
		Expect(extractor.calls).To(Equal(3))
	})

	It("passes the full category set to the extractor", func() {
		queue.Enqueue("a.jpg", "image/jpeg", []byte("good"))
		queue.Process(ctx)
		Expect(extractor.categories).To(ContainElements("Souvenirs", "Other"))
	})

	It("never retries an errored upload", func() {
		queue.Enqueue("b.jpg", "image/jpeg", []byte("blurry"))
		queue.Process(ctx)
		queue.Process(ctx)
		Expect(extractor.calls).To(Equal(1))
	})

	It("submits finished uploads with recomputed totals", func() {
		queue.Enqueue("a.jpg", "image/jpeg", []byte("good"))
		queue.Enqueue("b.jpg", "image/jpeg", []byte("blurry"))
		queue.Process(ctx)

		result, err := queue.Submit(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created).To(HaveLen(1))
		Expect(result.Created[0].Total).To(Equal(800.0))
		Expect(result.Created[0].Currency).To(Equal("JPY"))
		Expect(result.Created[0].Location).To(Equal("Kyoto, Japan"))

		remaining := queue.Results()
		Expect(remaining).To(HaveLen(1))
		Expect(remaining[0].Name).To(Equal("b.jpg"))
		Expect(remaining[0].Index).To(Equal(0))
	})

	It("applies edits made before submission", func() {
		idx := queue.Enqueue("a.jpg", "image/jpeg", []byte("good"))
		results := queue.Process(ctx)

		draft := *results[idx].Draft
		draft.Items = draft.Items[:1]
		Expect(queue.Edit(idx, draft)).To(Succeed())

		result, err := queue.Submit(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Created[0].Total).To(Equal(500.0))
	})
})

var _ = Describe("DraftFromExtraction", func() {
	It("ignores the stated total and keeps the items", func() {
		draft := DraftFromExtraction(&scanning.Extraction{
			Date:     "not a date",
			Total:    10,
			Currency: " usd ",
			Items:    []scanning.ExtractedItem{{Price: 4, Category: "Other"}},
		})
		Expect(draft.Date.IsZero()).To(BeTrue())
		Expect(draft.Currency).To(Equal("USD"))
		Expect(SumItems(draft.Items)).To(Equal(4.0))
	})
})

var _ = Describe("Date", func() {
	It("round-trips through JSON as a calendar day", func() {
		data, err := json.Marshal(struct {
			D Date `json:"d"`
		}{MustParseDate("2024-02-29")})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`{"d":"2024-02-29"}`))
	})

	It("walks back across month boundaries", func() {
		Expect(MustParseDate("2024-03-01").AddDays(-1).String()).To(Equal("2024-02-29"))
	})

	It("rejects a malformed date", func() {
		var d Date
		Expect(json.Unmarshal([]byte(`"03/05/2024"`), &d)).NotTo(Succeed())
	})
})
