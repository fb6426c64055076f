package receipt

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/trip-ledger/internal/kvstore"
)

// failingBackend lets tests break the key-value store
type failingBackend struct {
	*kvstore.MemoryBackend
	saveErr    error
	saveAllErr error
}

func (f *failingBackend) Save(key string, value []byte) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryBackend.Save(key, value)
}

func (f *failingBackend) SaveAll(values map[string][]byte) error {
	if f.saveAllErr != nil {
		return f.saveAllErr
	}
	return f.MemoryBackend.SaveAll(values)
}

var _ = Describe("Repository", func() {
	var (
		ctx     context.Context
		backend *failingBackend
		store   *kvstore.Store
		blobs   *mockStorage
		conn    *fixedConnectivity
		repo    *Repository
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = &failingBackend{MemoryBackend: kvstore.NewMemoryBackend()}
		store = kvstore.New(backend)
		blobs = newMockStorage()
		conn = &fixedConnectivity{}

		var err error
		repo, err = NewRepositoryWithDeps(store, blobs, &sequentialIDs{},
			&steppingClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)})
		Expect(err).NotTo(HaveOccurred())
		repo.SetConnectivity(conn)
	})

	Describe("AddReceipt", func() {
		var (
			draft   Draft
			image   []byte
			created *Receipt
			err     error
		)

		BeforeEach(func() {
			draft = Draft{
				Merchant: Text{Original: "ローソン", Translated: "Lawson"},
				Date:     MustParseDate("2024-03-05"),
				Currency: "JPY",
				Items:    []Item{jpy("おにぎり", 500, "Food & Drink"), jpy("お茶", 300, "Food & Drink")},
			}
			image = []byte("jpeg bytes")
		})

		JustBeforeEach(func() {
			created, err = repo.AddReceipt(ctx, draft, image)
		})

		When("offline", func() {
			It("starts pending", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(created.Status).To(Equal(StatusPending))
			})

			It("recomputes the total from the items", func() {
				Expect(created.Total).To(Equal(800.0))
			})

			It("saves the image under the receipt id", func() {
				Expect(blobs.has(created.ID)).To(BeTrue())
			})

			It("persists the receipt", func() {
				stored, getErr := repo.GetReceipt(created.ID)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(stored.Merchant.Translated).To(Equal("Lawson"))
			})
		})

		When("online", func() {
			BeforeEach(func() {
				conn.online = true
			})

			It("starts synced", func() {
				Expect(created.Status).To(Equal(StatusSynced))
			})
		})

		When("items are missing", func() {
			BeforeEach(func() {
				draft.Items = nil
			})

			It("stores an empty item list and a zero total", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(created.Items).NotTo(BeNil())
				Expect(created.Items).To(BeEmpty())
				Expect(created.Total).To(BeZero())
			})
		})

		When("an item has an unknown category", func() {
			BeforeEach(func() {
				draft.Items = []Item{jpy("pen", 100, "Stationery")}
			})

			It("falls back to Other", func() {
				Expect(created.Items[0].Category).To(Equal(OtherCategory))
			})
		})

		When("the image cannot be saved", func() {
			BeforeEach(func() {
				blobs.saveErr = errors.New("quota exceeded")
			})

			It("fails the whole operation", func() {
				Expect(err).To(MatchError(blobs.saveErr))
				Expect(created).To(BeNil())
			})

			It("writes no metadata", func() {
				receipts, listErr := repo.ListReceipts()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(receipts).To(BeEmpty())
			})
		})

		When("the metadata cannot be saved", func() {
			BeforeEach(func() {
				backend.saveErr = errors.New("disk full")
			})

			It("returns the error and discards the image", func() {
				Expect(err).To(MatchError(backend.saveErr))
				Expect(blobs.GetAll(ctx)).To(BeEmpty())
			})
		})
	})

	Describe("ordering", func() {
		It("keeps receipts sorted by date desc, newest creation first on ties", func() {
			for _, d := range []string{"2024-03-01", "2024-03-05", "2024-03-01"} {
				_, err := repo.AddReceipt(ctx, Draft{Date: MustParseDate(d), Currency: "JPY"}, []byte("x"))
				Expect(err).NotTo(HaveOccurred())
			}

			receipts, err := repo.ListReceipts()
			Expect(err).NotTo(HaveOccurred())
			ids := []string{}
			for _, r := range receipts {
				ids = append(ids, r.ID)
			}
			Expect(ids).To(Equal([]string{"id-2", "id-3", "id-1"}))
		})
	})

	Describe("AddReceipts", func() {
		It("skips only the uploads whose image fails", func() {
			blobs.failIDs["id-2"] = true

			result, err := repo.AddReceipts(ctx, []Upload{
				{Draft: Draft{Date: MustParseDate("2024-03-01"), Currency: "JPY"}, Image: []byte("a")},
				{Draft: Draft{Date: MustParseDate("2024-03-02"), Currency: "JPY"}, Image: []byte("b")},
				{Draft: Draft{Date: MustParseDate("2024-03-03"), Currency: "JPY"}, Image: []byte("c")},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Created).To(HaveLen(2))
			Expect(result.Failed).To(HaveLen(1))
			Expect(result.Failed[0].Index).To(Equal(1))

			receipts, _ := repo.ListReceipts()
			Expect(receipts).To(HaveLen(2))
		})

		When("the single commit fails", func() {
			It("writes nothing and discards the saved images", func() {
				backend.saveErr = errors.New("disk full")

				_, err := repo.AddReceipts(ctx, []Upload{
					{Draft: Draft{Currency: "JPY"}, Image: []byte("a")},
					{Draft: Draft{Currency: "JPY"}, Image: []byte("b")},
				})
				Expect(err).To(HaveOccurred())
				Expect(blobs.GetAll(ctx)).To(BeEmpty())
			})
		})
	})

	Describe("UpdateReceipt", func() {
		var created *Receipt

		BeforeEach(func() {
			var err error
			created, err = repo.AddReceipt(ctx, Draft{Date: MustParseDate("2024-03-05"), Currency: "JPY",
				Items: []Item{jpy("a", 100, "Groceries")}}, []byte("x"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("replaces the receipt and recomputes the total", func() {
			changed := *created
			changed.Items = []Item{jpy("a", 100, "Groceries"), jpy("b", 250, "Groceries")}
			changed.Total = 1
			changed.Status = StatusSynced

			updated, err := repo.UpdateReceipt(ctx, changed)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Total).To(Equal(350.0))
			Expect(updated.Status).To(Equal(StatusPending))
		})

		It("returns ErrNotFound for an unknown id", func() {
			_, err := repo.UpdateReceipt(ctx, Receipt{ID: "nope"})
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("DeleteReceipt", func() {
		var created *Receipt

		BeforeEach(func() {
			var err error
			created, err = repo.AddReceipt(ctx, Draft{Currency: "JPY"}, []byte("x"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("removes metadata and image", func() {
			Expect(repo.DeleteReceipt(ctx, created.ID)).To(Succeed())
			_, err := repo.GetReceipt(created.ID)
			Expect(err).To(MatchError(ErrNotFound))
			Expect(blobs.has(created.ID)).To(BeFalse())
		})

		When("the image delete fails", func() {
			BeforeEach(func() {
				blobs.deleteErr = errors.New("io error")
			})

			It("still removes the metadata", func() {
				Expect(repo.DeleteReceipt(ctx, created.ID)).To(Succeed())
				_, err := repo.GetReceipt(created.ID)
				Expect(err).To(MatchError(ErrNotFound))
				Expect(blobs.has(created.ID)).To(BeTrue())
			})
		})

		It("is a no-op for an unknown id", func() {
			Expect(repo.DeleteReceipt(ctx, "nope")).To(Succeed())
			receipts, _ := repo.ListReceipts()
			Expect(receipts).To(HaveLen(1))
		})
	})

	Describe("item editing", func() {
		It("keeps the total equal to the sum of prices", func() {
			created, err := repo.AddReceipt(ctx, Draft{Currency: "JPY"}, []byte("x"))
			Expect(err).NotTo(HaveOccurred())

			_, err = repo.AddItem(created.ID, jpy("a", 500, "Food & Drink"))
			Expect(err).NotTo(HaveOccurred())
			rec, err := repo.AddItem(created.ID, jpy("b", 300, "Food & Drink"))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Total).To(Equal(800.0))

			rec, err = repo.RemoveItem(created.ID, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Total).To(Equal(500.0))

			rec, err = repo.UpdateItem(created.ID, 0, jpy("a", 0.1, "Food & Drink"))
			Expect(err).NotTo(HaveOccurred())
			rec, err = repo.AddItem(created.ID, jpy("c", 0.2, "Food & Drink"))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Total).To(Equal(0.3))
		})

		It("rejects an out of range index", func() {
			created, _ := repo.AddReceipt(ctx, Draft{Currency: "JPY"}, []byte("x"))
			_, err := repo.RemoveItem(created.ID, 3)
			Expect(err).To(MatchError(ErrInvalidItem))
		})
	})

	Describe("legacy migration", func() {
		It("pushes a receipt-level category into uncategorized items", func() {
			legacy := kvstore.NewSlot(store, SlotReceipts, []Receipt{})
			Expect(legacy.Set([]Receipt{{
				ID:             "old",
				Currency:       "JPY",
				LegacyCategory: "Lodging",
				Items:          []Item{{Price: 100}, {Price: 50}},
			}})).To(Succeed())

			migrated, err := NewRepository(store, blobs)
			Expect(err).NotTo(HaveOccurred())
			rec, err := migrated.GetReceipt("old")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.LegacyCategory).To(BeEmpty())
			Expect(rec.Items[0].Category).To(Equal("Lodging"))
			Expect(rec.Items[1].Category).To(Equal("Lodging"))
		})
	})

	Describe("Replace", func() {
		It("swaps every collection", func() {
			_, err := repo.AddReceipt(ctx, Draft{Currency: "JPY"}, []byte("x"))
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.Replace(
				[]Receipt{{ID: "r1", Currency: "EUR", Items: []Item{jpy("a", 2, "Other")}, Total: 99}},
				[]Trip{{ID: "t1", Name: "Lisbon"}},
				[]string{"Souvenirs"},
			)).To(Succeed())

			receipts, _ := repo.ListReceipts()
			Expect(receipts).To(HaveLen(1))
			Expect(receipts[0].Total).To(Equal(2.0))
			trips, _ := repo.ListTrips()
			Expect(trips).To(HaveLen(1))
			custom, _ := repo.CustomCategories()
			Expect(custom).To(Equal([]string{"Souvenirs"}))
		})

		It("changes nothing when the commit fails", func() {
			_, err := repo.AddReceipt(ctx, Draft{Currency: "JPY"}, []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			backend.saveAllErr = errors.New("disk full")

			Expect(repo.Replace(nil, nil, nil)).To(MatchError(backend.saveAllErr))
			receipts, _ := repo.ListReceipts()
			Expect(receipts).To(HaveLen(1))
		})
	})
})
