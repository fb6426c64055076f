package receipt

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/trip-ledger/internal/kvstore"
)

var _ = Describe("Trips", func() {
	var (
		ctx  context.Context
		repo *Repository
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		repo, err = NewRepositoryWithDeps(kvstore.New(kvstore.NewMemoryBackend()), newMockStorage(), &sequentialIDs{}, &steppingClock{})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("AddTrip", func() {
		var (
			name       string
			start, end Date
			trip       *Trip
			err        error
		)

		BeforeEach(func() {
			name = " Kyoto "
			start = MustParseDate("2024-03-01")
			end = MustParseDate("2024-03-10")
		})

		JustBeforeEach(func() {
			trip, err = repo.AddTrip(name, start, end)
		})

		It("stores the trimmed trip", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(trip.Name).To(Equal("Kyoto"))
			trips, _ := repo.ListTrips()
			Expect(trips).To(ConsistOf(*trip))
		})

		When("a field is missing", func() {
			BeforeEach(func() {
				name = ""
			})

			It("reports that all fields are required", func() {
				Expect(err).To(MatchError(ErrRequiredField))
				var verr *ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(verr.Reason).To(Equal("All fields are required."))
			})
		})

		When("start is after end", func() {
			BeforeEach(func() {
				start, end = end, start
			})

			It("rejects the range", func() {
				Expect(err).To(MatchError(ErrInvalidDateRange))
				var verr *ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(verr.Reason).To(Equal("Start date cannot be after end date."))
			})
		})

		When("a single-day trip", func() {
			BeforeEach(func() {
				end = start
			})

			It("is accepted", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})

		When("the name exists ignoring case", func() {
			BeforeEach(func() {
				_, addErr := repo.AddTrip("KYOTO", start, end)
				Expect(addErr).NotTo(HaveOccurred())
			})

			It("rejects the duplicate", func() {
				Expect(err).To(MatchError(ErrDuplicateTrip))
				trips, _ := repo.ListTrips()
				Expect(trips).To(HaveLen(1))
			})
		})
	})

	Describe("UpdateTrip", func() {
		It("allows keeping its own name", func() {
			trip, err := repo.AddTrip("Kyoto", MustParseDate("2024-03-01"), MustParseDate("2024-03-10"))
			Expect(err).NotTo(HaveOccurred())

			trip.Name = "kyoto"
			updated, err := repo.UpdateTrip(*trip)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Name).To(Equal("kyoto"))
		})

		It("rejects another trip's name", func() {
			_, err := repo.AddTrip("Kyoto", MustParseDate("2024-03-01"), MustParseDate("2024-03-10"))
			Expect(err).NotTo(HaveOccurred())
			osaka, err := repo.AddTrip("Osaka", MustParseDate("2024-03-11"), MustParseDate("2024-03-12"))
			Expect(err).NotTo(HaveOccurred())

			osaka.Name = "Kyoto"
			_, err = repo.UpdateTrip(*osaka)
			Expect(err).To(MatchError(ErrDuplicateTrip))
		})

		It("returns ErrNotFound for an unknown trip", func() {
			_, err := repo.UpdateTrip(Trip{ID: "nope", Name: "X", StartDate: MustParseDate("2024-01-01"), EndDate: MustParseDate("2024-01-01")})
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("DeleteTrip", func() {
		It("unassigns receipts without deleting them", func() {
			trip, err := repo.AddTrip("Kyoto", MustParseDate("2024-03-01"), MustParseDate("2024-03-10"))
			Expect(err).NotTo(HaveOccurred())
			rec, err := repo.AddReceipt(ctx, Draft{Currency: "JPY", TripID: trip.ID}, []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			other, err := repo.AddReceipt(ctx, Draft{Currency: "JPY"}, []byte("y"))
			Expect(err).NotTo(HaveOccurred())

			inTrip, _ := repo.ReceiptsForTrip(trip.ID)
			Expect(inTrip).To(HaveLen(1))

			Expect(repo.DeleteTrip(trip.ID)).To(Succeed())

			receipts, _ := repo.ListReceipts()
			Expect(receipts).To(HaveLen(2))
			for _, r := range receipts {
				Expect(r.TripID).To(BeEmpty())
			}
			trips, _ := repo.ListTrips()
			Expect(trips).To(BeEmpty())
			Expect(rec.ID).NotTo(Equal(other.ID))
		})

		It("is safe for an unknown trip", func() {
			Expect(repo.DeleteTrip("nope")).To(Succeed())
		})
	})

	Describe("ResolveTrip", func() {
		It("reports a dangling reference as not found", func() {
			trip, found, err := repo.ResolveTrip("gone")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(trip).To(BeNil())
		})
	})

	Describe("AssignTrip", func() {
		It("sets and clears the trip", func() {
			trip, _ := repo.AddTrip("Kyoto", MustParseDate("2024-03-01"), MustParseDate("2024-03-10"))
			rec, _ := repo.AddReceipt(ctx, Draft{Currency: "JPY"}, []byte("x"))

			assigned, err := repo.AssignTrip(rec.ID, trip.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(assigned.TripID).To(Equal(trip.ID))

			cleared, err := repo.AssignTrip(rec.ID, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(cleared.TripID).To(BeEmpty())
		})

		It("rejects an unknown trip", func() {
			rec, _ := repo.AddReceipt(ctx, Draft{Currency: "JPY"}, []byte("x"))
			_, err := repo.AssignTrip(rec.ID, "nope")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})
