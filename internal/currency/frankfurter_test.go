package currency

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/trip-ledger/internal/receipt"
)

var _ = Describe("Frankfurter", func() {
	var (
		server *ghttp.Server
		client *Frankfurter
		date   receipt.Date
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		client = NewFrankfurter(server.URL() + "/")
		date = receipt.MustParseDate("2024-03-10")
	})

	AfterEach(func() {
		server.Close()
	})

	It("returns the published rate", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodGet, "/2024-03-10", "from=JPY&to=USD"),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"amount": 1.0,
				"base":   "JPY",
				"date":   "2024-03-08",
				"rates":  map[string]float64{"USD": 0.0068},
			}),
		))

		rate, err := client.Rate(context.Background(), date, "JPY", "USD")
		Expect(err).NotTo(HaveOccurred())
		Expect(rate).To(Equal(0.0068))
	})

	It("reports no data on 404", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `{"message":"not found"}`))

		_, err := client.Rate(context.Background(), date, "JPY", "USD")
		Expect(err).To(MatchError(ErrNoData))
	})

	It("reports a missing rate when the pair is absent", func() {
		server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
			"rates": map[string]float64{"EUR": 0.0061},
		}))

		_, err := client.Rate(context.Background(), date, "JPY", "USD")
		Expect(err).To(MatchError(ErrRateMissing))
	})

	It("fails on a server error", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "boom"))

		_, err := client.Rate(context.Background(), date, "JPY", "USD")
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(ErrNoData))
		Expect(err.Error()).To(ContainSubstring("status 500"))
	})

	It("fails on malformed JSON", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "{"))

		_, err := client.Rate(context.Background(), date, "JPY", "USD")
		Expect(err).To(MatchError(ContainSubstring("decoding response")))
	})
})
