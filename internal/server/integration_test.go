package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/trip-ledger/internal/blobstore"
	"github.com/zombor/trip-ledger/internal/currency"
	"github.com/zombor/trip-ledger/internal/kvstore"
	"github.com/zombor/trip-ledger/internal/receipt"
	"github.com/zombor/trip-ledger/internal/snapshot"
	"github.com/zombor/trip-ledger/internal/syncer"
)

var _ = Describe("Integration", func() {
	var (
		tempDir  string
		store    *kvstore.Store
		blobs    *blobstore.LocalStorage
		server   *Server
		ghServer *ghttp.Server
	)

	open := func(backend string) *kvstore.Store {
		path := filepath.Join(tempDir, "ledger.db")
		var (
			b   kvstore.Backend
			err error
		)
		switch backend {
		case "bolt":
			b, err = kvstore.NewBoltBackend(path)
		case "sqlite":
			b, err = kvstore.NewSQLiteBackend(context.Background(), path)
		}
		Expect(err).NotTo(HaveOccurred())
		return kvstore.New(b)
	}

	build := func() {
		repo, err := receipt.NewRepository(store, blobs)
		Expect(err).NotTo(HaveOccurred())
		engine := syncer.NewEngine(repo)
		repo.SetConnectivity(engine)
		server = NewServer(Services{
			Repository: repo,
			Extractor:  &mockExtractor{},
			Engine:     engine,
			Rates:      currency.NewCache(store, tableRates{}, 0),
			Snapshots:  snapshot.NewManager(repo, blobs),
		}, BasicAuth{})
	}

	for _, backend := range []string{"bolt", "sqlite"} {
		When("backed by "+backend, func() {
			BeforeEach(func() {
				var err error
				tempDir = GinkgoT().TempDir()
				store = open(backend)
				blobs, err = blobstore.NewLocalStorage(filepath.Join(tempDir, "images"))
				Expect(err).NotTo(HaveOccurred())
				build()
				ghServer = ghttp.NewServer()
			})

			AfterEach(func() {
				ghServer.Close()
				if store != nil {
					store.Close()
				}
			})

			It("uploads, scans and persists a receipt across restarts", func() {
				ghServer.AppendHandlers(
					server.ServeHTTP, // upload
					server.ServeHTTP, // list
				)

				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				part, err := writer.CreateFormFile("file", "receipt.pdf")
				Expect(err).NotTo(HaveOccurred())
				_, err = part.Write([]byte("%PDF-1.4 ... fake pdf content ..."))
				Expect(err).NotTo(HaveOccurred())
				Expect(writer.Close()).To(Succeed())

				req, err := http.NewRequest(http.MethodPost, ghServer.URL()+"/api/receipts", body)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", writer.FormDataContentType())

				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("application/json"))

				var uploaded uploadResponse
				data, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(data, &uploaded)).To(Succeed())
				Expect(uploaded.Receipts).To(HaveLen(1))
				id := uploaded.Receipts[0].ID

				// image is on disk
				image, err := blobs.Get(context.Background(), id)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(image)).To(HavePrefix("%PDF"))

				listResp, err := http.Get(ghServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer listResp.Body.Close()
				var listed []receipt.Receipt
				Expect(json.NewDecoder(listResp.Body).Decode(&listed)).To(Succeed())
				Expect(listed).To(HaveLen(1))

				// reopen the database as a restart would
				Expect(store.Close()).To(Succeed())
				store = open(backend)
				repo, err := receipt.NewRepository(store, blobs)
				Expect(err).NotTo(HaveOccurred())

				saved, err := repo.GetReceipt(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.Merchant.Translated).To(Equal("Convenience Store"))
				Expect(saved.Total).To(Equal(150.0))
				Expect(saved.Status).To(Equal(receipt.StatusPending))
			})
		})
	}
})
