package kvstore

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// failingBackend wraps a MemoryBackend with injectable errors
type failingBackend struct {
	*MemoryBackend
	loadErr    error
	saveErr    error
	saveAllErr error
}

func (f *failingBackend) Load(key string) ([]byte, bool, error) {
	if f.loadErr != nil {
		return nil, false, f.loadErr
	}
	return f.MemoryBackend.Load(key)
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

var _ = Describe("Slot", func() {
	var (
		backend *failingBackend
		store   *Store
		rates   *Slot[map[string]float64]
		names   *Slot[[]string]
	)

	BeforeEach(func() {
		backend = &failingBackend{MemoryBackend: NewMemoryBackend()}
		store = New(backend)
		rates = NewSlot(store, "ratesCache", map[string]float64{})
		names = NewSlot[[]string](store, "customCategories", nil)
	})

	Describe("Get", func() {
		When("nothing has been written", func() {
			It("returns the default", func() {
				value, err := rates.Get()
				Expect(err).NotTo(HaveOccurred())
				Expect(value).To(BeEmpty())
				Expect(value).NotTo(BeNil())
			})

			It("returns an independent copy of the default each time", func() {
				first, err := rates.Get()
				Expect(err).NotTo(HaveOccurred())
				first["2024-01-01_USD_EUR"] = 0.9

				second, err := rates.Get()
				Expect(err).NotTo(HaveOccurred())
				Expect(second).To(BeEmpty())
			})
		})

		When("the backend fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("disk gone")
				backend.loadErr = setupErr
			})

			It("returns the error", func() {
				_, err := rates.Get()
				Expect(err).To(MatchError(setupErr))
			})
		})
	})

	Describe("Set", func() {
		var err error

		JustBeforeEach(func() {
			err = names.Set([]string{"Souvenirs"})
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("persists the value", func() {
				value, getErr := names.Get()
				Expect(getErr).NotTo(HaveOccurred())
				Expect(value).To(Equal([]string{"Souvenirs"}))
			})
		})

		When("saving fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("write failed")
				backend.saveErr = setupErr
			})

			It("reports the failure", func() {
				Expect(err).To(MatchError(setupErr))
			})
		})
	})

	Describe("Update", func() {
		It("derives the new value from the stored one", func() {
			Expect(names.Set([]string{"A"})).To(Succeed())

			next, err := names.Update(func(prev []string) ([]string, error) {
				return append(prev, "B"), nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(next).To(Equal([]string{"A", "B"}))

			stored, err := names.Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(Equal([]string{"A", "B"}))
		})

		It("writes nothing when fn fails", func() {
			Expect(names.Set([]string{"A"})).To(Succeed())
			fnErr := errors.New("rejected")

			_, err := names.Update(func(prev []string) ([]string, error) {
				return nil, fnErr
			})
			Expect(err).To(MatchError(fnErr))

			stored, _ := names.Get()
			Expect(stored).To(Equal([]string{"A"}))
		})

		It("does not lose concurrent updates", func() {
			counter := NewSlot(store, "counter", 0)
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := counter.Update(func(prev int) (int, error) {
						return prev + 1, nil
					})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			value, err := counter.Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(50))
		})
	})

	Describe("Commit", func() {
		It("writes every staged slot", func() {
			err := store.Commit(
				names.Stage([]string{"Souvenirs"}),
				rates.Stage(map[string]float64{"2024-01-01_USD_EUR": 0.91}),
			)
			Expect(err).NotTo(HaveOccurred())

			storedNames, _ := names.Get()
			Expect(storedNames).To(Equal([]string{"Souvenirs"}))
			storedRates, _ := rates.Get()
			Expect(storedRates).To(HaveKeyWithValue("2024-01-01_USD_EUR", 0.91))
		})

		When("the backend commit fails", func() {
			It("leaves every slot untouched", func() {
				backend.saveAllErr = errors.New("commit failed")

				err := store.Commit(names.Stage([]string{"X"}))
				Expect(err).To(MatchError(backend.saveAllErr))

				storedNames, _ := names.Get()
				Expect(storedNames).To(BeEmpty())
			})
		})

		When("a staged value cannot be encoded", func() {
			It("returns an error before writing anything", func() {
				bad := NewSlot[any](store, "bad", nil)

				err := store.Commit(names.Stage([]string{"X"}), bad.Stage(make(chan int)))
				Expect(err).To(HaveOccurred())

				storedNames, _ := names.Get()
				Expect(storedNames).To(BeEmpty())
			})
		})
	})
})
