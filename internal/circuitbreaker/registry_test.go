package circuitbreaker_test

import (
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/self-healing/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var (
		clock    *fakeClock
		registry *circuitbreaker.Registry
	)

	BeforeEach(func() {
		clock = newFakeClock()
		registry = circuitbreaker.NewRegistry(3, 30*time.Second).WithClock(clock.Now)
	})

	Describe("GetBreaker", func() {
		It("should create a closed breaker for an unknown component", func() {
			cb := registry.GetBreaker("db")
			Expect(cb).NotTo(BeNil())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should return the same breaker for the same name", func() {
			Expect(registry.GetBreaker("db")).To(BeIdenticalTo(registry.GetBreaker("db")))
		})

		It("should return different breakers for different names", func() {
			Expect(registry.GetBreaker("db")).NotTo(BeIdenticalTo(registry.GetBreaker("cache")))
		})
	})

	Describe("RecordResult", func() {
		It("should open after the threshold and report transitions", func() {
			var mutex sync.Mutex
			var transitions []circuitbreaker.State
			registry.OnTransition(func(name string, from, to circuitbreaker.State) {
				mutex.Lock()
				defer mutex.Unlock()
				Expect(name).To(Equal("cache"))
				transitions = append(transitions, to)
			})

			registry.RecordResult("cache", false)
			registry.RecordResult("cache", false)
			Expect(registry.RecordResult("cache", false)).To(Equal(circuitbreaker.StateOpen))

			clock.Advance(30 * time.Second)
			Expect(registry.RecordResult("cache", true)).To(Equal(circuitbreaker.StateClosed))
			Expect(transitions).To(Equal([]circuitbreaker.State{circuitbreaker.StateOpen, circuitbreaker.StateClosed}))
		})
	})

	Describe("Allow", func() {
		It("should report the HalfOpen promotion", func() {
			var seen []circuitbreaker.State
			registry.OnTransition(func(_ string, _, to circuitbreaker.State) { seen = append(seen, to) })

			for i := 0; i < 3; i++ {
				registry.RecordResult("feed", false)
			}
			Expect(registry.Allow("feed")).To(BeFalse())

			clock.Advance(31 * time.Second)
			Expect(registry.Allow("feed")).To(BeTrue())
			Expect(seen).To(Equal([]circuitbreaker.State{circuitbreaker.StateOpen, circuitbreaker.StateHalfOpen}))
		})
	})

	Describe("Reset", func() {
		It("should force Closed with zero failures", func() {
			for i := 0; i < 3; i++ {
				registry.RecordResult("cache", false)
			}
			Expect(registry.Reset("cache")).To(BeTrue())

			snap, ok := registry.Snapshot("cache")
			Expect(ok).To(BeTrue())
			Expect(snap.State).To(Equal(circuitbreaker.StateClosed))
			Expect(snap.Failures).To(BeZero())
		})

		It("should report unknown breakers", func() {
			Expect(registry.Reset("nope")).To(BeFalse())
		})
	})

	Describe("Stale", func() {
		It("should list open breakers past the grace period", func() {
			for i := 0; i < 3; i++ {
				registry.RecordResult("a", false)
				registry.RecordResult("b", false)
			}
			clock.Advance(35 * time.Second)
			Expect(registry.Stale(10 * time.Second)).To(BeEmpty())

			clock.Advance(10 * time.Second)
			Expect(registry.Stale(10 * time.Second)).To(Equal([]string{"a", "b"}))
		})
	})

	Describe("Snapshot", func() {
		It("should report missing breakers", func() {
			_, ok := registry.Snapshot("missing")
			Expect(ok).To(BeFalse())
		})

		It("should encode the state by name", func() {
			registry.GetBreaker("db")
			stats := registry.Stats()
			raw, err := json.Marshal(stats["db"])
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring(`"state":"Closed"`))
		})
	})

	Describe("Concurrent access", func() {
		It("should handle concurrent GetBreaker calls safely", func() {
			const goroutines = 100

			var wg sync.WaitGroup
			wg.Add(goroutines)
			for i := 0; i < goroutines; i++ {
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(registry.GetBreaker("db")).NotTo(BeNil())
				}()
			}
			wg.Wait()

			Expect(registry.Stats()).To(HaveLen(1))
		})

		It("should handle concurrent results on different breakers", func() {
			const goroutines = 50

			var wg sync.WaitGroup
			wg.Add(goroutines * 2)
			for i := 0; i < goroutines; i++ {
				go func() {
					defer wg.Done()
					registry.RecordResult("a", false)
				}()
				go func() {
					defer wg.Done()
					registry.RecordResult("b", true)
				}()
			}
			wg.Wait()

			Expect(registry.GetBreaker("a").State()).To(Equal(circuitbreaker.StateOpen))
			Expect(registry.GetBreaker("b").State()).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Describe("Clear", func() {
		It("should drop all breakers", func() {
			registry.GetBreaker("a")
			registry.GetBreaker("b")
			registry.Clear()
			Expect(registry.Stats()).To(BeEmpty())
		})
	})
})
