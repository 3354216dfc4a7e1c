package circuitbreaker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/self-healing/internal/circuitbreaker"
)

var _ = Describe("CircuitBreaker", func() {
	var (
		clock    *fakeClock
		registry *circuitbreaker.Registry
		cb       *circuitbreaker.CircuitBreaker
	)

	BeforeEach(func() {
		clock = newFakeClock()
		registry = circuitbreaker.NewRegistry(3, 10*time.Second).WithClock(clock.Now)
		cb = registry.GetBreaker("cache")
	})

	trip := func() {
		cb.RecordResult(false)
		cb.RecordResult(false)
		cb.RecordResult(false)
		Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
	}

	Describe("NewCircuitBreaker", func() {
		It("should create a circuit breaker in closed state", func() {
			b := circuitbreaker.NewCircuitBreaker(5, 30*time.Second)
			Expect(b).NotTo(BeNil())
			Expect(b.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(b.Snapshot().Threshold).To(Equal(5))
		})

		It("should clamp a non-positive threshold to one", func() {
			b := circuitbreaker.NewCircuitBreaker(0, time.Second)
			b.RecordResult(false)
			Expect(b.State()).To(Equal(circuitbreaker.StateOpen))
		})
	})

	Context("when in Closed state", func() {
		It("should allow attempts", func() {
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should remain closed below the threshold", func() {
			cb.RecordResult(false)
			cb.RecordResult(false)
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Snapshot().Failures).To(Equal(2))
		})

		It("should open after three consecutive failures", func() {
			trip()
			snap := cb.Snapshot()
			Expect(snap.Failures).To(Equal(3))
			Expect(snap.LastFailure).To(Equal(clock.Now()))
			Expect(snap.NextRetry).To(Equal(clock.Now().Add(10 * time.Second)))
		})

		It("should zero the failure count on success", func() {
			cb.RecordResult(false)
			cb.RecordResult(false)
			cb.RecordResult(true)
			cb.RecordResult(false)
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Snapshot().Failures).To(Equal(1))
		})
	})

	Context("when in Open state", func() {
		BeforeEach(trip)

		It("should block attempts before the timeout", func() {
			clock.Advance(5 * time.Second)
			Expect(cb.Allow()).To(BeFalse())
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should stay open when a result arrives before the timeout", func() {
			clock.Advance(9 * time.Second)
			from, to := cb.RecordResult(true)
			Expect(from).To(Equal(circuitbreaker.StateOpen))
			Expect(to).To(Equal(circuitbreaker.StateOpen))

			cb.RecordResult(false)
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should move to HalfOpen after the timeout before evaluating a success", func() {
			clock.Advance(10 * time.Second)
			from, to := cb.RecordResult(true)
			Expect(from).To(Equal(circuitbreaker.StateOpen))
			Expect(to).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Snapshot().Failures).To(BeZero())
		})

		It("should re-open on failure after the timeout", func() {
			clock.Advance(11 * time.Second)
			_, to := cb.RecordResult(false)
			Expect(to).To(Equal(circuitbreaker.StateOpen))

			snap := cb.Snapshot()
			Expect(snap.Failures).To(Equal(3))
			Expect(snap.NextRetry).To(Equal(clock.Now().Add(10 * time.Second)))
		})

		It("should transition to HalfOpen through Allow", func() {
			clock.Advance(10 * time.Second)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
		})
	})

	Context("when in HalfOpen state", func() {
		BeforeEach(func() {
			trip()
			clock.Advance(10 * time.Second)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
		})

		It("should close on success", func() {
			cb.RecordResult(true)
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should re-open on failure with failures reset to the threshold", func() {
			cb.RecordResult(false)
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			Expect(cb.Snapshot().Failures).To(Equal(3))
		})
	})

	Describe("Reset", func() {
		It("should close the breaker from any state", func() {
			for _, prepare := range []func(){
				func() {},
				trip,
				func() { trip(); clock.Advance(10 * time.Second); cb.Allow() },
			} {
				cb.Reset()
				prepare()
				cb.Reset()
				snap := cb.Snapshot()
				Expect(snap.State).To(Equal(circuitbreaker.StateClosed))
				Expect(snap.Failures).To(BeZero())
			}
		})
	})

	Describe("State.String", func() {
		It("should return correct string representation", func() {
			Expect(circuitbreaker.StateClosed.String()).To(Equal("Closed"))
			Expect(circuitbreaker.StateOpen.String()).To(Equal("Open"))
			Expect(circuitbreaker.StateHalfOpen.String()).To(Equal("HalfOpen"))
		})
	})
})
