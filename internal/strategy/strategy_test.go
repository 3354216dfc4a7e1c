package strategy_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/self-healing/internal/strategy"
)

type countingNudger struct {
	calls []string
}

func (n *countingNudger) Nudge(_ context.Context, component string) error {
	n.calls = append(n.calls, component)
	return nil
}

type countingCache struct {
	cleared int
}

func (c *countingCache) ClearCache(context.Context, string) error {
	c.cleared++
	return nil
}

var _ = Describe("Strategies", func() {
	var (
		ctx   context.Context
		fleet *fakeFleet
	)

	BeforeEach(func() {
		ctx = context.Background()
		fleet = newFakeFleet("db", "cache")
	})

	DescribeTable("all strategies report a name",
		func(build func() strategy.Strategy, name string) {
			Expect(build().Name()).To(Equal(name))
		},
		Entry("critical", func() strategy.Strategy { return strategy.NewCriticalStrategy(fleet, nil, 5, discard) }, "critical"),
		Entry("high", func() strategy.Strategy { return strategy.NewConnectionResetStrategy(fleet, nil, discard) }, "connection-reset"),
		Entry("medium", func() strategy.Strategy { return strategy.NewRetryStrategy(nil, discard) }, "retry"),
		Entry("low", func() strategy.Strategy { return strategy.NewLogStrategy(discard) }, "log"),
	)

	Describe("Critical", func() {
		It("should restart problematic components and succeed above the integrity threshold", func() {
			fleet.problematic = []string{"cache"}
			s := strategy.NewCriticalStrategy(fleet, func(context.Context) (float64, error) { return 0.9, nil }, 5, discard)

			Expect(s.Recover(ctx, strategy.Incident{})).To(Succeed())
			Expect(fleet.restarted).To(Equal([]string{"cache"}))
		})

		It("should fail at or below the integrity threshold", func() {
			s := strategy.NewCriticalStrategy(fleet, func(context.Context) (float64, error) { return 0.5, nil }, 5, discard)
			Expect(s.Recover(ctx, strategy.Incident{})).To(MatchError(strategy.ErrIntegrity))
		})

		It("should fail when verification errors", func() {
			s := strategy.NewCriticalStrategy(fleet, func(context.Context) (float64, error) { return 0, errors.New("probe down") }, 5, discard)
			Expect(s.Recover(ctx, strategy.Incident{})).To(MatchError(ContainSubstring("probe down")))
		})

		It("should keep going when a restart fails", func() {
			fleet.problematic = []string{"db", "cache"}
			fleet.restartErr = errors.New("hook failed")
			s := strategy.NewCriticalStrategy(fleet, func(context.Context) (float64, error) { return 1, nil }, 5, discard)

			Expect(s.Recover(ctx, strategy.Incident{})).To(Succeed())
			Expect(fleet.restarted).To(HaveLen(2))
		})

		It("should fail without a verifier", func() {
			s := strategy.NewCriticalStrategy(fleet, nil, 5, discard)
			Expect(s.Recover(ctx, strategy.Incident{})).To(MatchError(strategy.ErrNoVerifier))
		})
	})

	Describe("Connection reset", func() {
		It("should reconnect, clear caches and re-verify a known component", func() {
			caches := &countingCache{}
			s := strategy.NewConnectionResetStrategy(fleet, caches, discard)

			Expect(s.Recover(ctx, strategy.Incident{Component: "db"})).To(Succeed())
			Expect(fleet.reconnected).To(Equal([]string{"db"}))
			Expect(fleet.restarted).To(BeEmpty())
			Expect(caches.cleared).To(Equal(1))
		})

		It("should fail when the component is still unreachable", func() {
			fleet.healthy["db"] = false
			s := strategy.NewConnectionResetStrategy(fleet, nil, discard)
			Expect(s.Recover(ctx, strategy.Incident{Component: "db"})).To(MatchError(strategy.ErrUnreachable))
		})

		It("should fail when the reset hook fails", func() {
			fleet.restartErr = errors.New("socket stuck")
			s := strategy.NewConnectionResetStrategy(fleet, nil, discard)
			Expect(s.Recover(ctx, strategy.Incident{Component: "db"})).To(MatchError(ContainSubstring("socket stuck")))
		})

		It("should fall back to the retry operation for unregistered components", func() {
			s := strategy.NewConnectionResetStrategy(fleet, nil, discard)
			retryErr := errors.New("still refused")
			inc := strategy.Incident{Component: "exchange", Retry: func(context.Context) error { return retryErr }}

			Expect(s.Recover(ctx, inc)).To(MatchError(retryErr))
			Expect(fleet.reconnected).To(BeEmpty())
		})
	})

	Describe("Retry", func() {
		It("should succeed when the retried operation succeeds", func() {
			s := strategy.NewRetryStrategy(nil, discard)
			inc := strategy.Incident{Attempt: 1, Retry: func(context.Context) error { return nil }}
			Expect(s.Recover(ctx, inc)).To(Succeed())
		})

		It("should nudge configuration on the first failed attempt only", func() {
			nudger := &countingNudger{}
			s := strategy.NewRetryStrategy(nudger, discard)
			failing := func(context.Context) error { return errors.New("429") }

			Expect(s.Recover(ctx, strategy.Incident{Component: "api", Attempt: 1, Retry: failing})).NotTo(Succeed())
			Expect(s.Recover(ctx, strategy.Incident{Component: "api", Attempt: 2, Retry: failing})).NotTo(Succeed())
			Expect(nudger.calls).To(Equal([]string{"api"}))
		})

		It("should succeed without an operation to retry", func() {
			s := strategy.NewRetryStrategy(nil, discard)
			Expect(s.Recover(ctx, strategy.Incident{Attempt: 1})).To(Succeed())
		})
	})

	Describe("Log", func() {
		It("should always succeed", func() {
			Expect(strategy.NewLogStrategy(discard).Recover(ctx, strategy.Incident{Message: "noise"})).To(Succeed())
		})
	})
})
