package engine_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/self-healing/internal/circuitbreaker"
	"github.com/angeloszaimis/self-healing/internal/classifier"
	"github.com/angeloszaimis/self-healing/internal/component"
	"github.com/angeloszaimis/self-healing/internal/engine"
	"github.com/angeloszaimis/self-healing/internal/events"
	"github.com/angeloszaimis/self-healing/internal/healthcheck"
	"github.com/angeloszaimis/self-healing/internal/recovery"
	"github.com/angeloszaimis/self-healing/internal/statefile"
)

func failing(context.Context) bool { return false }

func healthy(context.Context) bool { return true }

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		cfg    engine.Config
		opts   []engine.Option
		e      *engine.Engine
		closed atomic.Int32
	)

	closeHook := func(context.Context) error {
		closed.Add(1)
		return nil
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = testConfig()
		opts = []engine.Option{engine.WithSleep(noSleep)}
		closed.Store(0)
	})

	JustBeforeEach(func() {
		e = engine.New(cfg, discard, opts...)
		Expect(e.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		Expect(e.Shutdown(shutdownCtx)).To(Succeed())
	})

	It("should open the breaker of a component whose probe always fails", func() {
		Expect(e.RegisterComponent("cache", failing, nil)).To(Succeed())

		for range 3 {
			e.ForceHealthCheck()
		}

		Eventually(func() circuitbreaker.State {
			return e.CircuitBreakersStatus()["cache"].State
		}).Should(Equal(circuitbreaker.StateOpen))
		Expect(e.SystemStatus().Status).NotTo(Equal(healthcheck.StatusHealthy))
	})

	It("should classify a refused connection as High and retry it", func() {
		Expect(e.RegisterComponent("db", failing, nil)).To(Succeed())

		rec := e.HandleError(ctx, errors.New("ECONNREFUSED to db"), map[string]any{"component": "db"})
		Expect(rec.Severity).To(Equal(classifier.SeverityHigh))
		Expect(rec.Attempts).To(Equal(5))
		Expect(rec.Recovered).To(BeFalse())
		Expect(e.ComponentsStatus()["db"]).To(Equal(component.StatusError))
	})

	It("should keep counting errors against a component that stays down", func() {
		Expect(e.RegisterComponent("db", failing, nil)).To(Succeed())

		for range 5 {
			rec := e.HandleError(ctx, errors.New("ECONNREFUSED to db"), map[string]any{"component": "db"})
			Expect(rec.Severity).To(Equal(classifier.SeverityHigh))
		}

		infos := e.ComponentInfos()
		Expect(infos).To(HaveLen(1))
		Expect(infos[0].ErrorCount).To(BeNumerically(">=", 5))
	})

	It("should deregister a component once", func() {
		Expect(e.RegisterComponent("db", healthy, nil)).To(Succeed())

		Expect(e.DeregisterComponent("db")).To(Succeed())
		Expect(e.ComponentsStatus()).NotTo(HaveKey("db"))
		Expect(e.DeregisterComponent("db")).To(MatchError(component.ErrNotFound))
	})

	It("should record a submitted error and recover it in the background", func() {
		pending := e.SubmitError(errors.New("typo"), nil)
		Expect(pending.Attempts).To(BeZero())

		Eventually(func() bool {
			recent := e.RecentErrors(1)
			return len(recent) == 1 && recent[0].ID == pending.ID && recent[0].Recovered
		}).Should(BeTrue())
	})

	It("should not start background recoveries after shutdown", func() {
		Expect(e.Shutdown(ctx)).To(Succeed())

		pending := e.SubmitError(errors.New("typo"), nil)
		Expect(e.RecentErrors(1)[0].ID).To(Equal(pending.ID))
		Expect(e.RecoveryStats().Recovered).To(BeZero())
		Expect(e.RecoveryStats().Skipped).To(Equal(int64(1)))
	})

	Context("with a stubbed integrity verifier", func() {
		var score float64

		BeforeEach(func() {
			opts = append(opts, engine.WithIntegrityVerifier(func(context.Context) (float64, error) {
				return score, nil
			}))
		})

		It("should recover a critical error when integrity holds", func() {
			score = 0.9
			rec := e.HandleError(ctx, errors.New("out of memory"), map[string]any{})

			Expect(rec.Severity).To(Equal(classifier.SeverityCritical))
			Expect(rec.Recovered).To(BeTrue())
			Consistently(e.ShutdownRequested(), 50*time.Millisecond).ShouldNot(BeClosed())
		})

		It("should request a controlled shutdown when integrity is lost", func() {
			score = 0.1
			rec := e.HandleError(ctx, errors.New("out of memory"), nil)

			Expect(rec.Recovered).To(BeFalse())
			Expect(rec.Attempts).To(Equal(3))
			Eventually(e.ShutdownRequested()).Should(BeClosed())
		})
	})

	It("should run a self-healing sweep after a critical error", func() {
		e.HandleError(ctx, errors.New("fatal: corrupt index"), nil)

		Eventually(func() int64 { return e.SelfHealingStats().Sweeps }).Should(BeNumerically(">=", 1))
	})

	Context("with a small history", func() {
		BeforeEach(func() {
			cfg.HistoryCapacity = 5
		})

		It("should keep only the most recent records, newest first", func() {
			for i := 1; i <= 10; i++ {
				e.HandleError(ctx, fmt.Errorf("typo %d", i), nil)
			}

			recent := e.RecentErrors(5)
			Expect(recent).To(HaveLen(5))
			for i, rec := range recent {
				Expect(rec.Message).To(Equal(fmt.Sprintf("typo %d", 10-i)))
			}
		})

		It("should drop everything on clear", func() {
			e.HandleError(ctx, errors.New("typo"), nil)
			e.ClearErrorHistory()
			Expect(e.RecentErrors(0)).To(BeEmpty())
		})
	})

	It("should reset a breaker regardless of its state", func() {
		Expect(e.RegisterComponent("cache", failing, nil)).To(Succeed())
		for range 3 {
			e.HandleError(ctx, errors.New("connection refused"), map[string]any{"component": "cache"})
		}
		Expect(e.CircuitBreakersStatus()["cache"].State).To(Equal(circuitbreaker.StateOpen))

		Expect(e.ResetCircuitBreaker("cache")).To(Succeed())

		snap := e.CircuitBreakersStatus()["cache"]
		Expect(snap.State).To(Equal(circuitbreaker.StateClosed))
		Expect(snap.Failures).To(BeZero())
	})

	It("should give a registered component a closed breaker on reset", func() {
		Expect(e.RegisterComponent("fresh", healthy, nil)).To(Succeed())
		Expect(e.ResetCircuitBreaker("fresh")).To(Succeed())
		Expect(e.CircuitBreakersStatus()).To(HaveKey("fresh"))
	})

	It("should reject resetting an unknown breaker", func() {
		Expect(e.ResetCircuitBreaker("ghost")).To(MatchError(engine.ErrUnknownBreaker))
	})

	It("should restart a component on demand", func() {
		Expect(e.RegisterComponent("api", healthy, closeHook)).To(Succeed())
		e.ForceHealthCheck()
		Expect(e.ComponentsStatus()["api"]).To(Equal(component.StatusHealthy))

		Expect(e.ForceComponentRestart(ctx, "api")).To(Succeed())
		Expect(closed.Load()).To(Equal(int32(1)))
		Expect(e.ComponentsStatus()["api"]).To(Equal(component.StatusUnknown))

		Expect(e.ForceComponentRestart(ctx, "ghost")).To(MatchError(component.ErrNotFound))
	})

	It("should report a sweep and refuse to start twice", func() {
		report, err := e.ForceSelfHealing(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Success).To(BeTrue())

		Expect(e.Start(ctx)).To(MatchError(engine.ErrAlreadyStarted))
	})

	It("should deliver events to subscribers", func() {
		var handled atomic.Int32
		e.Subscribe(events.ListenerFunc(func(ev events.Event) {
			if ev.Type == events.TypeErrorHandled {
				handled.Add(1)
			}
		}))

		e.HandleError(ctx, errors.New("typo"), nil)
		Expect(handled.Load()).To(Equal(int32(1)))
	})

	It("should apply replaced policies", func() {
		e.SetPolicies(recovery.Policies{classifier.SeverityHigh: {MaxAttempts: 2}})

		rec := e.HandleError(ctx, errors.New("socket closed"), nil)
		Expect(rec.Attempts).To(BeNumerically("<=", 2))
		Expect(e.Policies()[classifier.SeverityHigh].MaxAttempts).To(Equal(2))
	})

	It("should expose Prometheus metrics", func() {
		e.HandleError(ctx, errors.New("typo"), nil)

		Eventually(func() string {
			rec := httptest.NewRecorder()
			e.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			return rec.Body.String()
		}).Should(ContainSubstring(`selfhealing_errors_handled_total{severity="low"} 1`))
	})

	Describe("Shutdown", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "state.yaml")
			cfg.StateFile = path
		})

		It("should write the state file and close every component", func() {
			Expect(e.RegisterComponent("db", healthy, closeHook)).To(Succeed())
			Expect(e.RegisterComponent("cache", healthy, closeHook)).To(Succeed())
			e.HandleError(ctx, errors.New("typo"), nil)

			Expect(e.Shutdown(ctx)).To(Succeed())
			Expect(closed.Load()).To(Equal(int32(2)))

			state, err := statefile.Read(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Recovery.Handled).To(Equal(int64(1)))
			Expect(state.Coefficients).To(Equal(e.Coefficients()))

			Expect(e.Start(ctx)).To(MatchError(engine.ErrStopped))
		})
	})
})
