package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/self-healing/internal/engine"
	"github.com/angeloszaimis/self-healing/internal/handler"
)

var _ = Describe("API", func() {
	var (
		e      *engine.Engine
		routes http.Handler
	)

	BeforeEach(func() {
		cfg := engine.DefaultConfig()
		cfg.BreakerThreshold = 2
		cfg.HealthInterval = time.Hour
		cfg.SelfHealing.HealthThreshold = 0

		e = engine.New(cfg, discard, engine.WithSleep(func(ctx context.Context, _ time.Duration) error {
			return ctx.Err()
		}))
		Expect(e.RegisterComponent("db", func(context.Context) bool { return true }, nil)).To(Succeed())
		routes = handler.NewAPI(discard, e).Routes()
	})

	AfterEach(func() {
		Expect(e.Shutdown(context.Background())).To(Succeed())
	})

	do := func(method, target, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, target, nil)
		} else {
			req = httptest.NewRequest(method, target, strings.NewReader(body))
		}
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder) map[string]any {
		var out map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())
		return out
	}

	It("should report system status", func() {
		rec := do(http.MethodGet, "/status", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

		body := decode(rec)
		Expect(body).To(HaveKey("health"))
		Expect(body["health"]).To(HaveKeyWithValue("status", "Healthy"))
		Expect(body).To(HaveKey("coefficients"))
	})

	It("should accept an error report and list it", func() {
		rec := do(http.MethodPost, "/errors", `{"message":"rate limit exceeded","component":"db"}`)
		Expect(rec.Code).To(Equal(http.StatusAccepted))
		accepted := decode(rec)
		Expect(accepted).To(HaveKeyWithValue("severity", "medium"))
		Expect(accepted).To(HaveKey("id"))

		var records []map[string]any
		Eventually(func() []map[string]any {
			rec := do(http.MethodGet, "/errors?limit=10", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			records = nil
			Expect(json.Unmarshal(rec.Body.Bytes(), &records)).To(Succeed())
			return records
		}).Should(ConsistOf(And(
			HaveKeyWithValue("id", accepted["id"]),
			HaveKeyWithValue("component", "db"),
			HaveKeyWithValue("recovered", true),
		)))
	})

	It("should keep recovering after the reporting client goes away", func() {
		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest(http.MethodPost, "/errors",
			strings.NewReader(`{"message":"connection refused","component":"db","severity":"high"}`)).WithContext(ctx)
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, req)
		cancel()

		Expect(rec.Code).To(Equal(http.StatusAccepted))
		id := decode(rec)["id"]
		Eventually(func() bool {
			for _, r := range e.RecentErrors(10) {
				if r.ID == id {
					return r.Recovered
				}
			}
			return false
		}).Should(BeTrue())
		Expect(e.CircuitBreakersStatus()["db"].Failures).To(BeZero())
	})

	It("should honour the severity override in a report", func() {
		rec := do(http.MethodPost, "/errors", `{"message":"odd","severity":"high"}`)
		Expect(decode(rec)).To(HaveKeyWithValue("severity", "high"))
	})

	DescribeTable("should reject bad error reports",
		func(body string) {
			Expect(do(http.MethodPost, "/errors", body).Code).To(Equal(http.StatusBadRequest))
		},
		Entry("malformed json", `{"message":`),
		Entry("missing message", `{"component":"db"}`),
	)

	It("should reject a bad limit", func() {
		Expect(do(http.MethodGet, "/errors?limit=-1", "").Code).To(Equal(http.StatusBadRequest))
		Expect(do(http.MethodGet, "/errors?limit=abc", "").Code).To(Equal(http.StatusBadRequest))
	})

	It("should clear the error history", func() {
		do(http.MethodPost, "/errors", `{"message":"typo"}`)
		Expect(do(http.MethodDelete, "/errors", "").Code).To(Equal(http.StatusNoContent))
		Expect(e.RecentErrors(0)).To(BeEmpty())
	})

	It("should run a health check and list components", func() {
		Expect(do(http.MethodPost, "/health-check", "").Code).To(Equal(http.StatusOK))

		rec := do(http.MethodGet, "/components", "")
		var infos []map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &infos)).To(Succeed())
		Expect(infos).To(HaveLen(1))
		Expect(infos[0]).To(HaveKeyWithValue("status", "Healthy"))
	})

	It("should restart a known component and 404 an unknown one", func() {
		Expect(do(http.MethodPost, "/components/db/restart", "").Code).To(Equal(http.StatusOK))
		Expect(do(http.MethodPost, "/components/ghost/restart", "").Code).To(Equal(http.StatusNotFound))
	})

	It("should reset breakers", func() {
		for range 2 {
			do(http.MethodPost, "/errors", `{"message":"connection refused","component":"db","severity":"high"}`)
		}

		rec := do(http.MethodGet, "/breakers", "")
		Expect(rec.Code).To(Equal(http.StatusOK))

		rec = do(http.MethodPost, "/breakers/db/reset", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decode(rec)).To(HaveKeyWithValue("state", "Closed"))

		Expect(do(http.MethodPost, "/breakers/ghost/reset", "").Code).To(Equal(http.StatusNotFound))
	})

	It("should trigger a self-healing sweep", func() {
		rec := do(http.MethodPost, "/self-healing", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decode(rec)).To(HaveKeyWithValue("trigger", "manual"))
	})

	It("should serve metrics", func() {
		rec := do(http.MethodGet, "/metrics", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("selfhealing_health_score"))
	})

	It("should reject unknown methods", func() {
		Expect(do(http.MethodPut, "/status", "").Code).To(Equal(http.StatusMethodNotAllowed))
	})
})
