package component_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/self-healing/internal/component"
)

var _ = Describe("HTTPProbe", func() {
	var (
		server  *httptest.Server
		healthy bool
	)

	BeforeEach(func() {
		healthy = true
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if healthy {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("should report the /health status", func() {
		probe := component.HTTPProbe(server.Client(), mustParseURL(server.URL))
		Expect(probe(context.Background())).To(BeTrue())

		healthy = false
		Expect(probe(context.Background())).To(BeFalse())
	})

	It("should fail when the server is unreachable", func() {
		base := mustParseURL(server.URL)
		server.Close()
		Expect(component.HTTPProbe(nil, base)(context.Background())).To(BeFalse())
	})

	It("should provide a hook that drops idle connections", func() {
		hook := component.IdleConnectionsHook(server.Client())
		Expect(hook(context.Background())).To(Succeed())
	})
})

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
