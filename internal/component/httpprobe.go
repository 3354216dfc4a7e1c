package component

import (
	"context"
	"net/http"
	"net/url"
)

// HTTPProbe checks a service by sending GET requests to its /health
// endpoint. Only a 200 response counts as healthy.
func HTTPProbe(client *http.Client, base *url.URL) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	healthURL := base.ResolveReference(&url.URL{Path: "/health"})

	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
		if err != nil {
			return false
		}

		res, err := client.Do(req)
		if err != nil {
			return false
		}
		defer res.Body.Close()

		return res.StatusCode == http.StatusOK
	}
}

// IdleConnectionsHook drops the client's pooled connections so the next
// request dials afresh.
func IdleConnectionsHook(client *http.Client) Hook {
	return func(context.Context) error {
		if client != nil {
			client.CloseIdleConnections()
		}
		return nil
	}
}
