package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/self-healing/config"
	"github.com/angeloszaimis/self-healing/internal/component"
)

type registrar interface {
	RegisterComponent(name string, probe component.Probe, hook component.Hook) error
}

// closingTransport stops connection reuse once nudged.
type closingTransport struct {
	base    http.RoundTripper
	noReuse atomic.Bool
}

func (t *closingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.noReuse.Load() {
		req = req.Clone(req.Context())
		req.Close = true
	}
	return t.base.RoundTrip(req)
}

func (t *closingTransport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

type httpClient struct {
	client    *http.Client
	transport *closingTransport
}

// httpComponents owns one client per configured HTTP dependency and acts on
// those clients for the recovery strategies.
type httpComponents struct {
	mutex   sync.RWMutex
	clients map[string]*httpClient
	logger  *slog.Logger
}

func newHTTPComponents(logger *slog.Logger) *httpComponents {
	return &httpComponents{
		clients: make(map[string]*httpClient),
		logger:  logger,
	}
}

// register adds every configured component to e. A component whose URL does
// not parse is skipped so the rest still start.
func (h *httpComponents) register(e registrar, cfgs []config.ComponentConfig, timeout time.Duration) (int, error) {
	registered := 0

	for _, c := range cfgs {
		u, err := url.Parse(c.URL)
		if err != nil {
			h.logger.Error("Failed to parse URL",
				slog.String("component", c.Name),
				slog.String("url", c.URL),
				slog.String("error", err.Error()))
			continue
		}

		transport := &closingTransport{base: http.DefaultTransport.(*http.Transport).Clone()}
		client := &http.Client{Timeout: timeout, Transport: transport}
		if err := e.RegisterComponent(c.Name, component.HTTPProbe(client, u), component.IdleConnectionsHook(client)); err != nil {
			return registered, fmt.Errorf("register %s: %w", c.Name, err)
		}

		h.mutex.Lock()
		h.clients[c.Name] = &httpClient{client: client, transport: transport}
		h.mutex.Unlock()
		registered++

		h.logger.Info("Component registered", slog.String("component", c.Name), slog.String("url", u.String()))
	}

	return registered, nil
}

func (h *httpComponents) get(name string) (*httpClient, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	c, ok := h.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", component.ErrNotFound, name)
	}
	return c, nil
}

// ClearCache drops pooled connections for the component.
func (h *httpComponents) ClearCache(_ context.Context, name string) error {
	c, err := h.get(name)
	if err != nil {
		return err
	}
	c.client.CloseIdleConnections()
	return nil
}

// Nudge makes every later request to the component use a fresh connection.
func (h *httpComponents) Nudge(_ context.Context, name string) error {
	c, err := h.get(name)
	if err != nil {
		return err
	}
	if !c.transport.noReuse.Swap(true) {
		h.logger.Info("Connection reuse disabled", slog.String("component", name))
	}
	c.client.CloseIdleConnections()
	return nil
}

func (h *httpComponents) reuseDisabled(name string) bool {
	c, err := h.get(name)
	return err == nil && c.transport.noReuse.Load()
}
