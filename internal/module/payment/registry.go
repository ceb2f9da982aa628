package payment

import (
	"fmt"
	"sync"

	"github.com/flowlytix/payment-service/internal/module/payment/domain"
	"github.com/flowlytix/payment-service/internal/module/payment/provider"
)

// GatewayRegistry manages the configured payment gateways.
type GatewayRegistry struct {
	mu       sync.RWMutex
	gateways map[string]provider.Gateway
}

// NewGatewayRegistry creates an empty gateway registry.
func NewGatewayRegistry() *GatewayRegistry {
	return &GatewayRegistry{
		gateways: make(map[string]provider.Gateway),
	}
}

// Register registers a gateway under its own name.
func (r *GatewayRegistry) Register(g provider.Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Name()] = g
}

// Get returns a gateway by name.
func (r *GatewayRegistry) Get(name string) (provider.Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, name)
	}
	return g, nil
}

// GetByMethod returns the gateway used for the given payment method.
// Out-of-band methods (cash, credit, bank transfer) have no gateway and are
// settled manually through the API.
func (r *GatewayRegistry) GetByMethod(method domain.Method) (provider.Gateway, error) {
	switch method {
	case domain.MethodCard:
		return r.Get("stripe")
	case domain.MethodAlipay:
		return r.Get("alipay")
	default:
		return nil, fmt.Errorf("%w: no gateway for method %s", ErrGatewayNotFound, method)
	}
}

// List returns all registered gateway names.
func (r *GatewayRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}
