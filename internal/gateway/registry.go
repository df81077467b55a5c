package gateway

import "fmt"

// Registry maps a brand code to its gateway client. Each brand settles
// through its own gateway account, so the core looks the client up per
// operation instead of holding a single global instance.
type Registry struct {
	clients map[string]Client
	def     string
}

// NewRegistry builds a registry. defaultBrand is used when an operation
// carries no brand code.
func NewRegistry(defaultBrand string) *Registry {
	return &Registry{clients: make(map[string]Client), def: defaultBrand}
}

// Register adds a client for a brand code.
func (r *Registry) Register(brand string, client Client) {
	r.clients[brand] = client
}

// For returns the client for a brand code.
func (r *Registry) For(brand string) (Client, error) {
	if brand == "" {
		brand = r.def
	}
	client, ok := r.clients[brand]
	if !ok {
		return nil, fmt.Errorf("gateway: no client configured for brand %q", brand)
	}
	return client, nil
}
