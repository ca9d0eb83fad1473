// Package iaas holds the site-keyed IaaS driver registry shared by every
// concrete driver implementation (ec2driver, nimbusdriver).
package iaas

import (
	"fmt"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// Registry maps site keys to IaaS drivers. It is a construction-time
// dependency: the set of sites is fixed at startup from configuration, not
// discovered at runtime.
type Registry struct {
	drivers map[string]provisioner.IaaSDriver
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]provisioner.IaaSDriver)}
}

// Register adds a driver under the given site key, overwriting any existing
// entry for that key.
func (r *Registry) Register(site string, driver provisioner.IaaSDriver) {
	r.drivers[site] = driver
}

// Get returns the driver registered for site, or an error if none exists.
func (r *Registry) Get(site string) (provisioner.IaaSDriver, error) {
	d, ok := r.drivers[site]
	if !ok {
		return nil, fmt.Errorf("no iaas driver registered for site %q", site)
	}
	return d, nil
}

// Drivers returns a copy of the registry's site-to-driver map, ready to hand
// to provisioner.New.
func (r *Registry) Drivers() map[string]provisioner.IaaSDriver {
	out := make(map[string]provisioner.IaaSDriver, len(r.drivers))
	for k, v := range r.drivers {
		out[k] = v
	}
	return out
}
