// Package storage records inbound webhook deliveries.
//
// DeliveryStore is implemented by the memory and postgres subpackages.
// Every operation is scoped by the tenant found in the context (see
// SetTenant); without a tenant the store behaves as single-tenant.
package storage
