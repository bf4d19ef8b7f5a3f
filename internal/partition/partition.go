// Package partition maps tenants to event log lanes. All events for one
// tenant land in the same lane, which is what gives the platform its
// per-tenant FIFO ordering; nothing may be assumed about ordering across
// tenants.
package partition

import "hash/fnv"

// Assign returns the lane index for a tenant. It is a pure function of
// (tenantID, partitionCount): the mapping survives restarts and must only
// change when the partition count changes.
func Assign(tenantID string, partitionCount int) int {
	if partitionCount <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	return int(h.Sum32() % uint32(partitionCount))
}
