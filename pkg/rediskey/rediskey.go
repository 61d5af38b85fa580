package rediskey

import "fmt"

// Keys shared between the instance services and the subsystems that feed
// them (RADIUS accounting, API gateway, storage accounting).
const (
	OverCapPrefix       = "license:overcap"
	HeldLicensePrefix   = "license:token"
	RadiusSessionPrefix = "radius:sessions"
	APICallsPrefix      = "metrics:api_calls_24h"
	StorageBytesPrefix  = "metrics:storage_bytes"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildOverCapKey returns "license:overcap:{tenantID}"
func BuildOverCapKey(tenantID string) string {
	return NamespaceKey(OverCapPrefix, tenantID)
}

// BuildHeldLicenseKey returns "license:token:{tenantID}"
func BuildHeldLicenseKey(tenantID string) string {
	return NamespaceKey(HeldLicensePrefix, tenantID)
}

// BuildRadiusSessionsKey returns "radius:sessions:{tenantID}"
func BuildRadiusSessionsKey(tenantID string) string {
	return NamespaceKey(RadiusSessionPrefix, tenantID)
}

// BuildAPICallsKey returns "metrics:api_calls_24h:{tenantID}"
func BuildAPICallsKey(tenantID string) string {
	return NamespaceKey(APICallsPrefix, tenantID)
}

// BuildStorageBytesKey returns "metrics:storage_bytes:{tenantID}"
func BuildStorageBytesKey(tenantID string) string {
	return NamespaceKey(StorageBytesPrefix, tenantID)
}
