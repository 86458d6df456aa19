package redis

import "fmt"

// LockKey namespaces a ledger lock key such as "group:12".
func LockKey(key string) string {
	return fmt.Sprintf("food_rescue:lock:%s", key)
}

// IdempotencyKey maps an organization's client idempotency key to the pickup
// request it created.
func IdempotencyKey(orgID uint, idemKey string) string {
	return fmt.Sprintf("food_rescue:idem:%d:%s", orgID, idemKey)
}

// RateLimitOrgKey is the sliding window of one organization.
func RateLimitOrgKey(orgID uint) string {
	return fmt.Sprintf("food_rescue:rate_limit:org:%d", orgID)
}

// RateLimitIPKey is the fallback window for callers without an organization.
func RateLimitIPKey(ip string) string {
	return fmt.Sprintf("food_rescue:rate_limit:ip:%s", ip)
}
