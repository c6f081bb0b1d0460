package redis

const (
	// KeyPrefixCredential is the prefix for credential keys (one per user and platform)
	KeyPrefixCredential = "bookmirror:credential:"
	// KeyPrefixPending is the prefix for in-flight authorization sessions
	KeyPrefixPending = "bookmirror:auth:pending:"
	// KeyPrefixLastSync is the prefix for last successful sync timestamps
	KeyPrefixLastSync = "bookmirror:lastsync:"
	// KeyPrefixRefreshLock is the prefix for per-user refresh locks
	KeyPrefixRefreshLock = "bookmirror:lock:refresh:"
)

// CredentialKey returns the Redis key holding a user's credential
func CredentialKey(platform, userID string) string {
	return KeyPrefixCredential + platform + ":" + userID
}

// PendingKey returns the Redis key of an authorization session
func PendingKey(sessionID string) string {
	return KeyPrefixPending + sessionID
}

// LastSyncKey returns the Redis key of a user's last sync timestamp
func LastSyncKey(platform, userID string) string {
	return KeyPrefixLastSync + platform + ":" + userID
}

// RefreshLockKey returns the Redis key guarding a user's token refresh
func RefreshLockKey(platform, userID string) string {
	return KeyPrefixRefreshLock + platform + ":" + userID
}
