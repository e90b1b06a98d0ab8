package redis

import "fmt"

const (
	sessionIndexKey = "sessions:index"
	maxTxRetries    = 16
)

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func identityKey(identity string) string {
	return fmt.Sprintf("session_by_identity:%s", identity)
}

func rateLimitKey(identity string) string {
	return fmt.Sprintf("ratelimit:%s", identity)
}

func friendKey(identity string) string {
	return fmt.Sprintf("friend:%s", identity)
}
