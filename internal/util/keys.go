package util

import (
	"strconv"
	"strings"
)

// Key joins a prefix and parts with ':' — the keyspace convention used
// across the module ("activity:stock:42", "lock:activity:42:q").
func Key(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	var sb strings.Builder
	sb.Grow(len(prefix) + 16)
	sb.WriteString(prefix)
	for _, p := range parts {
		sb.WriteByte(':')
		sb.WriteString(p)
	}
	return sb.String()
}

// KeyID is Key for a numeric business id.
func KeyID(prefix string, id int64) string {
	return prefix + ":" + strconv.FormatInt(id, 10)
}
