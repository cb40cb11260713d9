// Package env reads process settings that are needed before config.Load runs,
// such as the log format used while configuration itself is being parsed.
package env

import (
	"os"
	"strings"
)

const prefix = "ORIGINHASH_"

// Get returns ORIGINHASH_<key>, then <key>, then fallback.
func Get(key, fallback string) string {
	key = strings.TrimPrefix(key, prefix)
	for _, name := range []string{prefix + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return fallback
}
