// Package ident is the single source of truth for identifier generation.
// Every id in the system (user, thread, run, request, connection) is a
// prefix-tagged string minted here; nothing else calls raw UUID/random
// generation directly, so collision and format guarantees live in one place.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Known prefixes. Prefixes never contain underscores so ParseID can recover
// them losslessly.
const (
	PrefixUser     = "user"
	PrefixThread   = "thread"
	PrefixRun      = "run"
	PrefixRequest  = "req"
	PrefixWSConn   = "wsconn"
	PrefixWSClient = "wsclient"
	PrefixMessage  = "msg"
)

// randomSuffixLen is the hex length of the random suffix: a dash-stripped
// UUIDv4, enough that same-millisecond collisions are negligible.
const randomSuffixLen = 32

var knownPrefixes = map[string]bool{
	PrefixUser:     true,
	PrefixThread:   true,
	PrefixRun:      true,
	PrefixRequest:  true,
	PrefixWSConn:   true,
	PrefixWSClient: true,
	PrefixMessage:  true,
}

// ParsedID is the decomposed form of a generated identifier.
type ParsedID struct {
	Prefix    string
	Qualifier string
	Suffix    string
}

// randomSuffix returns randomSuffixLen hex chars of crypto randomness, a
// UUIDv4 without the dashes.
func randomSuffix() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Qualifier derives a short, non-reversible debugging tag from source
// material such as a user id. 8 hex chars of SHA-256: enough to correlate
// ids in logs, not enough to recover the identity.
func Qualifier(source string) string {
	if source == "" {
		return "anon0000"
	}
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:4])
}

// GenerateBaseID returns "<prefix>_<unix-ms>[_<random>]". The millisecond
// qualifier keeps non-random ids ordered and debuggable; the random suffix
// carries the uniqueness guarantee.
func GenerateBaseID(prefix string, includeRandom bool) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if !includeRandom {
		return prefix + "_" + ts
	}
	return prefix + "_" + ts + "_" + randomSuffix()
}

// GenerateWebSocketConnectionID mints a low-level connection id correlated
// to the given user.
func GenerateWebSocketConnectionID(userID string) string {
	return PrefixWSConn + "_" + Qualifier(userID) + "_" + randomSuffix()
}

// GenerateWebSocketClientID mints a client-facing socket id correlated to
// the given user.
func GenerateWebSocketClientID(userID string) string {
	return PrefixWSClient + "_" + Qualifier(userID) + "_" + randomSuffix()
}

// GenerateThreadID mints a conversation thread id for the given user.
func GenerateThreadID(userID string) string {
	return PrefixThread + "_" + Qualifier(userID) + "_" + randomSuffix()
}

// GenerateRunID mints an execution run id for the given user.
func GenerateRunID(userID string) string {
	return PrefixRun + "_" + Qualifier(userID) + "_" + randomSuffix()
}

// GenerateMessageID mints a persisted-message id correlated to the given
// user.
func GenerateMessageID(userID string) string {
	return PrefixMessage + "_" + Qualifier(userID) + "_" + randomSuffix()
}

// GenerateRequestID mints a request id tagged with the originating
// operation ("websocket", "http", ...).
func GenerateRequestID(operation string) string {
	op := sanitizeOperation(operation)
	return PrefixRequest + "_" + op + "_" + randomSuffix()
}

// GenerateUserContextIDs mints the full identifier set for a brand-new
// execution context: thread, run, and request ids.
func GenerateUserContextIDs(userID, operation string) (threadID, runID, requestID string) {
	return GenerateThreadID(userID), GenerateRunID(userID), GenerateRequestID(operation)
}

// sanitizeOperation lowercases and strips anything that would break parsing.
func sanitizeOperation(op string) string {
	if op == "" {
		return "op"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(op) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
		if b.Len() >= 12 {
			break
		}
	}
	if b.Len() == 0 {
		return "op"
	}
	return b.String()
}

// ParseID recovers the prefix/qualifier/suffix of a generated id. Malformed
// input returns nil rather than an error so call sites can use it as a
// predicate.
func ParseID(id string) *ParsedID {
	parts := strings.Split(id, "_")
	if len(parts) < 2 {
		return nil
	}
	for _, p := range parts {
		if p == "" {
			return nil
		}
	}
	prefix := parts[0]
	if !knownPrefixes[prefix] {
		return nil
	}

	last := parts[len(parts)-1]
	qualifier := strings.Join(parts[1:len(parts)-1], "_")

	switch {
	case isHexSuffix(last):
		return &ParsedID{Prefix: prefix, Qualifier: qualifier, Suffix: last}
	case isMillisTimestamp(last) && qualifier == "":
		// Non-random form from GenerateBaseID(prefix, false).
		return &ParsedID{Prefix: prefix, Qualifier: last}
	default:
		return nil
	}
}

// IsValidID reports whether id parses and, if expectedPrefix is non-empty,
// carries that prefix.
func IsValidID(id, expectedPrefix string) bool {
	parsed := ParseID(id)
	if parsed == nil {
		return false
	}
	return expectedPrefix == "" || parsed.Prefix == expectedPrefix
}

func isHexSuffix(s string) bool {
	if len(s) != randomSuffixLen {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func isMillisTimestamp(s string) bool {
	if len(s) != 13 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
