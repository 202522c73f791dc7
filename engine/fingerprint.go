package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/hivedb-io/hivesync/utils"
)

// Fingerprint derives the cache key for a request. The method and path
// stay readable so pattern invalidation can match on path substrings; a
// request body contributes a content digest so distinct queries against
// the same path cache independently.
func Fingerprint(method, path string, body interface{}) string {
	var builder strings.Builder
	builder.WriteString(strings.ToUpper(method))
	builder.WriteString(" ")
	builder.WriteString(normalizePath(path))

	if body != nil {
		if digest := bodyDigest(body); digest != "" {
			builder.WriteString("#")
			builder.WriteString(digest)
		}
	}

	return builder.String()
}

func bodyDigest(body interface{}) string {
	data, err := utils.Marshal(body)
	if err != nil {
		return ""
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// InvalidationScope maps a mutated path onto the substring pattern whose
// cache entries the mutation makes stale. Anything under a cell collapses
// to the cell itself, so data writes also flush cached key listings and
// query results for that cell.
func InvalidationScope(path string) string {
	normalized := normalizePath(path)

	segments := strings.Split(normalized, "/")
	if len(segments) >= 2 && segments[0] == "cells" {
		return segments[0] + "/" + segments[1]
	}

	return normalized
}

func normalizePath(path string) string {
	return strings.Trim(path, "/")
}
