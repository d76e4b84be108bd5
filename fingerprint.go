package parslet

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// taskFingerprint derives a stable identity for a registered task from its
// name and optional version tag. Two engines that register the same name
// with the same version always agree on fingerprint, which is what lets a
// persisted on-disk cache survive process restarts.
func taskFingerprint(name, version string) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(version))
	return hex.EncodeToString(h.Sum(nil))
}

// ArgDigest computes a content digest for a single task argument by
// canonically JSON-encoding it and hashing the result. The second return
// value is false when v cannot be encoded (e.g. it carries a channel or
// func value), signaling to the caller that the surrounding invocation is
// not cacheable.
func ArgDigest(v any) (string, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), true
}

// CacheKey combines a task's fingerprint with the digests of its resolved
// arguments into the key used to look up and store results in a
// ResultCache. kwargDigests is folded in by sorted key name so that
// map-ordering never affects the result.
func CacheKey(taskFingerprint string, argDigests []string, kwargDigests map[string]string) (string, bool) {
	h := sha256.New()
	h.Write([]byte(taskFingerprint))
	for _, d := range argDigests {
		h.Write([]byte{0})
		h.Write([]byte(d))
	}
	if len(kwargDigests) > 0 {
		names := make([]string, 0, len(kwargDigests))
		for k := range kwargDigests {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			h.Write([]byte{0})
			h.Write([]byte(k))
			h.Write([]byte{0})
			h.Write([]byte(kwargDigests[k]))
		}
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// futureCacheKey computes the CacheKey for a Future whose dependencies have
// already resolved, given the resolved values substituted for its Future
// arguments. Returns ok=false if any argument is not cacheable, in which
// case the Future's result is still computed but never stored or looked up
// in the ResultCache.
func futureCacheKey(f *Future, resolvedArgs []any, resolvedKwargs map[string]any) (string, bool) {
	argDigests := make([]string, len(resolvedArgs))
	for i, v := range resolvedArgs {
		d, ok := ArgDigest(v)
		if !ok {
			return "", false
		}
		argDigests[i] = d
	}
	kwargDigests := make(map[string]string, len(resolvedKwargs))
	for k, v := range resolvedKwargs {
		d, ok := ArgDigest(v)
		if !ok {
			return "", false
		}
		kwargDigests[k] = d
	}
	return CacheKey(f.task.Fingerprint, argDigests, kwargDigests)
}
