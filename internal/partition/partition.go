// Package partition derives the two-level hex directory layout used to
// shard content-addressed objects on disk.
package partition

import "errors"

// ErrShortKey is returned when a key has fewer than 4 hex characters,
// too short to derive a two-level partition from.
var ErrShortKey = errors.New("partition: key too short")

// Path splits a lowercase hex content key into its partition path,
// "aa/bb/aabbcc...", where aa and bb are the first two hex byte pairs.
func Path(key string) (string, error) {
	if len(key) < 4 {
		return "", ErrShortKey
	}
	return key[0:2] + "/" + key[2:4] + "/" + key, nil
}

// Dir returns just the two-level directory prefix, "aa/bb", without the
// trailing filename component.
func Dir(key string) (string, error) {
	if len(key) < 4 {
		return "", ErrShortKey
	}
	return key[0:2] + "/" + key[2:4], nil
}
