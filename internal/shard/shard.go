// Package shard computes the two-character/sixty-two-character
// directory split used to keep any single pool directory from
// accumulating too many entries, shared by pkg/pool and pkg/migrate.
package shard

import "fmt"

// Split returns (prefix, rest) for a 64-character lowercase hex SHA-256
// digest: the first two characters (the shard directory name) and the
// remaining sixty-two (the entry name within it).
func Split(hash string) (prefix, rest string, err error) {
	if len(hash) != 64 {
		return "", "", fmt.Errorf("hash must be 64 hex characters, got %d", len(hash))
	}
	for _, r := range hash {
		if !isHexDigit(r) {
			return "", "", fmt.Errorf("hash contains non-hex character %q", r)
		}
	}
	return hash[:2], hash[2:], nil
}

// Path joins root with the sharded path for hash: root/<prefix>/<rest>.
func Path(root, hash string) (string, error) {
	prefix, rest, err := Split(hash)
	if err != nil {
		return "", err
	}
	return root + "/" + prefix + "/" + rest, nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}
