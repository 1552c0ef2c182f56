// Package dispatch composes pkg/pool and pkg/migrate's v0 reader
// behind one read entry point: Get tries schema v1 first, falls back
// to v0, and never silently converts a v0 record to v1 on read (spec.md
// §9 "reads never write"). Grounded on
// libs/compiler/internal/imports/provider_resolver.go's adapter-style
// composition of independently testable pieces behind one call.
package dispatch

import (
	"github.com/autonomous-bits/codepool/internal/config"
	"github.com/autonomous-bits/codepool/pkg/denormalize"
	"github.com/autonomous-bits/codepool/pkg/migrate"
	"github.com/autonomous-bits/codepool/pkg/pool"
)

// Get reconstructs author-visible source for hash in lang. If
// mappingHash is empty, the most recently written mapping for (hash,
// lang) is used (pool.Store.LatestMapping). It reads whichever schema
// version is actually stored, v1 or v0, without migrating anything.
func Get(store *pool.Store, root, hash, lang, mappingHash string) (string, error) {
	version, err := pool.DetectVersion(root, hash)
	if err != nil {
		return "", err
	}

	switch version {
	case config.SchemaVersionV1:
		return getV1(store, hash, lang, mappingHash)
	case config.SchemaVersionV0:
		return getV0(root, hash, lang)
	default:
		return "", &pool.ErrFunctionNotFound{Hash: hash}
	}
}

func getV1(store *pool.Store, hash, lang, mappingHash string) (string, error) {
	obj, err := store.FunctionLoad(hash)
	if err != nil {
		return "", err
	}
	var m *pool.Mapping
	if mappingHash == "" {
		m, _, err = store.LatestMapping(hash, lang)
	} else {
		m, err = store.MappingLoad(hash, lang, mappingHash)
	}
	if err != nil {
		return "", err
	}
	return denormalize.Denormalize(obj, m)
}

// getV0 denormalizes directly from a v0 record without persisting a v1
// object anywhere: the normalized code's embedded docstring is
// resentinelized in memory and handed to the same denormalizer the v1
// path uses (pkg/migrate.SentinelizeAndSplit + pkg/denormalize), so the
// printer and identifier substitution logic is shared, not duplicated.
func getV0(root, hash, lang string) (string, error) {
	rec, err := migrate.LoadV0(root, hash)
	if err != nil {
		return "", err
	}
	entry, ok := rec.Languages[lang]
	if !ok {
		return "", &pool.ErrLanguageNotFound{Hash: hash, Language: lang}
	}
	withSentinel, _, err := migrate.SentinelizeAndSplit(rec.NormalizedCode)
	if err != nil {
		return "", err
	}
	obj := &pool.Object{Hash: hash, NormalizedCode: withSentinel}
	m := &pool.Mapping{
		Docstring:    entry.Docstring,
		NameMapping:  entry.NameMapping,
		AliasMapping: entry.AliasMapping,
	}
	return denormalize.Denormalize(obj, m)
}
