// Package fingerprint derives a stable cache key for a project's dependency layer.
//
// The key is a digest over the sorted (name, version) pairs of the resolved closure. Versions come
// from the installed manifest, and from the lockfile for packages that are not installed. File
// timestamps, discovery order and lockfile formatting never affect the result.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/deps"
)

// Pair is one package in the fingerprint
type Pair struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Compute returns the fingerprint of the project's production dependency closure
func Compute(projectDir string) (string, error) {
	pairs, err := Pairs(projectDir)
	if err != nil {
		return "", err
	}
	return Digest(pairs), nil
}

// Pairs returns the sorted pairs Compute hashes
func Pairs(projectDir string) ([]Pair, error) {
	cl, err := deps.CollectProject(context.Background(), projectDir)
	if err != nil {
		return nil, err
	}
	return FromClosure(projectDir, cl)
}

// FromClosure builds the pairs of an already collected closure. Every package of the closure
// appears once, skipped ones included, so adding or removing a dependency always changes the set.
func FromClosure(projectDir string, cl *deps.Closure) ([]Pair, error) {
	lf, err := ReadLockfile(projectDir)
	if err != nil {
		return nil, err
	}

	pairs := make([]Pair, 0, len(cl.Packages))
	for _, name := range cl.Packages {
		var locked []string
		if lf != nil {
			locked = lf.Versions[name]
		}
		pairs = append(pairs, Pair{Name: name, Version: pickVersion(locked, cl.Versions[name])})
	}
	sortPairs(pairs)
	return pairs, nil
}

// pickVersion returns the installed version when there is one. A package that is not installed
// falls back to every locked version.
func pickVersion(locked []string, installed string) string {
	if installed != "" {
		return installed
	}
	return strings.Join(locked, "||")
}

// Digest hashes pairs into a hex SHA-256. The pairs are sorted first and every field is length
// prefixed, so equal sets always give equal digests.
func Digest(pairs []Pair) string {
	sorted := append([]Pair(nil), pairs...)
	sortPairs(sorted)

	h := sha256.New()
	writeLen(h, len(sorted))
	for _, p := range sorted {
		writeField(h, p.Name)
		writeField(h, p.Version)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeLen(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}

func writeField(h hash.Hash, s string) {
	writeLen(h, len(s))
	h.Write([]byte(s))
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Name != pairs[j].Name {
			return pairs[i].Name < pairs[j].Name
		}
		return pairs[i].Version < pairs[j].Version
	})
}
