package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ErrKeyGeneration is returned when the render options cannot be serialized.
var ErrKeyGeneration = errors.New("cache: key generation failed")

// keyVersion is mixed into every fingerprint so a change to the canonical
// form never aliases keys produced by an older layout.
const keyVersion = 1

// RenderOptions is the render-relevant subset of options that distinguishes
// cached variants of the same file.
type RenderOptions struct {
	Theme     string         `json:"theme"`
	Highlight bool           `json:"highlight"`
	TOC       bool           `json:"toc"`
	Math      bool           `json:"math"`
	Width     int            `json:"width"`
	Format    string         `json:"format"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// keyMaterial fixes the field order of the canonical serialization.
// encoding/json emits struct fields in declaration order and map keys
// sorted, which makes the encoding stable.
type keyMaterial struct {
	Version  int           `json:"v"`
	Identity string        `json:"id"`
	Options  RenderOptions `json:"opts"`
}

// GenerateKey returns the fingerprint of identity rendered with opts.
// Equal inputs always produce the same key and any differing option value
// produces a different key. Values in Extra that have no JSON form
// (functions, channels, NaN) make it fail with ErrKeyGeneration.
func GenerateKey(identity string, opts RenderOptions) (string, error) {
	data, err := json.Marshal(keyMaterial{
		Version:  keyVersion,
		Identity: identity,
		Options:  opts,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}
