package cache

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey_Deterministic(t *testing.T) {
	opts := RenderOptions{
		Theme:     "light",
		Highlight: true,
		Width:     80,
		Extra:     map[string]any{"b": 2, "a": []string{"x", "y"}},
	}

	k1, err := GenerateKey("/docs/a.md", opts)
	require.NoError(t, err)
	k2, err := GenerateKey("/docs/a.md", RenderOptions{
		Width:     80,
		Highlight: true,
		Theme:     "light",
		Extra:     map[string]any{"a": []string{"x", "y"}, "b": 2},
	})
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 16)
}

func TestGenerateKey_DistinguishesInputs(t *testing.T) {
	base := RenderOptions{Theme: "light"}
	variants := map[string]RenderOptions{
		"theme":     {Theme: "dark"},
		"highlight": {Theme: "light", Highlight: true},
		"toc":       {Theme: "light", TOC: true},
		"math":      {Theme: "light", Math: true},
		"width":     {Theme: "light", Width: 120},
		"format":    {Theme: "light", Format: "docx"},
		"extra":     {Theme: "light", Extra: map[string]any{"lang": "en"}},
	}

	baseKey, err := GenerateKey("/a.md", base)
	require.NoError(t, err)

	seen := map[string]string{baseKey: "base"}
	for name, opts := range variants {
		key, err := GenerateKey("/a.md", opts)
		require.NoError(t, err)
		prev, dup := seen[key]
		assert.False(t, dup, "%s collides with %s", name, prev)
		seen[key] = name
	}

	otherFile, err := GenerateKey("/b.md", base)
	require.NoError(t, err)
	assert.NotEqual(t, baseKey, otherFile)
}

func TestGenerateKey_Unserializable(t *testing.T) {
	tests := map[string]any{
		"func": func() {},
		"chan": make(chan int),
		"nan":  math.NaN(),
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := GenerateKey("/a.md", RenderOptions{Extra: map[string]any{"v": value}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrKeyGeneration))
		})
	}
}
