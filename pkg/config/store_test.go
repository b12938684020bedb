package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStore(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")

		store, err := NewFileStore(path)
		require.NoError(t, err)
		assert.Equal(t, path, store.Path())
		assert.False(t, store.IsModified())

		all, err := store.GetAll()
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("default path", func(t *testing.T) {
		home, err := os.UserHomeDir()
		require.NoError(t, err)

		store, err := NewFileStore("")
		if err != nil {
			t.Skipf("existing user config is unreadable: %v", err)
		}
		assert.Equal(t, filepath.Join(home, ".quickbar", "config.json"), store.Path())
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		_, err := NewFileStore(path)
		assert.Error(t, err)
	})
}

func TestFileStore_JSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SetSection("planner", map[string]any{
		"base_url":        "http://localhost:7860",
		"request_timeout": "5s",
	}))
	assert.True(t, store.IsModified())
	require.NoError(t, store.Save())
	assert.False(t, store.IsModified())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "1.0", doc["version"])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not be left behind")

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	section, err := reloaded.GetSection("planner")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:7860", section["base_url"])
	assert.Equal(t, "5s", section["request_timeout"])
}

func TestFileStore_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `version: "1.0"
sections:
  browser:
    headless: false
    viewport_width: 1024
  search:
    engines:
      - name: Local
        template: http://localhost/?q={searchTerms}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	browser := NewBrowserSection()
	data, err := store.GetSection("browser")
	require.NoError(t, err)
	require.NoError(t, browser.SetData(data))
	headless, width, _, _ := browser.Options()
	assert.False(t, headless)
	assert.Equal(t, 1024, width)

	search := NewSearchSection()
	data, err = store.GetSection("search")
	require.NoError(t, err)
	require.NoError(t, search.SetData(data))
	assert.Equal(t, "Local", search.GetDefaultEngine().Name)

	require.NoError(t, store.SetSection("browser", browser.Data()))
	require.NoError(t, store.Save())

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	data, err = reloaded.GetSection("browser")
	require.NoError(t, err)
	assert.Equal(t, false, data["headless"])
	assert.Equal(t, 1024, data["viewport_width"])
}

func TestFileStore_CopiesSections(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	in := map[string]any{"k": "v"}
	require.NoError(t, store.SetSection("s", in))
	in["k"] = "mutated"

	out, err := store.GetSection("s")
	require.NoError(t, err)
	assert.Equal(t, "v", out["k"])

	out["k"] = "mutated"
	again, err := store.GetSection("s")
	require.NoError(t, err)
	assert.Equal(t, "v", again["k"])

	missing, err := store.GetSection("missing")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFileStore_SetAll(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	require.NoError(t, store.SetSection("old", map[string]any{"k": 1}))
	require.NoError(t, store.SetAll(map[string]map[string]any{
		"new": {"k": 2},
	}))

	all, err := store.GetAll()
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]any{"new": {"k": 2}}, all)
}
