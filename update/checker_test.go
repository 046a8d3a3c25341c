package update

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}

func writeManifest(t *testing.T, dir, version, repoURL string) {
	t.Helper()
	doc := map[string]any{
		"name":    "auth",
		"factory": "auth",
		"version": version,
	}
	if repoURL != "" {
		doc["repository"] = map[string]string{"url": repoURL}
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.json"), raw, 0o644))
}

func TestNormalizeRepository_AllThreeShapes(t *testing.T) {
	cases := []struct {
		url        string
		owner, repo string
	}{
		{"https://github.com/acme/auth", "acme", "auth"},
		{"https://github.com/acme/auth.git", "acme", "auth"},
		{"git+https://github.com/acme/auth.git", "acme", "auth"},
		{"git@github.com:acme/auth.git", "acme", "auth"},
	}
	for _, c := range cases {
		owner, repo, err := normalizeRepository(c.url)
		require.NoError(t, err, c.url)
		assert.Equal(t, c.owner, owner, c.url)
		assert.Equal(t, c.repo, repo, c.url)
	}
}

func TestNormalizeRepository_RejectsUnrecognizedShape(t *testing.T) {
	_, _, err := normalizeRepository("not a url at all")
	assert.Error(t, err)
}

func TestCheckModule_NoManifestIsSkippedNotFailed(t *testing.T) {
	c := NewChecker(noopLogger{}, Options{})
	result, err := c.CheckModule(t.Context(), "auth", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestCheckModule_NoRepositoryIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "1.0.0", "")

	c := NewChecker(noopLogger{}, Options{})
	result, err := c.CheckModule(t.Context(), "auth", dir)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestCheckModule_DetectsAvailableUpdateViaReleases(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/acme/auth/releases/latest" {
			json.NewEncoder(w).Encode(map[string]string{"tag_name": "v2.0.0"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeManifest(t, dir, "1.0.0", "https://github.com/acme/auth")

	c := NewChecker(noopLogger{}, Options{APIBaseURL: srv.URL})
	result, err := c.CheckModule(t.Context(), "auth", dir)
	require.NoError(t, err)

	assert.True(t, result.HasUpdate)
	assert.Equal(t, "1.0.0", result.CurrentVersion)
	assert.Equal(t, "2.0.0", result.LatestVersion)
}

func TestCheckModule_FallsBackToTagsWhenNoRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/auth/releases/latest":
			w.WriteHeader(http.StatusNotFound)
		case "/repos/acme/auth/tags":
			json.NewEncoder(w).Encode([]map[string]string{{"name": "v1.5.0"}, {"name": "v1.0.0"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeManifest(t, dir, "1.0.0", "https://github.com/acme/auth")

	c := NewChecker(noopLogger{}, Options{APIBaseURL: srv.URL})
	result, err := c.CheckModule(t.Context(), "auth", dir)
	require.NoError(t, err)
	assert.True(t, result.HasUpdate)
	assert.Equal(t, "1.5.0", result.LatestVersion)
}

func TestCheckModule_NoUpdateWhenCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"tag_name": "v1.0.0"})
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeManifest(t, dir, "1.0.0", "https://github.com/acme/auth")

	c := NewChecker(noopLogger{}, Options{APIBaseURL: srv.URL})
	result, err := c.CheckModule(t.Context(), "auth", dir)
	require.NoError(t, err)
	assert.False(t, result.HasUpdate)
}

func TestCheckModule_SkipsOnUnparseableRepositoryURL(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "1.0.0", "not-a-valid-url")

	c := NewChecker(noopLogger{}, Options{})
	result, err := c.CheckModule(t.Context(), "auth", dir)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}
