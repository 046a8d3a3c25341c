// Package update implements the kernel's per-module release checker
// (spec.md §4.7): for a module directory, read its manifest, resolve the
// declared repository into owner/repo form, query the hosting API for the
// latest release, and compare versions.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/forgekit/kernel/internal/versionutil"
)

// Logger mirrors the kernel's structured logging shape without importing
// the root package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// manifest is the subset of a module's module.json this package reads.
// Per SPEC_FULL.md's collapse of the distinct "package.json" file spec.md
// §4.7 describes into the single module.json manifest already used for
// discovery, version and repository live alongside the factory/disabled
// fields the kernel's loader reads.
type manifest struct {
	Version    string `json:"version"`
	Repository struct {
		URL string `json:"url"`
	} `json:"repository"`
}

// Result is the outcome of checking one module for updates.
type Result struct {
	ModuleName     string
	CurrentVersion string
	LatestVersion  string
	HasUpdate      bool
	RepositoryURL  string
}

// repoPattern matches the three shapes spec.md §4.7 names:
//   https://<host>/owner/repo(.git)?
//   git+https://<host>/owner/repo(.git)?
//   git@<host>:owner/repo(.git)?
var repoPattern = regexp.MustCompile(`(?:git\+)?(?:https?://|git@)[^/:]+[/:]([^/]+)/([^/]+?)(?:\.git)?/?$`)

// normalizeRepository extracts "owner/repo" from any of the three
// repository URL shapes spec.md §4.7 names.
func normalizeRepository(rawURL string) (owner, repo string, err error) {
	m := repoPattern.FindStringSubmatch(strings.TrimSpace(rawURL))
	if m == nil {
		return "", "", fmt.Errorf("update: unrecognized repository url shape: %q", rawURL)
	}
	return m[1], m[2], nil
}

// Checker queries a hosting API (GitHub-compatible releases endpoint by
// default) for the latest release of a module's declared repository.
type Checker struct {
	logger     Logger
	httpClient *http.Client
	apiBaseURL string // default "https://api.github.com"
}

// Options configures a Checker.
type Options struct {
	HTTPClient *http.Client
	APIBaseURL string
}

func (o *Options) setDefaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if o.APIBaseURL == "" {
		o.APIBaseURL = "https://api.github.com"
	}
}

// NewChecker constructs a Checker.
func NewChecker(logger Logger, opts Options) *Checker {
	opts.setDefaults()
	return &Checker{logger: logger, httpClient: opts.HTTPClient, apiBaseURL: opts.APIBaseURL}
}

type release struct {
	TagName string `json:"tag_name"`
}

// CheckModule reads moduleDir/module.json, resolves its repository, and
// compares the declared version against the latest release tag. A module
// with no manifest, or a manifest with no repository, is skipped (returns
// a zero Result and a nil error) rather than treated as a failure, since
// spec.md §4.7 calls absence of a version file a skip, not an error.
func (c *Checker) CheckModule(ctx context.Context, moduleName, moduleDir string) (Result, error) {
	raw, err := os.ReadFile(filepath.Join(moduleDir, "module.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("update: failed to read manifest for %s: %w", moduleName, err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Result{}, fmt.Errorf("update: malformed manifest for %s: %w", moduleName, err)
	}

	if m.Repository.URL == "" {
		return Result{}, nil
	}

	owner, repo, err := normalizeRepository(m.Repository.URL)
	if err != nil {
		c.logger.Warn("skipping update check, unparseable repository url", "module", moduleName, "error", err)
		return Result{}, nil
	}

	latest, err := c.latestVersion(ctx, owner, repo)
	if err != nil {
		return Result{}, fmt.Errorf("update: failed to query latest release for %s: %w", moduleName, err)
	}

	result := Result{
		ModuleName:     moduleName,
		CurrentVersion: m.Version,
		LatestVersion:  latest,
		HasUpdate:      latest != "" && versionutil.Compare(latest, m.Version) > 0,
		RepositoryURL:  m.Repository.URL,
	}

	if result.HasUpdate {
		c.logger.Info("module update available", "module", moduleName, "current", result.CurrentVersion, "latest", latest)
	}
	return result, nil
}

// latestVersion queries the releases/latest endpoint, falling back to the
// first entry of the tags endpoint when the repository has no formal
// release, per spec.md §4.7.
func (c *Checker) latestVersion(ctx context.Context, owner, repo string) (string, error) {
	tag, err := c.fetchLatestReleaseTag(ctx, owner, repo)
	if err == nil && tag != "" {
		return versionutil.Strip(tag), nil
	}

	tag, err = c.fetchFirstTag(ctx, owner, repo)
	if err != nil {
		return "", err
	}
	return versionutil.Strip(tag), nil
}

func (c *Checker) fetchLatestReleaseTag(ctx context.Context, owner, repo string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.apiBaseURL, owner, repo)
	var rel release
	if err := c.getJSON(ctx, url, &rel); err != nil {
		return "", err
	}
	return rel.TagName, nil
}

func (c *Checker) fetchFirstTag(ctx context.Context, owner, repo string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/tags", c.apiBaseURL, owner, repo)
	var tags []struct {
		Name string `json:"name"`
	}
	if err := c.getJSON(ctx, url, &tags); err != nil {
		return "", err
	}
	if len(tags) == 0 {
		return "", fmt.Errorf("update: no tags found for %s/%s", owner, repo)
	}
	return tags[0].Name, nil
}

func (c *Checker) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("update: request to %s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
