package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hamed0406/heartbeat/internal/domain"
)

func TestLoad_KeepsOrderAndDefaultsMethod(t *testing.T) {
	r := New()
	err := r.Load([]domain.Target{
		{Name: "web", URL: "https://example.com"},
		{Name: "api", URL: "https://api.example.com/health", Method: "head"},
	})
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	require.Equal(t, "web", list[0].Name)
	require.Equal(t, "GET", list[0].Method)
	require.Equal(t, "HEAD", list[1].Method)
}

func TestLoad_RejectsMissingFieldsAndCollisions(t *testing.T) {
	r := New()
	err := r.Load([]domain.Target{
		{Name: "", URL: "https://a.example.com"},
		{Name: "b"},
		{Name: "c", URL: "ftp://c.example.com"},
		{Name: "Web", URL: "https://w1.example.com"},
		{Name: "web", URL: "https://w2.example.com"},
	})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Problems, 4)
	require.Contains(t, ce.Error(), "missing name")
	require.Contains(t, ce.Error(), "missing url")
	require.Contains(t, ce.Error(), "collides")
}

func TestLoad_FailureKeepsPreviousSet(t *testing.T) {
	r := New()
	require.NoError(t, r.Load([]domain.Target{{Name: "a", URL: "https://a.example.com"}}))

	err := r.Load([]domain.Target{{Name: "b"}})
	require.Error(t, err)

	list := r.List()
	require.Len(t, list, 1)
	require.Equal(t, "a", list[0].Name)
}

func TestLookup_CaseInsensitive(t *testing.T) {
	r := New()
	require.NoError(t, r.Load([]domain.Target{{Name: "Billing", URL: "https://billing.example.com"}}))

	got, err := r.Lookup("billing")
	require.NoError(t, err)
	require.Equal(t, "Billing", got.Name)

	_, err = r.Lookup("nope")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestList_ReturnsCopy(t *testing.T) {
	r := New()
	require.NoError(t, r.Load([]domain.Target{{Name: "a", URL: "https://a.example.com"}}))
	l := r.List()
	l[0].Name = "mutated"
	require.Equal(t, "a", r.List()[0].Name)
}

func TestTagsAreNotShared(t *testing.T) {
	in := []domain.Target{{Name: "api", URL: "https://api.example.com", Tags: []string{"prod", "edge"}}}
	r := New()
	require.NoError(t, r.Load(in))

	in[0].Tags[0] = "mutated-input"
	listed := r.List()
	listed[0].Tags[1] = "mutated-list"
	found, err := r.Lookup("api")
	require.NoError(t, err)
	found.Tags = append(found.Tags[:0], "mutated-lookup")

	got, err := r.Lookup("API")
	require.NoError(t, err)
	require.Equal(t, []string{"prod", "edge"}, got.Tags)
	require.Equal(t, []string{"prod", "edge"}, r.List()[0].Tags)
}

func TestLoadFile_YAML(t *testing.T) {
	doc := `
targets:
  - name: web
    url: https://example.com
    owner: team-web
    category: frontend
    tags: [public, tier1]
  - name: api
    url: https://api.example.com/health
`
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	r := New()
	require.NoError(t, r.LoadFile(path))
	require.Equal(t, 2, r.Len())

	web, err := r.Lookup("web")
	require.NoError(t, err)
	require.Equal(t, "team-web", web.Owner)
	require.Equal(t, []string{"public", "tier1"}, web.Tags)
}

func TestParse_Empty(t *testing.T) {
	targets, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, targets)
}
