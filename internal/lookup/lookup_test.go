package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cake-server/internal/core"
	"cake-server/internal/entities"
)

const tmdbFixture = `{"results":[
  {"id":1,"name":"Keanu Reeves","profile_path":"/keanu.jpg","known_for_department":"Acting","known_for":[{"title":"The Matrix"}]},
  {"id":2,"name":"Nobody","profile_path":null,"known_for_department":"Directing","known_for":[]},
  {"id":3,"name":"","profile_path":"/x.jpg"}
]}`

const wikidataFixture = `{"results":{"bindings":[
  {"item":{"value":"http://www.wikidata.org/entity/Q1"},"itemLabel":{"value":"Sherlock Holmes"},"itemDescription":{"value":"fictional detective"},"image":{"value":"http://commons.wikimedia.org/x.jpg"}},
  {"item":{"value":"http://www.wikidata.org/entity/Q2"}}
]}}`

type countingRecorder struct {
	ok, failed atomic.Int32
}

func (c *countingRecorder) Lookup(_ string, err error) {
	if err != nil {
		c.failed.Add(1)
		return
	}
	c.ok.Add(1)
}

func fixtureServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTMDB_Search(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("query")
		assert.Equal(t, "/search/person", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(tmdbFixture))
	}))
	defer srv.Close()

	candidates, err := NewTMDB("key", srv.URL, srv.Client()).Search(context.Background(), "keanu")
	require.NoError(t, err)
	assert.Equal(t, "keanu", query)
	require.Len(t, candidates, 2)

	assert.Equal(t, "Keanu Reeves", candidates[0].Name)
	require.NotNil(t, candidates[0].ImageURL)
	assert.Equal(t, "https://image.tmdb.org/t/p/w500/keanu.jpg", *candidates[0].ImageURL)
	assert.Equal(t, "The Matrix", candidates[0].Subtitle)
	assert.Equal(t, entities.SourceTMDB, candidates[0].Source)

	assert.Nil(t, candidates[1].ImageURL)
	assert.Equal(t, "Directing", candidates[1].Subtitle)
}

func TestTMDB_Failures(t *testing.T) {
	_, err := NewTMDB("", "http://unused", nil).Search(context.Background(), "x")
	assert.True(t, errors.Is(err, core.ErrUpstreamUnavailable))

	srv := fixtureServer(t, http.StatusInternalServerError, "boom", nil)
	_, err = NewTMDB("key", srv.URL, srv.Client()).Search(context.Background(), "x")
	assert.True(t, errors.Is(err, core.ErrUpstreamUnavailable))

	bad := fixtureServer(t, http.StatusOK, "{not json", nil)
	_, err = NewTMDB("key", bad.URL, bad.Client()).Search(context.Background(), "x")
	assert.True(t, errors.Is(err, core.ErrUpstreamUnavailable))
}

func TestWikidata_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Contains(t, r.URL.Query().Get("query"), `"sherlock"`)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(wikidataFixture))
	}))
	defer srv.Close()

	candidates, err := NewWikidata(srv.URL, "fr", srv.Client()).Search(context.Background(), "sherlock")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "Sherlock Holmes", candidates[0].Name)
	assert.Equal(t, "fictional detective", candidates[0].Subtitle)
	require.NotNil(t, candidates[0].ImageURL)
	assert.Equal(t, entities.SourceWikidata, candidates[0].Source)

	assert.Equal(t, "Unknown", candidates[1].Name)
	assert.Nil(t, candidates[1].ImageURL)
}

func TestWikidata_ShortQuery(t *testing.T) {
	var hits atomic.Int32
	srv := fixtureServer(t, http.StatusOK, wikidataFixture, &hits)

	candidates, err := NewWikidata(srv.URL, "", srv.Client()).Search(context.Background(), "é")
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Zero(t, hits.Load())
}

func TestService_DegradesToEmpty(t *testing.T) {
	srv := fixtureServer(t, http.StatusBadGateway, "", nil)
	rec := &countingRecorder{}
	svc, err := NewService([]Provider{NewTMDB("key", srv.URL, srv.Client())}, 0, time.Second, rec)
	require.NoError(t, err)

	candidates := svc.Search(context.Background(), entities.SourceTMDB, "anyone")
	assert.NotNil(t, candidates)
	assert.Empty(t, candidates)
	assert.EqualValues(t, 1, rec.failed.Load())
}

func TestService_CachesSuccessfulLookups(t *testing.T) {
	var hits atomic.Int32
	srv := fixtureServer(t, http.StatusOK, tmdbFixture, &hits)
	svc, err := NewService([]Provider{NewTMDB("key", srv.URL, srv.Client())}, 8, time.Second, nil)
	require.NoError(t, err)

	first := svc.Search(context.Background(), entities.SourceTMDB, "Keanu")
	second := svc.Search(context.Background(), entities.SourceTMDB, "  keanu ")
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, hits.Load())
}

func TestService_UnknownSourceAndBlankQuery(t *testing.T) {
	svc, err := NewService(nil, 0, 0, nil)
	require.NoError(t, err)

	assert.Empty(t, svc.Search(context.Background(), entities.SourceTMDB, "x"))
	assert.Empty(t, svc.SearchAll(context.Background(), "   "))
}

func TestService_SearchAllKeepsProviderOrder(t *testing.T) {
	tmdb := fixtureServer(t, http.StatusOK, tmdbFixture, nil)
	wiki := fixtureServer(t, http.StatusOK, wikidataFixture, nil)

	svc, err := NewService([]Provider{
		NewWikidata(wiki.URL, "en", wiki.Client()),
		NewTMDB("key", tmdb.URL, tmdb.Client()),
	}, 0, time.Second, nil)
	require.NoError(t, err)

	candidates := svc.SearchAll(context.Background(), "holmes")
	require.Len(t, candidates, 4)
	assert.Equal(t, entities.SourceWikidata, candidates[0].Source)
	assert.Equal(t, entities.SourceWikidata, candidates[1].Source)
	assert.Equal(t, "Keanu Reeves", candidates[2].Name)
}

func TestService_SearchAllSkipsFailedProvider(t *testing.T) {
	wiki := fixtureServer(t, http.StatusOK, wikidataFixture, nil)
	down := fixtureServer(t, http.StatusServiceUnavailable, "", nil)

	svc, err := NewService([]Provider{
		NewTMDB("key", down.URL, down.Client()),
		NewWikidata(wiki.URL, "en", wiki.Client()),
	}, 0, time.Second, nil)
	require.NoError(t, err)

	candidates := svc.SearchAll(context.Background(), "holmes")
	require.Len(t, candidates, 2)
	assert.Equal(t, "Sherlock Holmes", candidates[0].Name)
}

func TestSparqlLiteral(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`holmes`, `"holmes"`},
		{`say "hi"`, `"say \"hi\""`},
		{`back\slash`, `"back\\slash"`},
		{"two\nlines\ttab", `"two\nlines\ttab"`},
		{"bell\a", `"bell\u0007"`},
		{"bad\xffbyte", "\"bad�byte\""},
		{"Amélie", `"Amélie"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sparqlLiteral(tt.in), tt.in)
	}
}

func TestWikidata_EscapesControlBytes(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("query")
		_, _ = w.Write([]byte(wikidataFixture))
	}))
	defer srv.Close()

	_, err := NewWikidata(srv.URL, "en", srv.Client()).Search(context.Background(), "sher\x07lock\xff")
	require.NoError(t, err)
	assert.Contains(t, query, "\"sher\\u0007lock�\"")
	assert.NotContains(t, query, `\x`)
}
