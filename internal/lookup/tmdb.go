package lookup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"cake-server/internal/entities"
)

const (
	DefaultTMDBURL = "https://api.themoviedb.org/3"
	tmdbImageBase  = "https://image.tmdb.org/t/p/w500"
)

type tmdbPerson struct {
	ID                 int     `json:"id"`
	Name               string  `json:"name"`
	ProfilePath        *string `json:"profile_path"`
	KnownForDepartment string  `json:"known_for_department"`
	KnownFor           []struct {
		Title string `json:"title"`
		Name  string `json:"name"`
	} `json:"known_for"`
}

// TMDB searches people on The Movie Database.
type TMDB struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewTMDB(apiKey, baseURL string, client *http.Client) *TMDB {
	if baseURL == "" {
		baseURL = DefaultTMDBURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TMDB{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (t *TMDB) Source() entities.Source { return entities.SourceTMDB }

func (t *TMDB) Search(ctx context.Context, query string) ([]Candidate, error) {
	if t.apiKey == "" {
		return nil, unavailable(nil, "tmdb api key is not configured")
	}

	params := url.Values{}
	params.Set("api_key", t.apiKey)
	params.Set("query", query)
	params.Set("include_adult", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/search/person?"+params.Encode(), nil)
	if err != nil {
		return nil, unavailable(err, "tmdb request")
	}

	res, err := t.client.Do(req)
	if err != nil {
		return nil, unavailable(err, "tmdb search")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, unavailable(nil, "tmdb search: status %d", res.StatusCode)
	}

	var payload struct {
		Results []tmdbPerson `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, unavailable(err, "tmdb decode")
	}

	candidates := make([]Candidate, 0, len(payload.Results))
	for _, p := range payload.Results {
		if p.Name == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Name:     p.Name,
			ImageURL: tmdbImageURL(p.ProfilePath),
			Subtitle: p.knownFor(),
			Source:   entities.SourceTMDB,
		})
	}
	return candidates, nil
}

func (p tmdbPerson) knownFor() string {
	if len(p.KnownFor) > 0 {
		if p.KnownFor[0].Title != "" {
			return p.KnownFor[0].Title
		}
		if p.KnownFor[0].Name != "" {
			return p.KnownFor[0].Name
		}
	}
	return p.KnownForDepartment
}

func tmdbImageURL(profilePath *string) *string {
	if profilePath == nil || *profilePath == "" {
		return nil
	}
	u := tmdbImageBase + *profilePath
	return &u
}
