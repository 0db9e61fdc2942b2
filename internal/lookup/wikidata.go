package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"cake-server/internal/entities"
)

const (
	DefaultWikidataURL = "https://query.wikidata.org/sparql"
	wikidataUserAgent  = "cake-server/1.0"
	wikidataLimit      = 12
)

// Fictional characters (Q95074) whose label matches the search.
const sparqlTemplate = `
SELECT ?item ?itemLabel ?itemDescription ?image WHERE {
  SERVICE wikibase:mwapi {
    bd:serviceParam wikibase:api "EntitySearch" .
    bd:serviceParam wikibase:endpoint "www.wikidata.org" .
    bd:serviceParam mwapi:search %s .
    bd:serviceParam mwapi:language "%s" .
    ?item wikibase:apiOutputItem mwapi:item .
  }
  ?item wdt:P31/wdt:P279* wd:Q95074 .
  OPTIONAL { ?item wdt:P18 ?image . }
  SERVICE wikibase:label { bd:serviceParam wikibase:language "%s,en". }
}
LIMIT %d
`

type sparqlValue struct {
	Value string `json:"value"`
}

// Wikidata searches fictional characters through the SPARQL endpoint.
type Wikidata struct {
	endpoint string
	language string
	client   *http.Client
}

func NewWikidata(endpoint, language string, client *http.Client) *Wikidata {
	if endpoint == "" {
		endpoint = DefaultWikidataURL
	}
	if language == "" {
		language = "en"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Wikidata{endpoint: endpoint, language: language, client: client}
}

func (w *Wikidata) Source() entities.Source { return entities.SourceWikidata }

func (w *Wikidata) Search(ctx context.Context, query string) ([]Candidate, error) {
	if utf8.RuneCountInString(query) < 2 {
		return []Candidate{}, nil
	}

	sparql := fmt.Sprintf(sparqlTemplate, sparqlLiteral(query), w.language, w.language, wikidataLimit)
	params := url.Values{}
	params.Set("format", "json")
	params.Set("query", sparql)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, unavailable(err, "wikidata request")
	}
	req.Header.Set("Accept", "application/sparql-results+json")
	req.Header.Set("User-Agent", wikidataUserAgent)

	res, err := w.client.Do(req)
	if err != nil {
		return nil, unavailable(err, "wikidata search")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, unavailable(nil, "wikidata search: status %d", res.StatusCode)
	}

	var payload struct {
		Results struct {
			Bindings []struct {
				Item        sparqlValue  `json:"item"`
				Label       *sparqlValue `json:"itemLabel"`
				Description *sparqlValue `json:"itemDescription"`
				Image       *sparqlValue `json:"image"`
			} `json:"bindings"`
		} `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, unavailable(err, "wikidata decode")
	}

	candidates := make([]Candidate, 0, len(payload.Results.Bindings))
	for _, b := range payload.Results.Bindings {
		c := Candidate{Name: "Unknown", Source: entities.SourceWikidata}
		if b.Label != nil && b.Label.Value != "" {
			c.Name = b.Label.Value
		}
		if b.Description != nil {
			c.Subtitle = b.Description.Value
		}
		if b.Image != nil && b.Image.Value != "" {
			img := b.Image.Value
			c.ImageURL = &img
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// sparqlLiteral quotes s as a SPARQL string literal. Control characters use
// \u escapes and invalid UTF-8 becomes U+FFFD.
func sparqlLiteral(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range strings.ToValidUTF8(s, "\uFFFD") {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case unicode.IsControl(r):
			fmt.Fprintf(&b, `\u%04X`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
