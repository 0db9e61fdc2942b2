package api

import (
	"net/http"
	"strings"

	"cake-server/internal/entities"
	"cake-server/internal/lookup"
)

// SearchHandler proxies candidate lookups. It answers with an empty list when
// the catalogs are unavailable.
func (s *Server) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	source := entities.Source(r.URL.Query().Get("source"))

	if source != "" && !source.Valid() {
		writeError(w, r, errValidation("unknown source %q", source))
		return
	}

	candidates := []lookup.Candidate{}
	switch {
	case s.search == nil || query == "":
	case source == "":
		candidates = s.search.SearchAll(r.Context(), query)
	default:
		candidates = s.search.Search(r.Context(), source, query)
	}
	writeJSON(w, http.StatusOK, candidates)
}
