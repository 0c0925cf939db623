package web

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/go-chi/chi/v5"
)

// EntitySummary is one entry of the entity listing.
type EntitySummary struct {
	Entity     string   `json:"entity"`
	Label      string   `json:"label"`
	NaturalKey string   `json:"natural_key,omitempty"`
	FieldCount int      `json:"field_count"`
	Required   []string `json:"required"`
}

// EntityResponse describes a schema in full.
type EntityResponse struct {
	Entity     string         `json:"entity"`
	Label      string         `json:"label"`
	NaturalKey string         `json:"natural_key,omitempty"`
	Fields     []schema.Field `json:"fields"`
	Rules      []schema.Rule  `json:"rules,omitempty"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	schemas := s.service.Entities()
	out := make([]EntitySummary, 0, len(schemas))
	for _, sc := range schemas {
		required := []string{}
		for _, f := range sc.RequiredFields() {
			required = append(required, f.Key)
		}
		out = append(out, EntitySummary{
			Entity:     sc.Entity(),
			Label:      sc.Label(),
			NaturalKey: sc.NaturalKey(),
			FieldCount: len(sc.Fields()),
			Required:   required,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	sc, err := s.service.Schema(chi.URLParam(r, "entity"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, EntityResponse{
		Entity:     sc.Entity(),
		Label:      sc.Label(),
		NaturalKey: sc.NaturalKey(),
		Fields:     sc.Fields(),
		Rules:      sc.Rules(),
	})
}

// handleDownloadTemplate serves the entity's CSV template as an attachment.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	data, fileName, err := s.service.Template(chi.URLParam(r, "entity"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
