package trade

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stockflow/market-sim/internal/model"
)

// ListMarket handles GET /market
// Returns the catalog in display order, optionally filtered by
// ?type=Stock|ETF and ?category=<name> (both case-insensitive).
func (s *Service) ListMarket(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	category := r.URL.Query().Get("category")

	items := s.catalog.List()
	filtered := make([]model.Instrument, 0, len(items))
	for _, inst := range items {
		if kind != "" && !strings.EqualFold(string(inst.Kind), kind) {
			continue
		}
		if category != "" && !strings.EqualFold(inst.Category, category) {
			continue
		}
		filtered = append(filtered, inst)
	}

	writeJSON(w, http.StatusOK, filtered)
}

// GetInstrument handles GET /market/{ticker}
func (s *Service) GetInstrument(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.lookup(w, chi.URLParam(r, "ticker"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst)
}
