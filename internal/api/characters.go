package api

import (
	"net/http"

	"github.com/ashureev/timetalks/internal/catalog"
	"github.com/ashureev/timetalks/internal/domain"
	"github.com/go-chi/chi/v5"
)

// CharacterView is a catalog entry with its selection index.
type CharacterView struct {
	Index int `json:"index"`
	domain.Character
}

// CatalogHandler serves the character catalog.
type CatalogHandler struct {
	catalog *catalog.Catalog
}

// NewCatalogHandler creates a catalog handler.
func NewCatalogHandler(c *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: c}
}

// RegisterRoutes registers the catalog routes.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/characters", h.List)
}

// List returns the characters in selection order.
func (h *CatalogHandler) List(w http.ResponseWriter, _ *http.Request) {
	all := h.catalog.All()
	views := make([]CharacterView, 0, len(all))
	for i, c := range all {
		views = append(views, CharacterView{Index: i, Character: c})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"characters": views})
}
