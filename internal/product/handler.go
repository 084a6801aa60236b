package product

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"acero-store/internal/observability"
)

type Catalog interface {
	List(ctx context.Context, category string) ([]Product, error)
	Get(ctx context.Context, id string) (Product, error)
}

type Handler struct {
	catalog Catalog
	logger  *observability.Logger
}

func NewHandler(catalog Catalog, logger *observability.Logger) *Handler {
	return &Handler{catalog: catalog, logger: logger}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /products", h.ListProducts)
	mux.HandleFunc("GET /products/{id}", h.GetProduct)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	products, err := h.catalog.List(r.Context(), category)
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("list_products_failed", map[string]any{"error": err.Error(), "category": category})
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	p, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		sentry.CaptureException(err)
		h.logger.Error("get_product_failed", map[string]any{"error": err.Error(), "product_id": id})
		writeError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
