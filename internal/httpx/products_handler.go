package httpx

import (
	"github.com/ariefcatur/stockkeeper/internal/metrics"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"net/http"
)

// ProductsHandler serves the catalogue. Reads are public, writes are admin-only.
type ProductsHandler struct {
	Orders  *orders.Service
	Metrics *metrics.OrderMetrics
	Log     logrus.FieldLogger
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/info", h.productInfo)
	r.Get("/products/{id}", h.getProduct)
	r.Post("/products", h.createProduct)
	r.Patch("/products/{id}", h.updateProduct)
	r.Delete("/products/{id}", h.deleteProduct)
}

func productFilter(r *http.Request) orders.ProductFilter {
	q := r.URL.Query()
	return orders.ProductFilter{Search: q.Get("search"), Ordering: q.Get("ordering")}
}

func (h *ProductsHandler) observe(op string, err error) {
	if h.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		_, outcome = errorStatus(err)
	}
	h.Metrics.Operations.WithLabelValues(op, outcome).Inc()
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Orders.ListProducts(r.Context(), productFilter(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *ProductsHandler) productInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.Orders.ProductInfo(r.Context(), productFilter(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Orders.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req orders.ProductInput
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	p, err := h.Orders.CreateProduct(r.Context(), actorFrom(r), req)
	h.observe("create_product", err)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProductsHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req orders.ProductPatch
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	p, err := h.Orders.UpdateProduct(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req)
	h.observe("update_product", err)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	err := h.Orders.DeleteProduct(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	h.observe("delete_product", err)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
