package httpx

import (
	"errors"
	"github.com/ariefcatur/stockkeeper/internal/metrics"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/ariefcatur/stockkeeper/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"net/http"
)

type OrdersHandler struct {
	Orders  *orders.Service
	Idem    Idempotency  // nil disables Idempotency-Key handling
	Status  StatusReader // nil always reads the database
	Metrics *metrics.OrderMetrics
	Log     logrus.FieldLogger
}

// OrderResponse is an order plus what the caller may do with it next.
type OrderResponse struct {
	*orders.Order
	AllowedTransitions []orders.Action `json:"allowed_transitions"`
}

type ChangeItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type BulkActionReq struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getStatus)
		r.Put("/orders/{id}", h.updateOrder)
		r.Patch("/orders/{id}", h.updateOrder)
		r.Delete("/orders/{id}", h.deleteOrder)
		r.Post("/orders/{id}/items", h.addItem)
		r.Patch("/orders/{id}/items/{itemID}", h.changeItem)
		r.Delete("/orders/{id}/items/{itemID}", h.removeItem)
		r.Post("/orders/{id}/{action}", h.transition)

		r.Post("/admin/orders/actions", h.bulkAction)
	})
}

func (h *OrdersHandler) respond(w http.ResponseWriter, code int, o *orders.Order) {
	writeJSON(w, code, OrderResponse{Order: o, AllowedTransitions: h.Orders.AllowedTransitions(o)})
}

func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.observe(op, err)
	writeError(w, r, h.Log, err)
}

func (h *OrdersHandler) observe(op string, err error) {
	if h.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		_, outcome = errorStatus(err)
	}
	h.Metrics.Operations.WithLabelValues(op, outcome).Inc()
	var short *orders.InsufficientStockError
	if errors.As(err, &short) {
		h.Metrics.Shortages.WithLabelValues(short.ProductID).Inc()
	}
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderInput
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "create", err)
		return
	}
	ctx := r.Context()
	actor := actorFrom(r)

	// Idempotency-Key: Redis is a best-effort guard, the order itself lives in the DB
	key := r.Header.Get("Idempotency-Key")
	claimed := false
	if key != "" && h.Idem != nil {
		existing, err := h.Idem.Claim(ctx, actor.UserID, key)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			h.fail(w, r, "create", err)
			return
		case err != nil:
			h.Log.WithError(err).Warn("idempotency unavailable, creating without it")
		case existing != "":
			o, err := h.Orders.GetOrder(ctx, actor, existing)
			if err != nil {
				h.fail(w, r, "create", err)
				return
			}
			w.Header().Set("Idempotent-Replay", "true")
			h.respond(w, http.StatusOK, o)
			return
		default:
			claimed = true
		}
	}

	o, err := h.Orders.CreateOrder(ctx, actor, req)
	if err != nil {
		if claimed {
			if err := h.Idem.Abandon(ctx, actor.UserID, key); err != nil {
				h.Log.WithError(err).Warn("release idempotency key")
			}
		}
		h.fail(w, r, "create", err)
		return
	}
	if claimed {
		if err := h.Idem.Complete(ctx, actor.UserID, key, o.ID); err != nil {
			h.Log.WithError(err).WithField("order_id", o.ID).Warn("store idempotency key")
		}
	}
	h.observe("create", nil)
	h.respond(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.OrderFilter{
		Status:   orders.Status(q.Get("status")),
		Search:   q.Get("search"),
		Ordering: q.Get("ordering"),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown status " + string(f.Status), Code: "invalid_filter"})
		return
	}
	list, err := h.Orders.ListOrders(r.Context(), actorFrom(r), f)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	out := make([]OrderResponse, 0, len(list))
	for i := range list {
		out = append(out, OrderResponse{Order: &list[i], AllowedTransitions: h.Orders.AllowedTransitions(&list[i])})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	h.respond(w, http.StatusOK, o)
}

// getStatus serves the Redis projection when it has one the caller may see,
// otherwise the database.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := actorFrom(r)

	// 1) projection
	if h.Status != nil {
		st, ok, err := h.Status.Get(r.Context(), id)
		if err != nil {
			h.Log.WithError(err).WithField("order_id", id).Warn("read status projection")
		}
		if ok && (actor.Admin || st.UserID == actor.UserID) {
			w.Header().Set("X-Status-Source", "cache")
			writeJSON(w, http.StatusOK, st)
			return
		}
	}

	// 2) fallback DB
	o, err := h.Orders.GetOrder(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	w.Header().Set("X-Status-Source", "db")
	writeJSON(w, http.StatusOK, redisx.StatusOf(o))
}

// updateOrder serves PUT and PATCH. Items, when present, replace the whole set.
func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.UpdateOrderInput
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "update", err)
		return
	}
	if r.Method == http.MethodPut && req.Items == nil {
		req.Items = []orders.ItemSpec{}
	}
	o, err := h.Orders.UpdateOrderItems(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, "update", err)
		return
	}
	h.observe("update", nil)
	h.respond(w, http.StatusOK, o)
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req orders.ItemSpec
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "add_item", err)
		return
	}
	o, err := h.Orders.AddItem(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, "add_item", err)
		return
	}
	h.observe("add_item", nil)
	h.respond(w, http.StatusCreated, o)
}

func (h *OrdersHandler) changeItem(w http.ResponseWriter, r *http.Request) {
	var req ChangeItemReq
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "change_item", err)
		return
	}
	o, err := h.Orders.ChangeItem(r.Context(), actorFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), req.ProductID, req.Quantity)
	if err != nil {
		h.fail(w, r, "change_item", err)
		return
	}
	h.observe("change_item", nil)
	h.respond(w, http.StatusOK, o)
}

func (h *OrdersHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.RemoveItem(r.Context(), actorFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	if err != nil {
		h.fail(w, r, "remove_item", err)
		return
	}
	h.observe("remove_item", nil)
	h.respond(w, http.StatusOK, o)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	action, err := orders.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		h.fail(w, r, "transition", err)
		return
	}
	o, err := h.Orders.Transition(r.Context(), actorFrom(r), chi.URLParam(r, "id"), action)
	if err != nil {
		h.fail(w, r, string(action), err)
		return
	}
	h.observe(string(action), nil)
	h.respond(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.DeleteOrder(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "delete", err)
		return
	}
	h.observe("delete", nil)
	w.WriteHeader(http.StatusNoContent)
}

// bulkAction runs an admin list action; "delete" is accepted next to the transition actions.
func (h *OrdersHandler) bulkAction(w http.ResponseWriter, r *http.Request) {
	var req BulkActionReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	var (
		res orders.BulkResult
		err error
	)
	if req.Action == "delete" {
		res, err = h.Orders.BulkDelete(r.Context(), actorFrom(r), req.IDs)
	} else {
		var action orders.Action
		if action, err = orders.ParseAction(req.Action); err == nil {
			res, err = h.Orders.BulkTransition(r.Context(), actorFrom(r), req.IDs, action)
		}
	}
	if err != nil {
		h.fail(w, r, "bulk", err)
		return
	}
	h.observe("bulk", nil)
	writeJSON(w, http.StatusOK, res)
}
