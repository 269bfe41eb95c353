package httpx

import (
	"encoding/json"
	"errors"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/ariefcatur/stockkeeper/internal/redisx"
	"github.com/sirupsen/logrus"
	"net/http"
)

var errInvalidJSON = errors.New("invalid json")

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type shortageDetails struct {
	ProductID string `json:"product_id"`
	Product   string `json:"product"`
	Available int    `json:"available"`
	Required  int    `json:"required"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps core errors to a status code and a stable machine code.
func errorStatus(err error) (int, string) {
	var (
		short   *orders.InsufficientStockError
		illegal *orders.IllegalTransitionError
		edit    *orders.IllegalEditStateError
		missing *orders.ProductNotFoundError
		qty     *orders.InvalidQuantityError
		dup     *orders.DuplicateItemError
	)
	switch {
	case errors.As(err, &short):
		return http.StatusConflict, "insufficient_stock"
	case errors.As(err, &illegal):
		return http.StatusConflict, "illegal_transition"
	case errors.As(err, &edit):
		return http.StatusConflict, "illegal_edit_state"
	case errors.Is(err, orders.ErrProductInUse):
		return http.StatusConflict, "product_in_use"
	case errors.Is(err, redisx.ErrInFlight):
		return http.StatusConflict, "request_in_progress"
	case errors.As(err, &missing):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, orders.ErrItemNotFound):
		return http.StatusNotFound, "item_not_found"
	case errors.As(err, &qty):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.As(err, &dup):
		return http.StatusBadRequest, "duplicate_item"
	case errors.Is(err, orders.ErrUnknownAction):
		return http.StatusBadRequest, "unknown_action"
	case errors.Is(err, orders.ErrInvalidProduct):
		return http.StatusBadRequest, "invalid_product"
	case errors.Is(err, errInvalidJSON):
		return http.StatusBadRequest, "invalid_json"
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	code, name := errorStatus(err)
	body := errorBody{Error: err.Error(), Code: name}
	if code == http.StatusInternalServerError {
		log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		body.Error = "internal error"
	}
	var short *orders.InsufficientStockError
	if errors.As(err, &short) {
		body.Details = shortageDetails{ProductID: short.ProductID, Product: short.Product, Available: short.Available, Required: short.Required}
	}
	writeJSON(w, code, body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errInvalidJSON
	}
	return nil
}

// actorFrom reads the caller identity set by the authenticating proxy.
func actorFrom(r *http.Request) orders.Actor {
	return orders.Actor{
		UserID: r.Header.Get("X-User-Id"),
		Admin:  r.Header.Get("X-User-Role") == "admin",
	}
}

// requireUser rejects requests that carry no caller identity.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Id") == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing X-User-Id", Code: "unauthenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
