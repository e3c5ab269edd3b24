package httpapi

import (
	"net/http"

	"kasirpro/backend/internal/apperr"
	"kasirpro/backend/internal/domain"
)

type paymentLinkRequest struct {
	PaymentSource string `json:"payment_source"`
}

// actor returns the authenticated actor. requireAuth guarantees one exists.
func (a *API) actor(r *http.Request) domain.Actor {
	actor, _ := actorFrom(r.Context())
	return actor
}

func (a *API) handleListCart(w http.ResponseWriter, r *http.Request) {
	cart, err := a.cart.ListActive(r.Context(), a.actor(r).Username)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (a *API) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.AddProductRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	actor := a.actor(r)
	line, err := a.cart.AddProduct(r.Context(), actor.Username, actor.StoreID, req.CatalogID, req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"line": line})
}

func (a *API) handleAddService(w http.ResponseWriter, r *http.Request) {
	var req domain.AddServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	actor := a.actor(r)
	line, err := a.cart.AddService(r.Context(), actor.Username, actor.StoreID, req.CatalogID, req.StaffID, req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"line": line})
}

func (a *API) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateLineRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	line, err := a.cart.UpdateQuantity(r.Context(), a.actor(r).Username, r.PathValue("id"), req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"line": line})
}

func (a *API) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	if err := a.cart.RemoveLine(r.Context(), a.actor(r).Username, r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleListHeld(w http.ResponseWriter, r *http.Request) {
	held, err := a.cart.ListHeld(r.Context(), a.actor(r).Username)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holds": held})
}

func (a *API) handleHold(w http.ResponseWriter, r *http.Request) {
	var req domain.HoldRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	group, err := a.cart.Hold(r.Context(), a.actor(r).Username, req.Label)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	result, err := a.cart.Resume(r.Context(), a.actor(r).Username, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleDiscard(w http.ResponseWriter, r *http.Request) {
	removed, err := a.cart.ClearHold(r.Context(), a.actor(r).Username, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": removed})
}

func (a *API) handleSeedCart(w http.ResponseWriter, r *http.Request) {
	actor := a.actor(r)
	result, err := a.appointments.SeedCart(r.Context(), actor.StoreID, r.PathValue("id"), actor.Username)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	actor := a.actor(r)
	result, err := a.settlement.CommitSale(r.Context(), actor.Username, actor.StoreID, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := a.settlement.Transaction(r.Context(), a.actor(r).StoreID, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handlePaymentLink(w http.ResponseWriter, r *http.Request) {
	var req paymentLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.settlement.RetryPayment(r.Context(), a.actor(r).StoreID, r.PathValue("id"), req.PaymentSource)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req domain.RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	productID := r.PathValue("product_id")
	if productID == "" {
		a.writeError(w, r, apperr.New(apperr.CodeValidation, "product id is required"))
		return
	}
	level, err := a.stock.Restock(r.Context(), productID, req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": level})
}
