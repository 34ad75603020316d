package queue

import (
	"net/http"
	"net/url"

	"github.com/appetiteclub/apt"
	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// TrackingURL is the public status page of the customer who placed order.
func (h *Handler) TrackingURL(order *Order) string {
	q := url.Values{}
	q.Set("phone", order.Phone)
	q.Set("session", order.SessionID.String())
	return h.publicURL + "/track?" + q.Encode()
}

// OrderQR renders a PNG QR code that opens the order's tracking page.
func (h *Handler) OrderQR(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.OrderQR")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	order, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, log, err, "load order")
		return
	}

	png, err := qrcode.Encode(h.TrackingURL(order), qrcode.Medium, qrSize)
	if err != nil {
		log.Error("cannot encode qr code", "error", err, "order_id", id.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
