package handlers

import (
	"net/http"

	"github.com/bridgekit/live-relay/pkg/gateway/apierror"
	"github.com/bridgekit/live-relay/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, http.StatusNotFound, &apierror.Error{
		Type:      apierror.ErrNotFound,
		Message:   "not found",
		RequestID: reqID,
	})
}
