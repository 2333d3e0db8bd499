package handlers

import (
	"net/http"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeCoreErrorJSON(w, reqID, core.NewNotFoundError("not found"), http.StatusNotFound)
}
