package api

import (
	"encoding/json"
	"net/http"
)

// decodeBody unmarshals the request body RequireAuth already consumed
// (see bodyFromCtx) into dst. It never reads r.Body, since by the time a handler runs the signature verifier has already
// drained it to compute the HMAC over the payload.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := bodyFromCtx(r.Context())
	if len(body) == 0 {
		return true // empty body is valid for bodyless ops (accept, heartbeat, ...)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
