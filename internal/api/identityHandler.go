package api

import (
	"net/http"
)

type IdentityResponse struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// IdentityHandler returns the caller's device, minting one if needed, and
// pins it in a cookie.
func (s *Server) IdentityHandler(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r.Context())
	s.setDeviceCookie(w, d.Token)
	writeJSON(w, http.StatusOK, IdentityResponse{DeviceID: d.ID, Token: d.Token})
}
