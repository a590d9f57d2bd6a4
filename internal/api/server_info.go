package api

import (
	"net/http"
)

type ServerInfoHandler struct {
	info ServerInfoResponse
}

type ServerInfoResponse struct {
	Name              string   `json:"name"`
	Rooms             []string `json:"rooms"`
	EmailVerification bool     `json:"emailVerification"`
	PasswordMinLength int      `json:"passwordMinLength"`
}

func NewServerInfoHandler(info ServerInfoResponse) *ServerInfoHandler {
	return &ServerInfoHandler{info: info}
}

// GET /api/v1/server/info tells the client which registration flow to
// expect. EmailVerification false means new accounts are auto-verified.
func (h *ServerInfoHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.info)
}
