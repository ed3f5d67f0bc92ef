package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/diogo/quillchat/internal/api"
	"github.com/diogo/quillchat/internal/models"
)

// maxRequestBody bounds a browser request body
const maxRequestBody = 1 << 20

const (
	msgNetworkError  = "Network error: Cannot connect to the server."
	msgSendFailed    = "Failed to send chat message to backend"
	msgSendInternal  = "An internal error occurred while processing your chat message"
	msgBackendHealth = "Backend health check failed"
	msgBackendDown   = "Cannot connect to backend server"
)

type errorBody struct {
	Error string `json:"error"`
}

type healthBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeRaw relays a backend JSON body, substituting fallback when the body
// is not valid JSON
func writeRaw(w http.ResponseWriter, status int, body []byte, fallback string) {
	if !gjson.ValidBytes(body) {
		body = []byte(fallback)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func copySetCookies(w http.ResponseWriter, resp *api.Response) {
	for _, c := range resp.SetCookies() {
		w.Header().Add("Set-Cookie", c)
	}
}

// browserHeader keeps the credentials and tracing headers of the browser request
func browserHeader(r *http.Request) http.Header {
	h := http.Header{}
	for _, name := range []string{"Cookie", "Authorization", models.RequestIDHeader} {
		if v := r.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backend.Forward(r.Context(), http.MethodGet, models.EndpointHealthz, "", http.Header{}, nil)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("backend health check unreachable")
		writeJSON(w, http.StatusInternalServerError, healthBody{Status: "error", Message: msgBackendDown})
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		writeJSON(w, resp.StatusCode, healthBody{Status: "error", Message: msgBackendHealth})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ok"})
}

// sessionRoute describes a pass-through route whose Set-Cookie headers reach
// the browser
type sessionRoute struct {
	// withBody forwards the browser's JSON request body
	withBody bool
	// withCookie forwards the browser's cookie
	withCookie bool
	// mapUnauthorized rewrites a 401 body
	mapUnauthorized bool
	// errorKey names the message field of the network error body
	errorKey string
}

// handleSession relays the session and account routes. Rotated or cleared
// cookies are passed back to the browser.
func (s *Server) handleSession(route sessionRoute) http.HandlerFunc {
	if route.errorKey == "" {
		route.errorKey = "error"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		header := browserHeader(r)
		if !route.withCookie {
			header.Del("Cookie")
		}
		header.Set("Accept", "application/json")

		var body []byte
		if route.withBody {
			data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
			if err != nil {
				writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			if !gjson.ValidBytes(data) {
				writeError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
			body = data
			header.Set("Content-Type", "application/json")
		}

		resp, err := s.backend.Forward(r.Context(), r.Method, endpoint, "", header, body)
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("endpoint", endpoint).Msg("backend unreachable")
			writeJSON(w, http.StatusInternalServerError, map[string]string{route.errorKey: msgNetworkError})
			return
		}
		if route.mapUnauthorized && resp.StatusCode == http.StatusUnauthorized {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		copySetCookies(w, resp)
		writeRaw(w, resp.StatusCode, resp.Body, "{}")
	}
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backend.Forward(r.Context(), http.MethodGet, models.EndpointUserChats, "", browserHeader(r), nil)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to fetch chats")
		writeError(w, http.StatusInternalServerError, "Failed to fetch chats")
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body, "[]")
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	endpoint := models.EndpointUserChat + url.PathEscape(id)
	resp, err := s.backend.Forward(r.Context(), http.MethodGet, endpoint, "", browserHeader(r), nil)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("chat_id", id).Msg("failed to fetch chat")
		writeError(w, http.StatusInternalServerError, "Failed to fetch chat")
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body, "{}")
}

// handleSend relays a chat_request envelope. The backend answers with the
// complete reply or {"streaming":true}, in which case the browser opens the
// event stream.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	if !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	header := browserHeader(r)
	header.Set("Content-Type", "application/json")
	resp, err := s.backend.Forward(r.Context(), http.MethodPost, models.EndpointChatSend, "", header, body)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("error sending chat message")
		writeError(w, http.StatusInternalServerError, msgSendInternal)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(resp.Body, "error").String()
		if msg == "" {
			msg = msgSendFailed
		}
		writeError(w, resp.StatusCode, msg)
		return
	}
	if !gjson.ValidBytes(resp.Body) {
		zerolog.Ctx(r.Context()).Error().Int("bytes", len(resp.Body)).Msg("backend send response is not JSON")
		writeError(w, http.StatusInternalServerError, msgSendInternal)
		return
	}
	writeRaw(w, http.StatusOK, resp.Body, "{}")
}
