package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"meshrelay/internal/message"
	"meshrelay/internal/relay"
	"meshrelay/internal/storage"
)

const maxBodyBytes = 64 << 10

type healthPayload struct {
	Status   string `json:"status"`
	Node     string `json:"node"`
	Peers    int    `json:"peers"`
	Channels int    `json:"channels"`
	Store    bool   `json:"store"`
	Message  string `json:"message,omitempty"`
}

type provisionRequest struct {
	Name              string `json:"name"`
	Owner             string `json:"owner"`
	Password          string `json:"password"`
	PasswordProtected bool   `json:"passwordProtected"`
	MessageRetention  bool   `json:"messageRetention"`
}

type sendRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

type membershipRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := healthPayload{Status: "ok", Node: s.node, Store: s.store != nil}
		peers, err := s.relay.ListPeers(r.Context())
		if err == nil {
			var channels []relay.Channel
			channels, err = s.relay.ListChannels(r.Context())
			payload.Channels = len(channels)
		}
		if err != nil {
			payload.Status = "error"
			payload.Message = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
		payload.Peers = len(peers)
		s.writeJSON(w, http.StatusOK, payload)
	}
}

func (s *Server) listChannelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := s.relay.ListChannels(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, channels)
	}
}

func (s *Server) provisionChannelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req provisionRequest
		if !s.decode(w, r, &req) {
			return
		}
		hash, err := relay.HashPassword(req.Password)
		if err != nil {
			http.Error(w, "hash error", http.StatusInternalServerError)
			return
		}
		owner := strings.TrimSpace(req.Owner)
		if owner == "" {
			owner = subjectFrom(r.Context())
		}
		spec := relay.ChannelSpec{
			Name:              normalizeChannel(req.Name),
			Owner:             owner,
			PasswordProtected: req.PasswordProtected || len(hash) > 0,
			MessageRetention:  req.MessageRetention,
			PasswordHash:      hash,
		}
		ch, err := s.relay.ProvisionChannel(r.Context(), spec)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if s.store != nil {
			rec := storage.ChannelRecord{
				Name:              ch.Name,
				Owner:             ch.Owner,
				PasswordProtected: ch.PasswordProtected,
				MessageRetention:  ch.MessageRetention,
				PasswordHash:      hash,
				CreatedAt:         time.Now().UTC(),
			}
			if err := s.store.SaveChannel(r.Context(), rec); err != nil {
				s.log.Error().Err(err).Str("channel", ch.Name).Msg("channel provisioned but not persisted")
			}
		}
		s.log.Info().Str("channel", ch.Name).Str("owner", ch.Owner).Msg("channel provisioned")
		s.writeJSON(w, http.StatusCreated, ch)
	}
}

func (s *Server) channelMessagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := s.relay.ChannelMessages(r.Context(), channelParam(r))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, msgs)
	}
}

func (s *Server) sendChannelMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if !s.decode(w, r, &req) {
			return
		}
		msg, err := s.relay.SendChannelMessage(r.Context(), channelParam(r), s.senderOrSubject(r, req.Sender), req.Content)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) sendPrivateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if !s.decode(w, r, &req) {
			return
		}
		msg, err := s.relay.SendPrivateMessage(r.Context(), s.senderOrSubject(r, req.Sender), req.Recipient, req.Content)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) joinHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req membershipRequest
		if !s.decode(w, r, &req) {
			return
		}
		channel := channelParam(r)
		if err := s.relay.VerifyChannelPassword(r.Context(), channel, req.Password); err != nil {
			s.writeError(w, err)
			return
		}
		s.membership(w, r, s.relay.JoinChannel, s.senderOrSubject(r, req.User), channel)
	}
}

func (s *Server) leaveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req membershipRequest
		if !s.decode(w, r, &req) {
			return
		}
		channel := channelParam(r)
		if _, err := s.relay.Channel(r.Context(), channel); err != nil {
			s.writeError(w, err)
			return
		}
		s.membership(w, r, s.relay.LeaveChannel, s.senderOrSubject(r, req.User), channel)
	}
}

func (s *Server) membership(w http.ResponseWriter, r *http.Request, send func(context.Context, string, string) (message.Message, error), user, channel string) {
	msg, err := send(r.Context(), user, channel)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, msg)
}

func (s *Server) listPeersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peers, err := s.relay.ListPeers(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, peers)
	}
}

func (s *Server) senderOrSubject(r *http.Request, sender string) string {
	if sender = strings.TrimSpace(sender); sender != "" {
		return sender
	}
	return subjectFrom(r.Context())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn().Err(err).Msg("json write")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, message.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrChannelExists):
		return http.StatusConflict
	case errors.Is(err, relay.ErrWrongPassword):
		return http.StatusForbidden
	case errors.Is(err, relay.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func channelParam(r *http.Request) string {
	return normalizeChannel(chi.URLParam(r, "name"))
}

// normalizeChannel accepts "kitchen", "#kitchen" and "%23kitchen".
func normalizeChannel(name string) string {
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = strings.TrimSpace(name)
	if name != "" && !strings.HasPrefix(name, "#") {
		name = "#" + name
	}
	return name
}
