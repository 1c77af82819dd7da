package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-supportchat/internal/database"
	"github.com/npezzotti/go-supportchat/internal/server"
	"github.com/npezzotti/go-supportchat/internal/types"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token       string `json:"token"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

type SaveSubscriptionRequest struct {
	Subscription types.PushSubscription `json:"subscription"`
	RoomId       string                 `json:"roomId"`
}

type SaveAdminSubscriptionRequest struct {
	Subscription types.PushSubscription `json:"subscription"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", zap.Error(err))
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Int("status", errResp.StatusCode), zap.Error(errResp))
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error("health check failed", zap.Error(err))
		s.writeJson(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GoChatApp) vapidPublicKeyHandler(w http.ResponseWriter, _ *http.Request) {
	if s.vapidPublicKey == "" {
		s.writeError(w, NewNotFoundError())
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"publicKey": s.vapidPublicKey})
}

func (s *GoChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := decodeBody(w, r, &lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if lr.Email == "" || lr.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	admin, err := s.db.GetAdminByEmail(r.Context(), lr.Email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewUnauthorizedError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	if !verifyPassword(admin.PasswordHash, lr.Password) {
		s.log.Info("failed login", zap.String("email", lr.Email))
		s.writeError(w, NewUnauthorizedError())
		return
	}

	identity := types.AdminIdentity{Email: admin.Email, DisplayName: admin.DisplayName}
	token, err := s.createJwtForSession(identity, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, LoginResponse{
		Token:       token,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
	})
}

func (s *GoChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *GoChatApp) saveSubscription(w http.ResponseWriter, r *http.Request) {
	var req SaveSubscriptionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.router.SaveRoomSubscription(r.Context(), req.RoomId, req.Subscription); err != nil {
		s.writeError(w, routerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, map[string]string{"status": "saved"})
}

func (s *GoChatApp) saveAdminSubscription(w http.ResponseWriter, r *http.Request) {
	var req SaveAdminSubscriptionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.router.SaveAdminSubscription(r.Context(), req.Subscription); err != nil {
		s.writeError(w, routerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, map[string]string{"status": "saved"})
}

func (s *GoChatApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no origin
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

// serveWs upgrades the connection. Requests carrying a valid admin token
// get an admin connection, all others an anonymous end-user one.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	var admin *types.AdminIdentity
	if _, err := tokenFromRequest(r); err == nil {
		admin, err = s.adminFromRequest(r)
		if err != nil {
			s.log.Debug("invalid websocket token", zap.Error(err))
			s.writeError(w, NewUnauthorizedError())
			return
		}
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading connection", zap.Error(err))
		return
	}

	client := server.NewClient(admin, conn, s.cs, s.router, s.log, s.stats)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
