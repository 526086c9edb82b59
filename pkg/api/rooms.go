package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"draftwire/pkg/logger"
	"draftwire/pkg/models"
	"draftwire/pkg/store"
	"draftwire/pkg/utils"
)

// roomMessagesHandler lists the finalized history for the room containing
// the two named users, oldest first. ?limit=N keeps only the newest N.
func (s *server) roomMessagesHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, b := models.UserID(vars["a"]), models.UserID(vars["b"])
	if a == "" || b == "" {
		utils.JSONError(w, http.StatusBadRequest, "room users missing")
		return
	}

	limit := 0
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		n, err := strconv.Atoi(limStr)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	room := store.NewRoomID(a, b)
	msgs, err := s.opts.Store.List(room, limit)
	if err != nil {
		if errors.Is(err, store.ErrMissingRoom) {
			utils.JSONError(w, http.StatusNotFound, "room not found")
			return
		}
		logger.Error("room_list_failed", "room", room.Key(), "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "list failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Room     string           `json:"room"`
		Messages []models.Message `json:"messages"`
	}{Room: room.Key(), Messages: msgs})
}

// messageHandler fetches one finalized message by id.
func (s *server) messageHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, err := s.opts.Store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrMissingMessage) {
			utils.JSONError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Error("message_get_failed", "id", id, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "get failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}
