package www

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"stationedge/lifecycle"
)

// handleLogin signs the administrator in. The first login on a fresh
// database creates the admin account.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	db := h.engine.DB()
	created, err := EnsureAdmin(db, req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin user")
		return
	}
	if created {
		log.Printf("admin user %q created", req.Username)
	} else {
		user, err := db.GetAdminUser(req.Username)
		if err != nil || !checkPassword(req.Password, user.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
	}

	if err := h.sessions.setUser(w, r, req.Username); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "username": req.Username})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.clear(w, r)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.AppConfig()
	cfg.Lock()
	defer cfg.Unlock()
	writeJSON(w, map[string]interface{}{
		"station_id": cfg.StationID,
		"server": map[string]interface{}{
			"base_url":        cfg.Server.BaseURL,
			"websocket_url":   cfg.Server.WebSocketURL,
			"request_timeout": cfg.Server.RequestTimeout.String(),
		},
		"messaging": map[string]interface{}{
			"enabled":       cfg.Messaging.Enabled,
			"backend":       cfg.Messaging.Backend,
			"mqtt_broker":   cfg.Messaging.MQTT.Broker,
			"mqtt_port":     cfg.Messaging.MQTT.Port,
			"kafka_brokers": cfg.Messaging.Kafka.Brokers,
			"print_topic":   cfg.Messaging.PrintTopic,
		},
		"redis_enabled": cfg.Redis.Enabled,
	})
}

// apiUpdateServer changes the station server address and reconnects.
func (h *Handlers) apiUpdateServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseURL        string `json:"base_url"`
		WebSocketURL   string `json:"websocket_url"`
		RequestTimeout string `json:"request_timeout"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BaseURL == "" || req.WebSocketURL == "" {
		writeError(w, http.StatusBadRequest, "base_url and websocket_url are required")
		return
	}
	var timeout time.Duration
	if req.RequestTimeout != "" {
		d, err := time.ParseDuration(req.RequestTimeout)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request_timeout %q", req.RequestTimeout))
			return
		}
		timeout = d
	}

	cfg := h.engine.AppConfig()
	cfg.Lock()
	cfg.Server.BaseURL = req.BaseURL
	cfg.Server.WebSocketURL = req.WebSocketURL
	if timeout > 0 {
		cfg.Server.RequestTimeout = timeout
	}
	cfg.Unlock()

	if err := cfg.Save(h.engine.ConfigPath()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.engine.ApplyServerConfig()
	writeJSON(w, map[string]string{"status": "ok"})
}

// apiUpdateMessaging saves print backend settings. They take effect on
// restart.
func (h *Handlers) apiUpdateMessaging(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled      bool     `json:"enabled"`
		Backend      string   `json:"backend"`
		MQTTBroker   string   `json:"mqtt_broker"`
		MQTTPort     int      `json:"mqtt_port"`
		MQTTClientID string   `json:"mqtt_client_id"`
		KafkaBrokers []string `json:"kafka_brokers"`
		PrintTopic   string   `json:"print_topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Backend != "mqtt" && req.Backend != "kafka" {
		writeError(w, http.StatusBadRequest, "backend must be mqtt or kafka")
		return
	}

	cfg := h.engine.AppConfig()
	cfg.Lock()
	cfg.Messaging.Enabled = req.Enabled
	cfg.Messaging.Backend = req.Backend
	cfg.Messaging.MQTT.Broker = req.MQTTBroker
	cfg.Messaging.MQTT.Port = req.MQTTPort
	cfg.Messaging.MQTT.ClientID = req.MQTTClientID
	cfg.Messaging.Kafka.Brokers = req.KafkaBrokers
	if req.PrintTopic != "" {
		cfg.Messaging.PrintTopic = req.PrintTopic
	}
	cfg.Unlock()

	if err := cfg.Save(h.engine.ConfigPath()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "note": "restart to apply"})
}

func (h *Handlers) apiChangePassword(w http.ResponseWriter, r *http.Request) {
	username, ok := h.sessions.getUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "new password is required")
		return
	}

	user, err := h.engine.DB().GetAdminUser(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "user not found")
		return
	}
	if !checkPassword(req.OldPassword, user.PasswordHash) {
		writeError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	if err := h.engine.DB().UpdateAdminPassword(username, hash); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to update password: %v", err))
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- History ---

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 1000 {
		return 1000
	}
	return n
}

func (h *Handlers) apiListExits(w http.ResponseWriter, r *http.Request) {
	exits, err := h.engine.DB().ListExits(queryLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, exits)
}

func (h *Handlers) apiListLifecycleLog(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	plate := r.URL.Query().Get("plate")
	if plate != "" {
		key := lifecycle.KeyFor(plate, r.URL.Query().Get("destination"))
		entries, err := db.ListVehicleLifecycleLog(key.LicensePlate, key.Destination)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, entries)
		return
	}
	entries, err := db.ListLifecycleLog(queryLimit(r, 200))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, entries)
}

func (h *Handlers) apiOutboxStatus(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	pending, err := db.CountPendingOutbox()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	msgs, err := db.ListPendingOutbox(queryLimit(r, 50), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"pending":  pending,
		"messages": msgs,
	})
}
