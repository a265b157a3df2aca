package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "STATIONEDGE_"

// applyEnv overrides fields from STATIONEDGE_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
			return
		}
		*dst = d
	}
	num := func(key string, dst *int) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
			return
		}
		*dst = b
	}

	str("STATION_ID", &c.StationID)
	str("DATABASE_PATH", &c.DatabasePath)
	str("SERVER_URL", &c.Server.BaseURL)
	str("WEBSOCKET_URL", &c.Server.WebSocketURL)
	dur("REQUEST_TIMEOUT", &c.Server.RequestTimeout)
	dur("HEARTBEAT_INTERVAL", &c.Realtime.HeartbeatInterval)
	num("MAX_MISSED_ACKS", &c.Realtime.MaxMissedAcks)
	dur("POLL_INTERVAL", &c.Sync.PollInterval)
	str("WEB_HOST", &c.Web.Host)
	num("WEB_PORT", &c.Web.Port)
	str("SESSION_SECRET", &c.Web.SessionSecret)
	flag("MESSAGING_ENABLED", &c.Messaging.Enabled)
	str("MESSAGING_BACKEND", &c.Messaging.Backend)
	str("MQTT_BROKER", &c.Messaging.MQTT.Broker)
	if v, ok := lookup(envPrefix + "KAFKA_BROKERS"); ok && v != "" {
		c.Messaging.Kafka.Brokers = splitList(v)
	}
	flag("REDIS_ENABLED", &c.Redis.Enabled)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
