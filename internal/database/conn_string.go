package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/tickstream/internal/config"
)

// ApplicationName tags recorder sessions in pg_stat_activity.
const ApplicationName = "tickstream"

// BuildConnString builds a PostgreSQL connection URL from config. User and
// password are escaped; a zero port or empty ssl mode fall back to the
// config defaults.
func BuildConnString(cfg config.DBConfig) string {
	port := cfg.Port
	if port == 0 {
		port = config.DefaultDBPort
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
