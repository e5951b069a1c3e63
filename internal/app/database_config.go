package app

import (
	"strings"

	"github.com/charlesng35/schoolx/internal/database"
)

// DatabaseClientConfig converts the configured driver section into database.Config.
func (c DatabaseConfig) DatabaseClientConfig() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	out := database.Config{
		Driver: driver,
		DSN:    strings.TrimSpace(c.DSN),
		Path:   c.Path,
	}

	var section DBAuthConfig
	switch driver {
	case "postgres", "postgresql":
		section = c.Postgres
	case "mysql", "mariadb":
		section = c.MySQL
	default:
		return out
	}

	out.Host = section.Host
	out.Port = section.Port
	out.Name = section.Database
	out.User = section.Username
	out.Password = section.Password
	out.Options = section.Options
	out.MaxOpenConns = 25
	out.MaxIdleConns = 5
	return out
}
