package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "schoolx", Name: "schoolx"})
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=schoolx dbname=schoolx TimeZone=UTC sslmode=disable", dsn)
}

func TestBuildPostgresDSNWithOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "user",
		Name:     "db",
		Host:     "db.example.com",
		Port:     6543,
		Password: "pass",
		Options: map[string]string{
			"sslmode":     "require",
			"search_path": "public",
		},
	})
	require.NoError(t, err)
	for _, part := range []string{
		"host=db.example.com", "port=6543", "user=user", "dbname=db",
		"password=pass", "sslmode=require", "search_path=public",
	} {
		require.Contains(t, dsn, part)
	}
	require.NotContains(t, dsn, "sslmode=disable")
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	_, err := buildPostgresDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestBuildPostgresDSNPrefersExplicitDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "postgres://u@h/db"})
	require.NoError(t, err)
	require.Equal(t, "postgres://u@h/db", dsn)
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "schoolx", Name: "schoolx"})
	require.NoError(t, err)
	require.Equal(t, "schoolx@tcp(127.0.0.1:3306)/schoolx?charset=utf8mb4&loc=UTC&parseTime=True", dsn)
}

func TestBuildMySQLDSNWithOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "user",
		Password: "secret",
		Name:     "db",
		Host:     "db.example.com",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify"},
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "user:secret@tcp(db.example.com:3307)/db?")
	require.Contains(t, dsn, "tls=skip-verify")
	require.Contains(t, dsn, "parseTime=True")
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	_, err := buildMySQLDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.ErrorContains(t, err, "unsupported database driver")
}
