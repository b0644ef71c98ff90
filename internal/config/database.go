package config

import (
	"fmt"
	"os"
	"strings"
)

// DatabaseURL resolves the PostgreSQL connection string.
//
// DATABASE_URL wins when set. Otherwise INSTANCE_CONNECTION_NAME together with
// DB_USER, DB_PASSWORD and DB_NAME produce a Unix socket connection for
// managed Cloud SQL deployments.
func DatabaseURL() (string, error) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL, nil
	}

	instance := os.Getenv("INSTANCE_CONNECTION_NAME")
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	name := os.Getenv("DB_NAME")

	if instance == "" {
		return "", fmt.Errorf("neither DATABASE_URL nor INSTANCE_CONNECTION_NAME is set")
	}
	if user == "" || name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	socket := "/cloudsql/" + instance
	if password == "" {
		return fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable", socket, user, name), nil
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable", socket, user, password, name), nil
}

// RedactDatabaseURL hides the password portion of a postgres:// URL.
func RedactDatabaseURL(connStr string) string {
	if !strings.HasPrefix(connStr, "postgresql://") && !strings.HasPrefix(connStr, "postgres://") {
		if i := strings.Index(connStr, "password="); i >= 0 {
			end := strings.IndexByte(connStr[i:], ' ')
			if end < 0 {
				return connStr[:i] + "password=***"
			}
			return connStr[:i] + "password=***" + connStr[i+end:]
		}
		return connStr
	}
	parts := strings.SplitN(connStr, "@", 2)
	if len(parts) != 2 {
		return connStr
	}
	userParts := strings.Split(parts[0], ":")
	if len(userParts) >= 3 {
		return userParts[0] + ":" + userParts[1] + ":***@" + parts[1]
	}
	return connStr
}
