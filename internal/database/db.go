package database

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Pool defaults.  A burst of concurrent buyers queues on the pool instead
// of exhausting the server; every reservation and checkout transaction
// borrows one connection for its full lifetime, so the open cap bounds
// in-flight transactions too.
const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 25
)

// Open connects to MySQL and verifies the connection.  Times are stored
// and compared in UTC throughout, so the session location is pinned and
// DATETIME columns come back as time.Time (ParseTime).  Pool bounds are
// overridable through DB_MAX_OPEN_CONNS and DB_MAX_IDLE_CONNS.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = host + ":" + port
	cfg.DBName = name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(poolSize("DB_MAX_OPEN_CONNS", defaultMaxOpenConns))
	db.SetMaxIdleConns(poolSize("DB_MAX_IDLE_CONNS", defaultMaxIdleConns))
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// poolSize reads an optional positive-integer pool bound from the
// environment.
func poolSize(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
