package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type ConnectionInfo struct {
	Host     string
	Port     int
	Username string
	DBName   string
	SSLMode  string
	Password string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the connection info in libpq keyword/value form.
func (info ConnectionInfo) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=%s password=%s",
		info.Host,
		info.Port,
		info.Username,
		info.DBName,
		info.SSLMode,
		info.Password,
	)
}

func NewPostgresConnection(ctx context.Context, info ConnectionInfo) (*sql.DB, error) {
	db, err := sql.Open("pgx", info.DSN())
	if err != nil {
		return nil, err
	}

	if info.MaxOpenConns > 0 {
		db.SetMaxOpenConns(info.MaxOpenConns)
	}
	if info.MaxIdleConns > 0 {
		db.SetMaxIdleConns(info.MaxIdleConns)
	}
	if info.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(info.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func Close(db *sql.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.Printf("postgres close error: %s", err)
	}
}
