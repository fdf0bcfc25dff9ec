package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/khoahotran/chatmedia/pkg/auth"
)

// Adds a user and prints a bearer token for it, for local testing of the
// API and the websocket.
func main() {
	fmt.Println("adding user into database...")

	err := godotenv.Load()
	if err != nil {
		log.Println("warning: .env file not found, use system environment variables.")
	}

	DSN := os.Getenv("DB_DSN")
	USER_EMAIL := os.Getenv("SEED_USER_EMAIL")
	JWT_SECRET := os.Getenv("JWT_SECRET")
	if USER_EMAIL == "" || JWT_SECRET == "" {
		log.Fatalf("SEED_USER_EMAIL and JWT_SECRET are required")
	}

	pool, err := pgxpool.New(context.Background(), DSN)
	if err != nil {
		log.Fatalf("cannot connect DB: %v", err)
	}
	defer pool.Close()

	query := `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`
	var id uuid.UUID
	if err := pool.QueryRow(context.Background(), query, uuid.New(), USER_EMAIL).Scan(&id); err != nil {
		log.Fatalf("cannot add user: %v", err)
	}

	token, err := auth.NewJWTService(JWT_SECRET, 24*time.Hour).GenerateToken(id)
	if err != nil {
		log.Fatalf("cannot issue token: %v", err)
	}

	fmt.Printf("added or found user '%s' (%s)\n", USER_EMAIL, id)
	fmt.Printf("token: %s\n", token)
}
