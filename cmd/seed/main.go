// seed inserts development accounts for local testing. Run with go run ./cmd/seed.
// Idempotent: accounts whose email already exists are left untouched.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"study-abroad-portal/backend/internal/config"
	"study-abroad-portal/backend/internal/db"
	"study-abroad-portal/backend/internal/security"
	"study-abroad-portal/backend/internal/user/domain"
	"study-abroad-portal/backend/internal/user/repository"
)

const devPassword = "password123"

var devAccounts = []struct {
	email string
	name  string
	role  domain.Role
}{
	{"admin@example.com", "Dev Admin", domain.RoleAdmin},
	{"student@example.com", "Dev Student", domain.RoleUser},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := repository.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash(devPassword)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	created := 0
	for _, a := range devAccounts {
		existing, err := users.GetByEmail(ctx, a.email)
		if err != nil {
			log.Fatalf("seed check %s: %v", a.email, err)
		}
		if existing != nil {
			log.Printf("%s exists, skipping", a.email)
			continue
		}
		now := time.Now().UTC()
		u := &domain.User{
			ID:              uuid.New().String(),
			Email:           a.email,
			Name:            a.name,
			Role:            a.role,
			PasswordHash:    passwordHash,
			IsEmailVerified: true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("create %s: %v", a.email, err)
		}
		created++
	}

	log.Printf("Seed completed (%d created).", created)
	for _, a := range devAccounts {
		fmt.Printf("%s login: %s / %s\n", a.role, a.email, devPassword)
	}
}
