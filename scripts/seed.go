//go:build ignore

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/hugh/parishdesk/internal/auth"
	"github.com/hugh/parishdesk/internal/database"
	"github.com/hugh/parishdesk/internal/database/models"
	"github.com/hugh/parishdesk/internal/membership"
	"github.com/hugh/parishdesk/internal/session"
	"github.com/hugh/parishdesk/internal/tenancy"
	"github.com/hugh/parishdesk/pkg/config"
	"github.com/hugh/parishdesk/pkg/util"
	"github.com/joho/godotenv"
)

// Seeds an administrator with their own parish plus a second parish in which
// they are an ordinary member, for exercising organization switching.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.ApplyMigrations(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	ctx := context.Background()
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService, session.NewDBStore(db), cfg.Session.TTL())

	email := envOr("ADMIN_EMAIL", "admin@example.com")
	password := envOr("ADMIN_PASSWORD", "admin12345")
	name := envOr("ADMIN_NAME", "Admin")

	resp, err := authService.Register(ctx, auth.RegisterInput{
		Email:    email,
		Password: password,
		Name:     name,
		OrgName:  "St. Anne",
	})
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			fmt.Printf("Admin user already exists: %s\n", email)
			return
		}
		log.Fatalf("failed to create admin user: %v", err)
	}

	second := models.Organization{Name: "Holy Cross", City: "Springfield", Country: "US"}
	if err := db.WithContext(ctx).Create(&second).Error; err != nil {
		log.Fatalf("failed to create second parish: %v", err)
	}
	if err := membership.NewStore(db).Grant(ctx, resp.User.ID, second.ID, []string{tenancy.RoleMember}); err != nil {
		log.Fatalf("failed to grant membership: %v", err)
	}

	fmt.Printf("Admin user created successfully!\n")
	fmt.Printf("Email: %s\n", resp.User.Email)
	fmt.Printf("Parishes: St. Anne (admin, selected), Holy Cross (member, id %s)\n", second.ID)
	fmt.Printf("Token: %s\n", resp.Token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
