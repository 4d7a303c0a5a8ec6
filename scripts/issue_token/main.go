// Command issue_token signs a development bearer token with JWT_SECRET and
// prints the centers it grants.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gongplan/gong-api/internal/models"
	"github.com/gongplan/gong-api/internal/repository"
	"github.com/gongplan/gong-api/internal/service"
	"github.com/gongplan/gong-api/pkg/config"
	"github.com/gongplan/gong-api/pkg/database"
)

func main() {
	var (
		email string
		name  string
		role  string
	)
	flag.StringVar(&email, "email", "", "Planner email")
	flag.StringVar(&name, "name", "", "Display name")
	flag.StringVar(&role, "role", string(models.RolePlanner), "planner or admin")
	flag.Parse()

	if email == "" {
		log.Fatal("-email is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer db.Close()

	auth := service.NewAuthService(repository.NewPlannerRepository(db), nil, service.AuthConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		Expiry: cfg.JWT.Expiration,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := issue(ctx, os.Stdout, auth, email, name, models.UserRole(role)); err != nil {
		log.Fatal(err)
	}
}

type tokenIssuer interface {
	IssueToken(email, name string, role models.UserRole) (string, time.Time, error)
	Centers(ctx context.Context, claims *models.JWTClaims) ([]string, error)
}

func issue(ctx context.Context, w io.Writer, auth tokenIssuer, email, name string, role models.UserRole) error {
	if role != models.RolePlanner && role != models.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}
	token, expires, err := auth.IssueToken(email, name, role)
	if err != nil {
		return err
	}
	centers, err := auth.Centers(ctx, &models.JWTClaims{Email: email, Role: role})
	if err != nil {
		return err
	}

	fmt.Fprintln(w, token)
	fmt.Fprintf(w, "expires: %s\n", expires.Format(time.RFC3339))
	switch {
	case centers == nil:
		fmt.Fprintln(w, "centers: all")
	case len(centers) == 0:
		fmt.Fprintln(w, "centers: none (add rows to planners before using this token)")
	default:
		fmt.Fprintf(w, "centers: %s\n", strings.Join(centers, ", "))
	}
	return nil
}
