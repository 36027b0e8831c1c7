// Command adminctl creates a pre-verified admin account. Admins cannot be
// created through the API, so the first one has to come from the operator's
// shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/sdk/sqldb"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "adminctl:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		email    = flag.String("email", "", "admin email address")
		username = flag.String("username", "", "admin username")
		dsn      = flag.String("dsn", os.Getenv("DATABASE_URL"), "postgres connection string")
	)
	flag.Parse()

	*email = strings.ToLower(strings.TrimSpace(*email))
	*username = strings.ToLower(strings.TrimSpace(*username))

	if *email == "" || *username == "" {
		return errors.New("both -email and -username are required")
	}
	if _, err := mail.ParseAddress(*email); err != nil {
		return fmt.Errorf("invalid email %q", *email)
	}
	if *dsn == "" {
		return errors.New("no database configured: set -dsn or DATABASE_URL")
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	db, err := sqldb.New(*dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	if err := sqldb.Migrate(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	user, err := db.CreateUser(ctx, models.NewUser{
		Email:                      *email,
		Username:                   *username,
		Role:                       models.RoleAdmin,
		Password:                   hashed,
		Verified:                   true,
		AcceptedTermsAndConditions: true,
	})
	if err != nil {
		if sqldb.IsDuplicateEntry(err) {
			return errors.New("a user with that email or username already exists")
		}
		return fmt.Errorf("create admin: %w", err)
	}

	fmt.Printf("created admin %s (%s)\n", user.Username, user.ID)
	return nil
}

func promptPassword() ([]byte, error) {
	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	if len(password) == 0 {
		return nil, errors.New("password must not be empty")
	}
	if string(password) != string(confirm) {
		return nil, errors.New("passwords do not match")
	}

	return password, nil
}
