package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/object-log/object-log/internal/auth"
	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/db"
	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/db/repositories"
)

type createUserOptions struct {
	username  string
	email     string
	name      string
	superuser bool
}

func parseCreateUserArgs(args []string) (createUserOptions, error) {
	var opts createUserOptions
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.email, "email", "", "email address")
	fs.StringVar(&opts.name, "name", "", "display name")
	fs.BoolVar(&opts.superuser, "superuser", false, "grant access to the log views")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("create-user: %w", err)
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return opts, fmt.Errorf("usage: server create-user [-email addr] [-name name] [-superuser] <username>")
	}
	opts.username = strings.TrimSpace(fs.Arg(0))
	return opts, nil
}

// createUser bootstraps an account, typically the first superuser.
func createUser(cfg *config.Config, args []string) error {
	opts, err := parseCreateUserArgs(args)
	if err != nil {
		return err
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo := repositories.NewUserRepository(database)
	existing, err := repo.GetUserByUsername(ctx, opts.username)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("user %q already exists (id %s)", opts.username, existing.ID)
	}

	user := &models.User{
		Username:    opts.username,
		Email:       opts.email,
		Name:        opts.name,
		IsSuperuser: opts.superuser,
		IsActive:    true,
	}
	if err := repo.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created", "id", user.ID, "username", user.Username, "superuser", user.IsSuperuser)
	fmt.Println(user.ID)
	return nil
}

type issueTokenOptions struct {
	username string
	ttl      time.Duration
}

func parseIssueTokenArgs(args []string, defaultTTL time.Duration) (issueTokenOptions, error) {
	opts := issueTokenOptions{ttl: defaultTTL}
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.DurationVar(&opts.ttl, "ttl", defaultTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("issue-token: %w", err)
	}
	if fs.NArg() != 1 {
		return opts, fmt.Errorf("usage: server issue-token [-ttl 24h] <username>")
	}
	if opts.ttl <= 0 {
		return opts, fmt.Errorf("issue-token: ttl must be positive")
	}
	opts.username = fs.Arg(0)
	return opts, nil
}

// issueToken prints a session JWT for an existing active user.
func issueToken(cfg *config.Config, args []string) error {
	opts, err := parseIssueTokenArgs(args, cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, err := repositories.NewUserRepository(database).GetUserByUsername(ctx, opts.username)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %q not found", opts.username)
	}
	if !user.IsActive {
		return fmt.Errorf("user %q is inactive", opts.username)
	}

	token, err := auth.GenerateJWT(user.ID, user.Username, opts.ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
