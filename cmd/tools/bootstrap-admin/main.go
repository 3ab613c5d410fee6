// Command bootstrap-admin seeds or promotes an administrator account in the
// datastore.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"moddepot/internal/models"
	"moddepot/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		username    string
		email       string
		password    string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&username, "username", "", "Username for the admin account")
	flag.StringVar(&email, "email", "", "Email address for the admin account")
	flag.StringVar(&password, "password", "", "Password for the admin account")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	user, created, err := bootstrapAdmin(repo, strings.TrimSpace(username), strings.TrimSpace(email), password)
	if err != nil {
		fatalf("bootstrap admin: %v", err)
	}

	state := "promoted"
	if created {
		state = "created"
	}
	fmt.Printf("Admin user %s (id %d) %s successfully.\n", user.Username, user.ID, state)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewStorage(jsonPath)
	}
	return storage.NewPostgresRepository(postgresDSN)
}

func closeRepository(repo storage.Repository) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = repo.Close(ctx)
}

func bootstrapAdmin(repo storage.Repository, username, email, password string) (models.User, bool, error) {
	if existing, ok := repo.FindUserByUsername(username); ok {
		return promoteAdmin(repo, existing, email, password)
	}

	user, err := repo.CreateUser(storage.CreateUserParams{
		Username: username,
		Email:    email,
		Password: password,
		Public:   true,
		Admin:    true,
	})
	if err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}

func promoteAdmin(repo storage.Repository, existing models.User, email, password string) (models.User, bool, error) {
	var update storage.UserUpdate
	if !existing.Admin {
		admin := true
		update.Admin = &admin
	}
	if email != "" && existing.Email != email {
		update.Email = &email
	}

	updated := existing
	var err error
	if update.Admin != nil || update.Email != nil {
		updated, err = repo.UpdateUser(existing.ID, update)
		if err != nil {
			return models.User{}, false, err
		}
	}

	updated, err = repo.SetUserPassword(existing.ID, password)
	if err != nil {
		return models.User{}, false, err
	}
	return updated, false, nil
}
