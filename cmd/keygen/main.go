// Package main issues API keys for hub users. The hub stores only bcrypt
// hashes of keys, so the raw key printed here is the only copy.
//
// Without -user it prints a key and its hash for manual seeding. With -user
// it connects using the server configuration, creates the user when missing
// (with -groups), and stores the key. -jwt additionally prints a signed
// session token for that user, using HUB_JWT_SECRET.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/collection-hub/collection-hub/internal/auth"
	"github.com/collection-hub/collection-hub/internal/config"
	"github.com/collection-hub/collection-hub/internal/db"
	"github.com/collection-hub/collection-hub/internal/db/models"
	"github.com/collection-hub/collection-hub/internal/db/repositories"
)

func main() {
	configPath := flag.String("config", os.Getenv("HUB_CONFIG"), "path to the YAML config file")
	prefix := flag.String("prefix", "hub", "key prefix")
	username := flag.String("user", "", "store the key for this user")
	groups := flag.String("groups", "", "comma-separated groups for a newly created user")
	name := flag.String("name", "default", "key name")
	ttl := flag.Duration("ttl", 0, "key lifetime, 0 for no expiry")
	jwtTTL := flag.Duration("jwt", 0, "also print a JWT for -user valid for this long")
	flag.Parse()

	key, hash, lookup, err := auth.GenerateAPIKey(*prefix)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if *username == "" {
		fmt.Printf("key:    %s\nprefix: %s\nhash:   %s\n", key, lookup, hash)
		return
	}

	if *jwtTTL > 0 {
		if err := auth.ValidateJWTSecret(); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}

	user, err := store(*configPath, *username, splitGroups(*groups), *name, *ttl, hash, lookup)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("key for %s: %s\n", user.Username, key)

	if *jwtTTL > 0 {
		token, err := auth.GenerateJWT(user.ID, user.Username, *jwtTTL)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Printf("jwt for %s: %s\n", user.Username, token)
	}
}

func store(configPath, username string, groups []string, name string, ttl time.Duration, hash, lookup string) (*models.User, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	users := repositories.NewUserRepository(database)
	user, err := users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &models.User{Username: username, Groups: groups}
		if err := users.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		log.Printf("created user %s (%s) in groups %v", user.Username, user.ID, user.Groups)
	}

	apiKey := &models.APIKey{
		UserID:    user.ID,
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: lookup,
	}
	if ttl > 0 {
		exp := time.Now().Add(ttl).UTC()
		apiKey.ExpiresAt = &exp
	}
	if err := repositories.NewAPIKeyRepository(database).CreateAPIKey(ctx, apiKey); err != nil {
		return nil, err
	}
	return user, nil
}

func splitGroups(s string) []string {
	var out []string
	for _, g := range strings.Split(s, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
