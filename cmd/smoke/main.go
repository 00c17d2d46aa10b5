// Command smoke runs the auth flow end to end against the in-memory store:
// seed, login, refresh with rotation, reuse detection, lockout. No external
// services required.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"villagegrid.org/internal/auth"
	"villagegrid.org/internal/ids"
	"villagegrid.org/internal/store/memory"
)

const password = "smoke-test-password"

func main() {
	log.SetFlags(0)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := memory.New()
	now := time.Now().UTC()

	role := &auth.Role{
		ID: ids.New(), Name: "superadmin", System: true,
		Permissions: auth.NewPermissionSet(auth.PermissionAll),
		CreatedAt:   now, UpdatedAt: now,
	}
	if err := store.Roles().Create(ctx, role); err != nil {
		log.Fatalf("seed role: %v", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash: %v", err)
	}
	user := &auth.User{
		ID: ids.New(), Username: "smoke", Email: "smoke@villagegrid.local",
		PasswordHash: hash, RoleID: role.ID, Active: true,
		PasswordChangedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Users().Create(ctx, user); err != nil {
		log.Fatalf("seed user: %v", err)
	}

	issuer, err := auth.NewTokenIssuer("smoke-secret", "villagegrid-smoke")
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}
	svc, err := auth.NewService(store, issuer,
		auth.WithLockoutPolicy(auth.LockoutPolicy{Threshold: 3, Duration: time.Minute}))
	if err != nil {
		log.Fatalf("service: %v", err)
	}
	meta := auth.RequestMeta{IP: "127.0.0.1", UserAgent: "smoke"}

	res, err := svc.Login(ctx, "smoke", password, false, meta)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	if _, err := svc.Authenticate(ctx, res.AccessToken); err != nil {
		log.Fatalf("authenticate: %v", err)
	}

	rotated, err := svc.Refresh(ctx, res.RefreshToken, meta)
	if err != nil {
		log.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == res.RefreshToken {
		log.Fatal("refresh token did not rotate")
	}
	if _, err := svc.Refresh(ctx, res.RefreshToken, meta); err == nil {
		log.Fatal("refresh reuse was not rejected")
	}
	if sess, err := store.Sessions().Find(ctx, res.Session.ID); err != nil || sess.Active {
		log.Fatalf("session not revoked after reuse: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.Login(ctx, "smoke", "wrong", false, meta); err == nil {
			log.Fatal("wrong password accepted")
		}
	}
	if _, err := svc.Login(ctx, "smoke", password, false, meta); err == nil {
		log.Fatal("locked account accepted a login")
	}

	fmt.Println("✅ auth smoke test passed: login, rotation, reuse detection, lockout")
}
