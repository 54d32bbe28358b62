package main

import "github.com/penshort/shortlinker/internal/auth"

// passwordHasher adapts the auth package's Argon2id hashing to the IPC
// handler's PasswordHasher collaborator.
type passwordHasher struct{}

func (passwordHasher) Hash(password string) (string, error) {
	return auth.HashPassword(password)
}
