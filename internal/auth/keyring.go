// Package auth implements the rotating-key token mechanism that gates the
// read-only activity feed.
package auth

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/robfig/cron/v3"
)

const claimType = "typ"
const feedTokenType = "feed"

// Keyring holds the current and previous feed signing keys. Rotation keeps
// the previous key valid so connected feed readers survive one rotation.
type Keyring struct {
	logger *slog.Logger

	mu        sync.RWMutex
	current   []byte
	previous  []byte
	rotatedAt time.Time
}

// NewKeyring seeds the ring from the configured feed secret.
func NewKeyring(log *slog.Logger, secret string) (*Keyring, error) {
	if log == nil {
		log = slog.Default()
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("feed secret is required")
	}
	return &Keyring{
		logger:    log.With(slog.String("service", "feed_keyring")),
		current:   []byte(secret),
		rotatedAt: time.Now().UTC(),
	}, nil
}

// Rotate replaces the current key with fresh random material, demoting the
// old current key to previous.
func (k *Keyring) Rotate() {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		k.logger.Error("key rotation failed", slog.Any("error", err))
		return
	}
	k.mu.Lock()
	k.previous = k.current
	k.current = key
	k.rotatedAt = time.Now().UTC()
	k.mu.Unlock()
	k.logger.Info("feed key rotated")
}

// Keys returns the currently acceptable verification keys, newest first.
func (k *Keyring) Keys() [][]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys := [][]byte{k.current}
	if k.previous != nil {
		keys = append(keys, k.previous)
	}
	return keys
}

// RotatedAt returns the time of the last rotation (or seed).
func (k *Keyring) RotatedAt() time.Time {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.rotatedAt
}

// GenerateFeedToken signs a read-only feed token with the current key.
func (k *Keyring) GenerateFeedToken(subject string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("token ttl must be positive")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":     subject,
		claimType: feedTokenType,
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
	}
	k.mu.RLock()
	key := k.current
	k.mu.RUnlock()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateFeedToken parses tokenString against every acceptable key.
func (k *Keyring) ValidateFeedToken(tokenString string) (*jwt.Token, error) {
	var lastErr error
	for _, key := range k.Keys() {
		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return key, nil
		})
		if err == nil && token.Valid {
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || claims[claimType] != feedTokenType {
				return nil, fmt.Errorf("not a feed token")
			}
			return token, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("invalid token")
	}
	return nil, lastErr
}

// StartRotation schedules Rotate on the given cron spec and returns the
// running scheduler.
func (k *Keyring) StartRotation(spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, k.Rotate); err != nil {
		return nil, fmt.Errorf("schedule key rotation: %w", err)
	}
	c.Start()
	return c, nil
}
