package restore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
)

// pending holds what was classified when a confirmation token was issued.
// Redeeming re-detects everything; this exists so a token cannot be replayed
// against a different upload.
type pending struct {
	UploadPath string    `json:"upload_path"`
	Scenario   Scenario  `json:"scenario"`
	IssuedAt   time.Time `json:"issued_at"`
}

// TokenStore issues and redeems single-use confirmation tokens. Each pending
// token is a small file under the session directory, so the preview and the
// confirmation can run in separate processes. Tokens expire after the
// configured TTL so an operator cannot confirm against a database that has
// drifted since the preview.
type TokenStore struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewTokenStore creates a store keeping its pending tokens under dir.
func NewTokenStore(dir string, ttl time.Duration) *TokenStore {
	return &TokenStore{
		dir: dir,
		ttl: ttl,
		now: time.Now,
	}
}

// Issue mints a token bound to the given upload and scenario.
func (s *TokenStore) Issue(uploadPath string, scenario Scenario) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating session directory: %w", err)
	}
	s.prune()

	token := uuid.NewString()
	data, err := json.Marshal(pending{
		UploadPath: uploadPath,
		Scenario:   scenario,
		IssuedAt:   s.now(),
	})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.path(token), data, 0o600); err != nil {
		return "", fmt.Errorf("writing session token: %w", err)
	}
	return token, nil
}

// Redeem consumes a token. It fails when the token is unknown, expired, or
// bound to a different upload than the one being confirmed.
func (s *TokenStore) Redeem(token, uploadPath string) (Scenario, error) {
	// Only UUIDs are ever issued; anything else stays out of the filesystem.
	if _, err := uuid.Parse(token); err != nil {
		return "", errors.StaleToken(token)
	}

	data, err := os.ReadFile(s.path(token))
	if err != nil {
		return "", errors.StaleToken(token)
	}
	// Consumed on first read, whatever happens next.
	_ = os.Remove(s.path(token))

	var p pending
	if err := json.Unmarshal(data, &p); err != nil {
		return "", errors.StaleToken(token)
	}
	if p.IssuedAt.Before(s.now().Add(-s.ttl)) {
		return "", errors.StaleToken(token)
	}
	if p.UploadPath != uploadPath {
		return "", errors.StaleToken(token).WithDetails(
			"token was issued for a different upload")
	}
	return p.Scenario, nil
}

// prune drops expired token files. Best effort; Redeem checks the TTL again.
func (s *TokenStore) prune() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(s.dir, entry.Name()))
		}
	}
}

func (s *TokenStore) path(token string) string {
	return filepath.Join(s.dir, token+".json")
}
