package restore

import (
	"testing"
	"time"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/errors"
)

func issueToken(t *testing.T, store *TokenStore, uploadPath string, scenario Scenario) string {
	t.Helper()
	token, err := store.Issue(uploadPath, scenario)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("Issue returned empty token")
	}
	return token
}

func TestTokenRoundTrip(t *testing.T) {
	store := NewTokenStore(t.TempDir(), 15*time.Minute)

	token := issueToken(t, store, "/uploads/backup.sqlite3", ScenarioSQLiteToPostgres)

	scenario, err := store.Redeem(token, "/uploads/backup.sqlite3")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if scenario != ScenarioSQLiteToPostgres {
		t.Errorf("scenario = %s, want %s", scenario, ScenarioSQLiteToPostgres)
	}
}

// A token issued by one process must be redeemable by another; only the
// session directory is shared.
func TestTokenSurvivesProcessBoundary(t *testing.T) {
	dir := t.TempDir()
	issuer := NewTokenStore(dir, 15*time.Minute)
	redeemer := NewTokenStore(dir, 15*time.Minute)

	token := issueToken(t, issuer, "/uploads/backup.sqlite3", ScenarioSQLiteToPostgres)

	scenario, err := redeemer.Redeem(token, "/uploads/backup.sqlite3")
	if err != nil {
		t.Fatalf("Redeem from a second store: %v", err)
	}
	if scenario != ScenarioSQLiteToPostgres {
		t.Errorf("scenario = %s, want %s", scenario, ScenarioSQLiteToPostgres)
	}
}

func TestTokenIsSingleUse(t *testing.T) {
	store := NewTokenStore(t.TempDir(), 15*time.Minute)
	token := issueToken(t, store, "/uploads/backup.sqlite3", ScenarioSQLiteToPostgres)

	if _, err := store.Redeem(token, "/uploads/backup.sqlite3"); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := store.Redeem(token, "/uploads/backup.sqlite3"); errors.GetCode(err) != errors.ErrCodeStaleToken {
		t.Errorf("second redeem should be stale, got %v", err)
	}
}

func TestTokenBoundToUpload(t *testing.T) {
	store := NewTokenStore(t.TempDir(), 15*time.Minute)
	token := issueToken(t, store, "/uploads/a.sqlite3", ScenarioSQLiteToPostgres)

	if _, err := store.Redeem(token, "/uploads/b.sqlite3"); errors.GetCode(err) != errors.ErrCodeStaleToken {
		t.Errorf("redeeming against a different upload should be stale, got %v", err)
	}
}

func TestTokenExpires(t *testing.T) {
	store := NewTokenStore(t.TempDir(), 15*time.Minute)
	current := time.Now()
	store.now = func() time.Time { return current }

	token := issueToken(t, store, "/uploads/backup.sqlite3", ScenarioSQLiteToPostgres)

	current = current.Add(16 * time.Minute)
	if _, err := store.Redeem(token, "/uploads/backup.sqlite3"); errors.GetCode(err) != errors.ErrCodeStaleToken {
		t.Errorf("expired token should be stale, got %v", err)
	}
}

func TestUnknownToken(t *testing.T) {
	store := NewTokenStore(t.TempDir(), 15*time.Minute)
	if _, err := store.Redeem("never-issued", "/uploads/backup.sqlite3"); errors.GetCode(err) != errors.ErrCodeStaleToken {
		t.Errorf("unknown token should be stale, got %v", err)
	}
}

// A well-formed UUID that was never issued must not redeem either.
func TestUnissuedUUIDToken(t *testing.T) {
	store := NewTokenStore(t.TempDir(), 15*time.Minute)
	if _, err := store.Redeem("3e8f2c44-7f41-4b7b-9d3a-1c2b345d6e7f", "/uploads/backup.sqlite3"); errors.GetCode(err) != errors.ErrCodeStaleToken {
		t.Errorf("unissued token should be stale, got %v", err)
	}
}
