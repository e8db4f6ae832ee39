package dbkind

import (
	"testing"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
)

func TestCurrent(t *testing.T) {
	tests := []struct {
		dbType  string
		want    Kind
		wantErr bool
	}{
		{"sqlite", SQLite, false},
		{"postgres", PostgreSQL, false},
		{"oracle", Unknown, true},
		{"", Unknown, true},
	}

	for _, tt := range tests {
		cfg := &config.Config{DatabaseType: tt.dbType}
		got, err := Current(cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("Current(%q) error = %v, wantErr %v", tt.dbType, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("Current(%q) = %v, want %v", tt.dbType, got, tt.want)
		}
	}
}

// Current must observe a mid-flow engine change; the probe result is never
// cached between calls.
func TestCurrentObservesConfigChange(t *testing.T) {
	cfg := &config.Config{DatabaseType: "postgres"}
	if k, _ := Current(cfg); k != PostgreSQL {
		t.Fatalf("expected postgresql, got %v", k)
	}

	cfg.DatabaseType = "sqlite"
	if k, _ := Current(cfg); k != SQLite {
		t.Errorf("probe did not observe engine change, got %v", k)
	}
}

func TestKindString(t *testing.T) {
	if SQLite.String() != "SQLite" || PostgreSQL.String() != "PostgreSQL" || Unknown.String() != "unknown" {
		t.Error("unexpected Kind string values")
	}
}
