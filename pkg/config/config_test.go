package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/akerouanton/muproof/pkg/config"
	"github.com/akerouanton/muproof/pkg/invariant"
	"github.com/akerouanton/muproof/pkg/schedule"
)

const tomlConfig = `
entry = ["main.main"]
unresolved = "abort"
timeout = "30s"
max_depth = 8
log_level = "debug"
pure = ["example.com/acct.valid"]

[[invariants]]
package = "example.com/acct"
type = "Account"
member = "balance"

[[invariants]]
kind = "guarded_by"
package = "example.com/acct"
type = "Account"
member = "history"
lock = "mu"
`

const yamlConfig = `
entry: [main.main]
unresolved: abort
timeout: 30s
max_depth: 8
log_level: debug
pure: [example.com/acct.valid]
invariants:
  - package: example.com/acct
    type: Account
    member: balance
  - kind: guarded_by
    package: example.com/acct
    type: Account
    member: history
    lock: mu
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	want := []invariant.Invariant{
		invariant.NewAtomic("example.com/acct", "Account", "balance"),
		invariant.NewGuardedBy("example.com/acct", "Account", "history", "mu"),
	}
	for name, content := range map[string]string{
		"muproof.toml": tomlConfig,
		"muproof.yaml": yamlConfig,
	} {
		t.Run(name, func(t *testing.T) {
			c, err := config.Load(write(t, name, content))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff([]string{"main.main"}, c.Entry); diff != "" {
				t.Errorf("entry mismatch (-want +got):\n%s", diff)
			}
			if p, _ := c.Policy(); p != schedule.Abort {
				t.Errorf("Policy() = %s, want abort", p)
			}
			if d, _ := c.TimeoutDuration(); d != 30*time.Second {
				t.Errorf("TimeoutDuration() = %s", d)
			}
			if c.MaxDepth != 8 {
				t.Errorf("MaxDepth = %d", c.MaxDepth)
			}
			got, err := c.Declared()
			if err != nil {
				t.Fatalf("Declared: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("invariants mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadEmpty(t *testing.T) {
	c, err := config.Load(write(t, "empty.yml", ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Invariants) != 0 || c.Unresolved != "" {
		t.Errorf("empty config decoded to %+v", c)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		is   error
	}{
		{name: "unknown policy", cfg: config.Config{Unresolved: "ignore"}},
		{name: "bad timeout", cfg: config.Config{Timeout: "soon"}},
		{name: "negative depth", cfg: config.Config{MaxDepth: -1}},
		{name: "bad log level", cfg: config.Config{LogLevel: "loud"}},
		{name: "unknown kind", cfg: config.Config{Invariants: []config.Invariant{{Kind: "volatile", Type: "T", Member: "m"}}}},
		{
			name: "ambiguous member",
			cfg:  config.Config{Invariants: []config.Invariant{{Type: "T", Member: "a,b"}}},
			is:   invariant.ErrAmbiguousInvariant,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() succeeded")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("Validate() = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestUnknownKeys(t *testing.T) {
	if _, err := config.Load(write(t, "muproof.toml", "depth = 3\n")); err == nil {
		t.Errorf("TOML with unknown key loaded")
	}
	if _, err := config.Load(write(t, "muproof.yaml", "depth: 3\n")); err == nil {
		t.Errorf("YAML with unknown key loaded")
	}
}
