package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adamwoolhether/forge"
	"github.com/adamwoolhether/forge/auth"
	"github.com/adamwoolhether/forge/forgetest"
	"github.com/adamwoolhether/forge/store"
)

const (
	email    = "ada@example.com"
	password = "correct horse"
)

func writeConfig(t *testing.T, srv *forgetest.Server) string {
	t.Helper()

	dir := t.TempDir()
	fc := fileConfig{
		Forge: srv.Config(),
		Store: store.Config{Driver: store.DriverBolt, Path: filepath.Join(dir, "credentials.db")},
	}

	data, err := yaml.Marshal(fc)
	if err != nil {
		t.Fatalf("encoding config: %v", err)
	}

	path := filepath.Join(dir, "forgectl.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	return path
}

func runCLI(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	err := run(ctx, args, &stdout, &stderr)

	return stdout.String(), err
}

func TestSessionLifecycle(t *testing.T) {
	srv := forgetest.NewServer()
	t.Cleanup(srv.Close)
	want := srv.AddUser(email, password)

	cfg := writeConfig(t, srv)

	out, err := runCLI(t, t.Context(), "-config", cfg, "login", "-email", email, "-password", password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	var got auth.Profile
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding login output %q: %v", out, err)
	}
	if got != want {
		t.Errorf("login profile = %+v, want %+v", got, want)
	}

	// A second invocation picks the session up from the bolt file.
	if _, err := runCLI(t, t.Context(), "-config", cfg, "whoami"); err != nil {
		t.Fatalf("whoami after login: %v", err)
	}

	if _, err := runCLI(t, t.Context(), "-config", cfg, "refresh"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n := srv.Hits(forge.RefreshToken); n != 1 {
		t.Errorf("refresh hits = %d, want 1", n)
	}

	if _, err := runCLI(t, t.Context(), "-config", cfg, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := runCLI(t, t.Context(), "-config", cfg, "whoami"); err == nil {
		t.Error("whoami after logout: expected error")
	}
}

func TestPasswordCommands(t *testing.T) {
	srv := forgetest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser(email, password)

	cfg := writeConfig(t, srv)

	steps := [][]string{
		{"login", "-email", email, "-password", password},
		{"change-password", "-email", email, "-password", password, "-new-password", "battery staple"},
		{"forgot-password", "-email", email},
		{"reset-password", "-email", email, "-code", forgetest.ResetCode, "-new-password", "tr0ub4dor"},
	}

	for _, args := range steps {
		if _, err := runCLI(t, t.Context(), append([]string{"-config", cfg}, args...)...); err != nil {
			t.Fatalf("%s: %v", args[0], err)
		}
	}

	if got := srv.Password(email); got != "tr0ub4dor" {
		t.Errorf("password = %q, want %q", got, "tr0ub4dor")
	}
}

func TestSubscribe(t *testing.T) {
	srv := forgetest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser(email, password)

	cfg := writeConfig(t, srv)

	if _, err := runCLI(t, t.Context(), "-config", cfg, "login", "-email", email, "-password", password); err != nil {
		t.Fatalf("login: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	out, err := runCLI(t, ctx, "-config", cfg, "changes")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}

	if !strings.HasPrefix(out, "connected\n") {
		t.Errorf("output = %q, want it to start with connected", out)
	}
	if !strings.Contains(out, "user-connected") {
		t.Errorf("output = %q, want the user-connected event", out)
	}
}

func TestRun_Errors(t *testing.T) {
	srv := forgetest.NewServer()
	t.Cleanup(srv.Close)

	cfg := writeConfig(t, srv)

	tests := map[string][]string{
		"noCommand":      {"-config", cfg},
		"unknownCommand": {"-config", cfg, "dance"},
		"missingConfig":  {"-config", filepath.Join(t.TempDir(), "nope.yaml"), "whoami"},
		"notSignedIn":    {"-config", cfg, "whoami"},
		"invalidLogin":   {"-config", cfg, "login", "-email", "not-an-email"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := runCLI(t, t.Context(), args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}
