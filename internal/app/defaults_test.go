package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/custom/crepo.toml")
		t.Setenv(EnvHome, "/srv/crepo")

		got, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		want := Defaults{
			ConfigPath: "/custom/crepo.toml",
			BaseDir:    "/srv/crepo",
			LogDir:     "/srv/crepo/log",
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("GetDefaults() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("falls back to home directory", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv(EnvHome, "")

		home, err := os.UserHomeDir()
		if err != nil {
			t.Skipf("no home directory: %v", err)
		}
		got, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		want := Defaults{
			ConfigPath: filepath.Join(home, ".config", "crepo.toml"),
			BaseDir:    filepath.Join(home, ".local", "share", "crepo"),
			LogDir:     filepath.Join(home, ".local", "share", "crepo", "log"),
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("GetDefaults() mismatch (-want +got):\n%s", diff)
		}
	})
}
