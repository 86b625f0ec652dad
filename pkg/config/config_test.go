package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func withConfigHome(t *testing.T) string {
	dir, err := ioutil.TempDir("", "kmon-config")
	if err != nil {
		t.Fatal(err)
	}
	old, had := os.LookupEnv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", dir)
	t.Cleanup(func() {
		if had {
			os.Setenv("XDG_CONFIG_HOME", old)
		} else {
			os.Unsetenv("XDG_CONFIG_HOME")
		}
		os.RemoveAll(dir)
	})
	return dir
}

func TestDefaultConfig(t *testing.T) {
	var buf bytes.Buffer
	if err := writeDefaultConfig(&buf); err != nil {
		t.Fatal(err)
	}
	c, err := decodeConfig(&buf)
	if err != nil {
		t.Fatalf("default configuration does not parse: %v", err)
	}
	if c.GetPrompt() != DefaultPrompt {
		t.Fatalf("expected default prompt got %q", c.GetPrompt())
	}
	if c.GetDisassembleFlavour() != "intel" {
		t.Fatalf("expected intel flavour got %q", c.GetDisassembleFlavour())
	}
	if c.SymbolCacheSize != 0 || len(c.Aliases) != 0 {
		t.Fatalf("unexpected default configuration %#v", c)
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := withConfigHome(t)
	c := LoadConfig()
	if c == nil {
		t.Fatal("nil config")
	}
	if _, err := os.Stat(filepath.Join(dir, "kmon", "config.yml")); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
}

func TestSaveConfig(t *testing.T) {
	withConfigHome(t)
	flavour := "gnu"
	conf := &Config{
		Aliases:           map[string][]string{"showmappings": {"sm"}},
		Prompt:            "kmon> ",
		DisassembleFlavor: &flavour,
		SymbolCacheSize:   32,
	}
	if err := SaveConfig(conf); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	c := LoadConfig()
	if c.GetPrompt() != "kmon> " || c.GetDisassembleFlavour() != "gnu" || c.SymbolCacheSize != 32 {
		t.Fatalf("unexpected configuration %#v", c)
	}
	if a := c.Aliases["showmappings"]; len(a) != 1 || a[0] != "sm" {
		t.Fatalf("unexpected aliases %v", c.Aliases)
	}
}
