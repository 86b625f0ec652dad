package test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-delve/kmon/pkg/proc"
)

// Fixture is a machine description.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the machine description.
	Path string
}

var (
	fixturesMu sync.Mutex
	// Fixtures is a map of Fixture.Name to Fixture.
	Fixtures = make(map[string]Fixture)
)

// FindFixturesDir returns the path of the _fixtures directory, searching
// upwards from the current directory.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// BuildFixture returns the fixture named name, the machine description
// _fixtures/<name>.yml.
func BuildFixture(name string) Fixture {
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := Fixtures[name]; ok {
		return f
	}
	path, err := filepath.Abs(filepath.Join(FindFixturesDir(), name+".yml"))
	if err != nil {
		path = filepath.Join(FindFixturesDir(), name+".yml")
	}
	f := Fixture{Name: name, Path: path}
	Fixtures[name] = f
	return f
}

// LoadFixture builds a fresh target out of the fixture named name.
func LoadFixture(t testing.TB, name string) *proc.Target {
	t.Helper()
	fixture := BuildFixture(name)
	d, err := proc.LoadDescription(fixture.Path)
	if err != nil {
		t.Fatalf("could not load fixture %s: %v", name, err)
	}
	p, err := proc.NewFromDescription(d, 0)
	if err != nil {
		t.Fatalf("could not build fixture %s: %v", name, err)
	}
	return p
}

// FixturePath returns the path of a file in the fixtures directory.
func FixturePath(name string) string {
	return filepath.Join(FindFixturesDir(), name)
}
