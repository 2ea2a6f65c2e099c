// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadSimpleUniverse(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "universe.yaml", `
vars:
  scale: "10.0"
clock:
  start-time: "2026-01-01T00:00:00Z"
  time-scale: ${scale}
actors:
  - name: coordinator
    class: examples/pcompute.Coordinator
    write-to: ["/compute/requests"]
`)

	u, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(u.Actors) != 1 || u.Actors[0].Name != "coordinator" {
		t.Fatalf("unexpected actors: %+v", u.Actors)
	}
	if u.Actors[0].Overflow != "drop-newest" {
		t.Fatalf("expected default overflow policy, got %q", u.Actors[0].Overflow)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
actors:
  - name: tracker
    class: examples/pcompute.Tracker
`)
	path := writeFile(t, dir, "universe.yaml", `
include: ["base.yaml"]
actors:
  - name: coordinator
    class: examples/pcompute.Coordinator
`)

	u, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(u.Actors) != 2 {
		t.Fatalf("expected actors from both files, got %d", len(u.Actors))
	}
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `include: ["b.yaml"]`)
	path := writeFile(t, dir, "b.yaml", `include: ["a.yaml"]`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected include cycle to be rejected")
	}
}

func TestLoadRejectsUndefinedSubstitution(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "universe.yaml", `
clock:
  time-scale: ${does_not_exist}
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected undefined variable to be rejected")
	}
}
