package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vmihailenco/msgpack/v5"

	"ex-mimic/internal/archive"
	"ex-mimic/internal/mimic"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func currentSnapshot(t *testing.T) []byte {
	t.Helper()

	coordinator, err := mimic.NewCoordinator(mimic.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	coordinator.ToggleWhitelist("alice")
	coordinator.ToggleModerator("bob")
	if _, err := coordinator.ConfigureProc("chat-1", 1, 1, 18); err != nil {
		t.Fatalf("ConfigureProc failed: %v", err)
	}
	coordinator.ToggleSleep("chat-1")
	coordinator.SetMutators("chat-1", []mimic.MutatorKind{mimic.Misgendering})

	blob, err := coordinator.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return blob
}

func legacySnapshot(t *testing.T) []byte {
	t.Helper()

	blob, err := msgpack.Marshal(&mimic.LegacySnapshotDocument{
		GuildsKeys: []string{"guild-9"},
		GuildsValues: []mimic.LegacyScopeRecord{{
			Messages:  []mimic.UtteranceRecord{{AuthorID: "alice", Content: "hello there"}},
			MinProc:   1,
			MaxProc:   4,
			ProcOutOf: 18,
			Proc:      2,
		}},
		Whitelist: []string{"alice"},
	})
	if err != nil {
		t.Fatalf("msgpack.Marshal failed: %v", err)
	}
	return blob
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "snapshot.msgpack")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path
}

func TestSnapshotInspect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		blob func(*testing.T) []byte
		want []string
	}{
		{
			name: "current schema",
			blob: currentSnapshot,
			want: []string{
				"schema: current, version 2",
				"whitelisted: 1  blacklisted: 0  moderators: 1",
				"scopes: 1",
				"chat-1: 0 messages, proc 1..1/18 current 1, asleep true, mutators misgendering",
			},
		},
		{
			name: "legacy schema",
			blob: legacySnapshot,
			want: []string{
				"schema: legacy, version 2",
				"guild-9: 1 messages, proc 1..4/18 current 2, asleep false, mutators append_emote,message_splicer,misgendering",
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			out, err := runCLI(t, "snapshot", "inspect", writeFile(t, testCase.blob(t)))
			if err != nil {
				t.Fatalf("inspect failed: %v", err)
			}
			for _, want := range testCase.want {
				if !strings.Contains(out, want) {
					t.Fatalf("output = %q, missing %q", out, want)
				}
			}
		})
	}
}

func TestSnapshotInspectJSON(t *testing.T) {
	t.Parallel()

	out, err := runCLI(t, "snapshot", "inspect", "--json", writeFile(t, legacySnapshot(t)))
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if !strings.Contains(out, `"content": "hello there"`) || !strings.Contains(out, `"guilds_keys"`) {
		t.Fatalf("json output = %q", out)
	}
}

func TestSnapshotInspectRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := runCLI(t, "snapshot", "inspect", writeFile(t, []byte("not a snapshot")))
	if err == nil || !strings.Contains(err.Error(), "decode snapshot") {
		t.Fatalf("error = %v, want decode failure", err)
	}
}

func TestSnapshotMigrateUpgradesLegacy(t *testing.T) {
	t.Parallel()

	in := writeFile(t, legacySnapshot(t))
	outPath := filepath.Join(t.TempDir(), "migrated.msgpack")

	out, err := runCLI(t, "snapshot", "migrate", in, outPath)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "migrated legacy snapshot to version 2: 1 scopes") {
		t.Fatalf("output = %q", out)
	}

	migrated, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read migrated: %v", err)
	}
	document, legacy, err := mimic.DecodeDocument(migrated)
	if err != nil {
		t.Fatalf("DecodeDocument failed: %v", err)
	}
	if legacy {
		t.Fatal("migrated snapshot still decodes as legacy")
	}
	want := []string{"append_emote", "message_splicer", "misgendering"}
	if diff := cmp.Diff(want, *document.GuildsValues[0].AllowedMutators); diff != "" {
		t.Fatalf("allowed mutators mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotPull(t *testing.T) {
	t.Setenv(envConfigFile, "")
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")

	store, err := archive.OpenBadger(archive.BadgerOptions{Dir: archiveDir})
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	blob := currentSnapshot(t)
	record, err := store.Put(context.Background(), blob)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	configPath := filepath.Join(dir, "mimic.yaml")
	writeConfigFile(t, configPath, "archive:\n  type: badger\n  badger:\n    dir: "+archiveDir+"\n")

	for _, args := range [][]string{
		{"--config", configPath, "snapshot", "pull"},
		{"--config", configPath, "snapshot", "pull", record.ID},
	} {
		outPath := filepath.Join(dir, "pulled.msgpack")
		if _, err := runCLI(t, append(args, "-o", outPath)...); err != nil {
			t.Fatalf("%v failed: %v", args, err)
		}
		pulled, err := os.ReadFile(outPath)
		if err != nil {
			t.Fatalf("read pulled: %v", err)
		}
		if !bytes.Equal(pulled, blob) {
			t.Fatalf("%v pulled %d bytes, want the archived %d", args, len(pulled), len(blob))
		}
	}

	if _, err := runCLI(t, "--config", configPath, "snapshot", "pull", "0190c3a0-0000-7000-8000-000000000000"); err == nil ||
		!strings.Contains(err.Error(), "snapshot not found") {
		t.Fatalf("error = %v, want snapshot not found", err)
	}
}

func TestSnapshotPullRequiresArchive(t *testing.T) {
	t.Setenv(envConfigFile, "")
	configPath := filepath.Join(t.TempDir(), "mimic.yaml")
	writeConfigFile(t, configPath, "log_level: info\n")

	if _, err := runCLI(t, "--config", configPath, "snapshot", "pull"); err == nil || !strings.Contains(err.Error(), "archive.type is none") {
		t.Fatalf("error = %v, want archive disabled", err)
	}
}
