package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikimoves/internal/mediawiki/mediawikitest"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	// nil args would make cobra fall back to os.Args
	cmd.SetArgs(append([]string{}, args...))
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func wikiEnv(t *testing.T, primary, mirror *mediawikitest.Server) {
	t.Helper()
	empty := filepath.Join(t.TempDir(), "empty.env")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	t.Setenv("ENV_FILE", empty)
	t.Setenv("WIKI_API_URL", primary.APIURL())
	t.Setenv("WIKI_USERNAME", "WikiBot")
	t.Setenv("WIKI_PASSWARD", "wpass")
	t.Setenv("HAMICHLOL_API_URL", mirror.APIURL())
	t.Setenv("HAMICHLOL_USERNAME", "MirrorBot")
	t.Setenv("HAMICHLOL_PASSWARD", "mpass")
	t.Setenv("RUN_BATCH_INTERVAL", "1ms")
	t.Setenv("LOG_LEVEL", "error")
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "wikimoves version dev\n", execute(t, "version"))
}

func TestRun_DryRunPrintsSections(t *testing.T) {
	primary, mirror := mediawikitest.NewServer(), mediawikitest.NewServer()
	defer primary.Close()
	defer mirror.Close()
	primary.Users["WikiBot"] = "wpass"
	mirror.Users["MirrorBot"] = "mpass"
	primary.AddMove(0, "A", "B", time.Now().UTC().Add(-time.Hour).Format(time.RFC3339))
	wikiEnv(t, primary, mirror)

	out := execute(t, "--dry-run")

	assert.Contains(t, out, `== דו"ח העברות ויקי שבועי - ערכים ==`)
	assert.Contains(t, out, `== דו"ח העברות ויקי שבועי - קטגוריות ==`)
	assert.Contains(t, out, `== דו"ח העברות ויקי שבועי - תבניות ==`)
	assert.Contains(t, out, "[[:A]]")
	assert.Empty(t, mirror.Edits())
}

func TestRun_PostsToMirror(t *testing.T) {
	primary, mirror := mediawikitest.NewServer(), mediawikitest.NewServer()
	defer primary.Close()
	defer mirror.Close()
	primary.Users["WikiBot"] = "wpass"
	mirror.Users["MirrorBot"] = "mpass"
	wikiEnv(t, primary, mirror)
	t.Setenv("RUN_NAMESPACES", "10")

	execute(t)

	edits := mirror.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, `דו"ח העברות ויקי שבועי - תבניות`, edits[0].Get("sectiontitle"))
	assert.Equal(t, "1", edits[0].Get("nocreate"))
}

func TestRun_LoginFailureExitsCleanly(t *testing.T) {
	primary, mirror := mediawikitest.NewServer(), mediawikitest.NewServer()
	defer primary.Close()
	defer mirror.Close()
	wikiEnv(t, primary, mirror)

	execute(t)

	assert.Empty(t, mirror.Edits())
}

func TestRun_BadConfigFails(t *testing.T) {
	primary, mirror := mediawikitest.NewServer(), mediawikitest.NewServer()
	defer primary.Close()
	defer mirror.Close()
	wikiEnv(t, primary, mirror)
	t.Setenv("RUN_BATCH_SIZE", "0")

	cmd := newRootCommand()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}
