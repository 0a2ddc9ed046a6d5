package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/net/webdav"

	"castdeploy/internal/catalog"
	"castdeploy/internal/config"
	"castdeploy/internal/testsupport"
)

const testManifest = `
title = "Field Notes"
link = "https://example.com/field-notes"

[[episodes]]
id = "ep1"
title = "First"
status = "published"
publish_at = 2026-01-05T09:00:00Z
audio = "audio/ep1.mp3"

[[episodes]]
id = "ep2"
title = "Upcoming"
status = "draft"
`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	dav        *httptest.Server
	davFS      webdav.FileSystem
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv(config.VaultKeyEnv, "")

	cfg := testsupport.NewConfig(t)
	configPath := testsupport.WriteConfigFile(t, cfg)

	podcastDir := filepath.Join(cfg.Paths.CatalogDir, "field-notes")
	testsupport.WriteFile(t, filepath.Join(podcastDir, catalog.ManifestName), []byte(testManifest))
	testsupport.WriteFile(t, filepath.Join(podcastDir, "audio", "ep1.mp3"), []byte("ID3 audio bytes"))

	fs := webdav.NewMemFS()
	handler := &webdav.Handler{FileSystem: fs, LockSystem: webdav.NewMemLS()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "deployer" || p != "s3cret-pass" {
			w.Header().Set("WWW-Authenticate", `Basic realm="dav"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	return &cliTestEnv{cfg: cfg, configPath: configPath, dav: srv, davFS: fs}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeDestinationConfig writes a WebDAV settings file pointing at url.
func writeDestinationConfig(t *testing.T, env *cliTestEnv, name, url string) string {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(env.cfg), name+".toml")
	content := "url = \"" + url + "\"\nusername = \"deployer\"\npassword = \"s3cret-pass\"\nbase_path = \"/shows/field-notes\"\n"
	testsupport.WriteFile(t, path, []byte(content))
	return path
}

func decodeJSON(t *testing.T, out string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("decode json: %v\n%s", err, out)
	}
}

func readDAVFile(t *testing.T, fs webdav.FileSystem, name string) string {
	t.Helper()
	f, err := fs.OpenFile(context.Background(), name, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
