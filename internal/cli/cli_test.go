package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/ultiserve/internal/config"
	"github.com/clean-dependency-project/ultiserve/internal/logger"
	"github.com/clean-dependency-project/ultiserve/internal/storage"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runBuildConfig runs the app with the serve action replaced by buildConfig.
func runBuildConfig(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var cfg *config.Config
	app := NewApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	app.Action = func(c *cli.Context) error {
		var err error
		cfg, err = buildConfig(c)
		return err
	}
	err := app.Run(append([]string{"ultiserve"}, args...))
	return cfg, err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func TestNewApp(t *testing.T) {
	app := NewApp()

	if app.Name != "ultiserve" {
		t.Errorf("Name = %q, want ultiserve", app.Name)
	}
	if app.Version != Version {
		t.Errorf("Version = %q, want %q", app.Version, Version)
	}

	flags := make(map[string]bool)
	for _, f := range app.Flags {
		for _, name := range f.Names() {
			flags[name] = true
		}
	}
	for _, name := range []string{"addr", "a", "config", "c", "log-level", "log-format", "raw-param", "theme", "serve-html", "access-db"} {
		if !flags[name] {
			t.Errorf("flag %q not registered", name)
		}
	}

	if cmd := app.Command("access"); cmd == nil {
		t.Error("access command not registered")
	}
}

func TestBuildConfig(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "ultiserve.yaml")
	writeFile(t, yamlPath, `server:
  addr: "127.0.0.1:9000"
  root: "/srv/files"
highlight:
  theme: "monokai"
logging:
  level: "debug"
`)
	tomlPath := filepath.Join(dir, "ultiserve.toml")
	writeFile(t, tomlPath, `[server]
raw_param = "download"
serve_html = true
`)
	badLevelPath := filepath.Join(dir, "bad-level.yaml")
	writeFile(t, badLevelPath, "logging:\n  level: verbose\n")
	iniPath := filepath.Join(dir, "ultiserve.ini")
	writeFile(t, iniPath, "addr=127.0.0.1:9000\n")

	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		wantErr error
		check   func(*testing.T, *config.Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.Addr != config.DefaultAddr {
					t.Errorf("Addr = %q, want %q", cfg.Server.Addr, config.DefaultAddr)
				}
				if cfg.Server.Root != config.DefaultRoot {
					t.Errorf("Root = %q, want %q", cfg.Server.Root, config.DefaultRoot)
				}
				if cfg.Server.RawParam != config.DefaultRawParam {
					t.Errorf("RawParam = %q, want %q", cfg.Server.RawParam, config.DefaultRawParam)
				}
				if cfg.AccessLog.DatabasePath != "" {
					t.Errorf("DatabasePath = %q, want empty", cfg.AccessLog.DatabasePath)
				}
			},
		},
		{
			name: "flags and positional root",
			args: []string{"--addr", "0.0.0.0:3000", "--raw-param", "plain", "--serve-html", "--theme", "github", "/tmp/site"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.Addr != "0.0.0.0:3000" {
					t.Errorf("Addr = %q", cfg.Server.Addr)
				}
				if cfg.Server.Root != "/tmp/site" {
					t.Errorf("Root = %q", cfg.Server.Root)
				}
				if cfg.Server.RawParam != "plain" {
					t.Errorf("RawParam = %q", cfg.Server.RawParam)
				}
				if !cfg.Server.ServeHTML {
					t.Error("ServeHTML = false, want true")
				}
				if cfg.Highlight.Theme != "github" {
					t.Errorf("Theme = %q", cfg.Highlight.Theme)
				}
			},
		},
		{
			name: "yaml file",
			args: []string{"--config", yamlPath},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.Addr != "127.0.0.1:9000" {
					t.Errorf("Addr = %q", cfg.Server.Addr)
				}
				if cfg.Server.Root != "/srv/files" {
					t.Errorf("Root = %q", cfg.Server.Root)
				}
				if cfg.Highlight.Theme != "monokai" {
					t.Errorf("Theme = %q", cfg.Highlight.Theme)
				}
				if cfg.Logging.Level != "debug" {
					t.Errorf("Level = %q", cfg.Logging.Level)
				}
			},
		},
		{
			name: "flags override file",
			args: []string{"-c", yamlPath, "-a", "127.0.0.1:7000", "--log-level", "warn", "here"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.Addr != "127.0.0.1:7000" {
					t.Errorf("Addr = %q", cfg.Server.Addr)
				}
				if cfg.Server.Root != "here" {
					t.Errorf("Root = %q", cfg.Server.Root)
				}
				if cfg.Logging.Level != "warn" {
					t.Errorf("Level = %q", cfg.Logging.Level)
				}
				if cfg.Highlight.Theme != "monokai" {
					t.Errorf("Theme = %q, want value from file", cfg.Highlight.Theme)
				}
			},
		},
		{
			name: "toml file",
			args: []string{"--config", tomlPath},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.RawParam != "download" {
					t.Errorf("RawParam = %q", cfg.Server.RawParam)
				}
				if !cfg.Server.ServeHTML {
					t.Error("ServeHTML = false, want true")
				}
				if cfg.Server.Addr != config.DefaultAddr {
					t.Errorf("Addr = %q, want default", cfg.Server.Addr)
				}
			},
		},
		{
			name: "environment",
			env: map[string]string{
				"ULTISERVE_ADDR":      "127.0.0.1:8181",
				"ULTISERVE_ACCESS_DB": "/tmp/access.db",
			},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.Addr != "127.0.0.1:8181" {
					t.Errorf("Addr = %q", cfg.Server.Addr)
				}
				if cfg.AccessLog.DatabasePath != "/tmp/access.db" {
					t.Errorf("DatabasePath = %q", cfg.AccessLog.DatabasePath)
				}
			},
		},
		{
			name: "flag fixes invalid file value",
			args: []string{"--config", badLevelPath, "--log-level", "debug"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("Level = %q, want debug", cfg.Logging.Level)
				}
			},
		},
		{
			name:    "invalid file value without override",
			args:    []string{"--config", badLevelPath},
			wantErr: config.ErrInvalidLogLevel,
		},
		{
			name:    "invalid address",
			args:    []string{"--addr", "localhost"},
			wantErr: config.ErrAddrInvalid,
		},
		{
			name:    "invalid log level",
			args:    []string{"--log-level", "verbose"},
			wantErr: config.ErrInvalidLogLevel,
		},
		{
			name:    "empty raw param",
			args:    []string{"--raw-param", ""},
			wantErr: config.ErrRawParamRequired,
		},
		{
			name:    "unsupported config file",
			args:    []string{"--config", iniPath},
			wantErr: config.ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := runBuildConfig(t, tt.args...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("buildConfig() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildConfig() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestBuildConfig_TooManyArguments(t *testing.T) {
	_, err := runBuildConfig(t, "one", "two")
	if err == nil || !strings.Contains(err.Error(), "at most one directory") {
		t.Fatalf("buildConfig() error = %v, want argument count error", err)
	}
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, handler, logger.Discard()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		cancel()
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error = %v, want nil after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not return after cancellation")
	}
}

var bannerPattern = regexp.MustCompile(`http://127\.0\.0\.1:\d+`)

func TestServeCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hello.txt"), "hello there\n")

	store := &mockStore{}
	opened := useMockStore(t, store)

	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	app := NewApp()
	app.Writer = stdout
	app.ErrWriter = stderr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- app.RunContext(ctx, []string{"ultiserve", "--addr", "127.0.0.1:0", "--access-db", "access.db", root})
	}()

	var base string
	deadline := time.Now().Add(5 * time.Second)
	for base == "" {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("banner not printed; stdout = %q, stderr = %q", stdout.String(), stderr.String())
		}
		select {
		case err := <-done:
			t.Fatalf("app exited early: %v", err)
		default:
		}
		base = bannerPattern.FindString(stdout.String())
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get(base + "/hello.txt?raw=true")
	if err != nil {
		cancel()
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if string(body) != "hello there\n" {
		t.Errorf("body = %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancellation")
	}

	if len(*opened) != 1 || (*opened)[0] != "access.db" {
		t.Errorf("opened stores = %v, want [access.db]", *opened)
	}
	if !store.closed {
		t.Error("access store was not closed")
	}
	if len(store.accesses) != 1 || store.accesses[0].Path != "/hello.txt" {
		t.Errorf("recorded accesses = %+v, want one for /hello.txt", store.accesses)
	}
	if !strings.Contains(stderr.String(), "server started") {
		t.Errorf("stderr missing start log: %q", stderr.String())
	}
}

func TestServeCommand_MissingRoot(t *testing.T) {
	app := NewApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard

	err := app.Run([]string{"ultiserve", filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Fatal("Run() error = nil, want error for missing root")
	}
}

func TestAccessCommand(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &mockStore{accesses: []*storage.Access{
		{Method: "GET", Path: "/notes.md", Query: "raw=true", Status: 200, Bytes: 42, DurationMs: 3, CreatedAt: created},
		{Method: "GET", Path: "/missing", Status: 404, Bytes: 10, DurationMs: 1, CreatedAt: created},
	}}
	useMockStore(t, store)

	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = io.Discard

	if err := app.Run([]string{"ultiserve", "access", "--db", "access.db", "--limit", "5"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"METHOD", "/notes.md?raw=true", "/missing", "2026-03-01T12:00:00Z", "200: 1", "404: 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if !store.closed {
		t.Error("access store was not closed")
	}
}

func TestLogAccessSummary_SortedStatuses(t *testing.T) {
	store := &mockStore{accesses: []*storage.Access{
		{Status: 500}, {Status: 404}, {Status: 200}, {Status: 404}, {Status: 304}, {Status: 200},
	}}

	for i := 0; i < 5; i++ {
		var buf bytes.Buffer
		log := slog.New(slog.NewTextHandler(&buf, nil))
		logAccessSummary(context.Background(), store, log)

		got := buf.String()
		want := "200=2 304=1 404=2 500=1"
		if !strings.Contains(got, want) {
			t.Fatalf("summary = %q, want statuses in order %q", got, want)
		}
	}
}

func TestAccessCommand_ListError(t *testing.T) {
	store := &mockStore{listErr: storage.ErrInvalidLimit}
	useMockStore(t, store)

	app := NewApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard

	err := app.Run([]string{"ultiserve", "access", "--db", "access.db", "--limit", "0"})
	if !errors.Is(err, storage.ErrInvalidLimit) {
		t.Fatalf("Run() error = %v, want ErrInvalidLimit", err)
	}
}
