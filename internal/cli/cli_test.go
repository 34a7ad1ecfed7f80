package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"tokpool/internal/config"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TOKPOOL_TEST_STR", "val")
	t.Setenv("TOKPOOL_TEST_BOOL", "yes")
	t.Setenv("TOKPOOL_TEST_INT", "42")
	t.Setenv("TOKPOOL_TEST_BAD", "bad")
	if got := envStr("TOKPOOL_TEST_STR", "def"); got != "val" {
		t.Fatalf("envStr set: got %q", got)
	}
	if got := envStr("TOKPOOL_TEST_UNSET", "def"); got != "def" {
		t.Fatalf("envStr default: got %q", got)
	}
	if !envBool("TOKPOOL_TEST_BOOL", false) || envBool("TOKPOOL_TEST_STR", true) {
		t.Fatalf("envBool mismatch")
	}
	if envInt("TOKPOOL_TEST_INT", 0) != 42 || envInt("TOKPOOL_TEST_BAD", 5) != 5 {
		t.Fatalf("envInt mismatch")
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		if got := splitCSV(c.in); fmt.Sprint(got) != fmt.Sprint(c.want) || len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("warn", "json", &buf)
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"message":"shown"`) {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if got := newLogger("nonsense", "json", io.Discard).GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("fallback level = %s", got)
	}
}

func TestResolveAdapter(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sql.yaml"), []byte("encoding: byte_level\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ref, err := resolveAdapter("", dir)
	if err != nil || !ref.IsBase() {
		t.Fatalf("empty flag should be base: %v %v", ref, err)
	}
	ref, err = resolveAdapter("sql", dir)
	if err != nil || ref.ID() != "sql" || ref.Source() != filepath.Join(dir, "sql.yaml") {
		t.Fatalf("lookup: %+v %v", ref, err)
	}
	ref, err = resolveAdapter("x=/tmp/x.yaml", "")
	if err != nil || ref.ID() != "x" || ref.Source() != "/tmp/x.yaml" {
		t.Fatalf("explicit: %+v %v", ref, err)
	}
	ref, err = resolveAdapter("o200k_base", "")
	if err != nil || ref.Source() != "o200k_base" {
		t.Fatalf("bare id: %+v %v", ref, err)
	}
	if _, err := resolveAdapter("missing", dir); err == nil {
		t.Fatalf("expected not found error")
	}
	if _, err := resolveAdapter("=src", ""); err == nil {
		t.Fatalf("expected invalid flag error")
	}
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--log-level=error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestEncodeCmd_Base(t *testing.T) {
	for _, extra := range [][]string{nil, {"--inline"}} {
		args := append([]string{"encode", "--base-tokenizer", "byte_level", "--pool-size", "1"}, extra...)
		out, err := runCmd(t, append(args, "hi")...)
		if err != nil {
			t.Fatalf("encode %v: %v", extra, err)
		}
		var got encodeOutput
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("json: %v (%q)", err, out)
		}
		if fmt.Sprint(got.Tokens) != "[104 105]" || got.Count != 2 || got.Tokenizer != "byte_level" {
			t.Fatalf("unexpected output: %+v", got)
		}
	}
}

func TestEncodeCmd_AdapterFromDir(t *testing.T) {
	dir := t.TempDir()
	desc := "encoding: byte_level\nmax_input_length: 3\nadded_tokens:\n  \"<sql>\": 300\n"
	if err := os.WriteFile(filepath.Join(dir, "sql.yaml"), []byte(desc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := runCmd(t, "encode", "--base-tokenizer", "byte_level", "--adapters-dir", dir, "--adapter", "sql", "<sql>a")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got encodeOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if fmt.Sprint(got.Tokens) != "[300 97]" || got.Adapter != "sql" || got.MaxInput != 3 {
		t.Fatalf("unexpected output: %+v", got)
	}

	if _, err := runCmd(t, "encode", "--base-tokenizer", "byte_level", "--adapters-dir", dir, "--adapter", "sql", "abcd"); err == nil || !strings.Contains(err.Error(), "exceeds max input length") {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestEncodeCmd_Errors(t *testing.T) {
	if _, err := runCmd(t, "encode", "--base-tokenizer", "byte_level"); err == nil {
		t.Fatalf("expected missing prompt error")
	}
	if _, err := runCmd(t, "encode", "--base-tokenizer", "nope", "x"); err == nil {
		t.Fatalf("expected base tokenizer error")
	}
	if _, err := runCmd(t, "encode", "--base-tokenizer", "byte_level", "--pool-size", "0", "x"); err == nil {
		t.Fatalf("expected pool size error")
	}
}

func TestPoolFlags_ConfigFileAndOverrides(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var pf poolFlags
	pf.register(fs)
	if err := fs.Parse([]string{"--pool-size", "8"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.Config{PoolSize: 2, BaseTokenizer: "o200k_base", MaxInputLength: 512}
	pf.apply(fs, &cfg)
	if cfg.PoolSize != 8 {
		t.Fatalf("explicit flag should win: %d", cfg.PoolSize)
	}
	if cfg.BaseTokenizer != "o200k_base" || cfg.MaxInputLength != 512 {
		t.Fatalf("config values should survive unset flags: %+v", cfg)
	}
	if cfg.MaxLoadingConcurrency != defaultMaxLoadingConcurrency {
		t.Fatalf("missing values should take flag defaults: %+v", cfg)
	}
}

func TestPoolConfig(t *testing.T) {
	c := config.Config{PoolSize: 3, MaxLoadingConcurrency: 2, BaseTokenizer: "byte_level", DispatchTimeout: config.Duration(time.Second), RestartBurst: 7}
	pc := poolConfig(c, zerolog.Nop())
	if pc.PoolSize != 3 || pc.DispatchTimeout != time.Second || pc.RestartBurst != 7 || pc.Logger == nil {
		t.Fatalf("unexpected pool config: %+v", pc)
	}
	if pc.ProbeTimeout != 0 {
		t.Fatalf("unset durations are left for the pool to default")
	}
}

func TestServe_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sql.yaml"), []byte("encoding: byte_level\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := config.Config{
		Addr:                  "127.0.0.1:0",
		PoolSize:              1,
		MaxLoadingConcurrency: 1,
		BaseTokenizer:         "byte_level",
		AdaptersDir:           dir,
		WatchAdapters:         true,
	}
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, zerolog.Nop(), func(a string) { addrCh <- a }) }()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not start")
	}
	for _, path := range []string{"/healthz", "/readyz", "/status", "/adapters"} {
		resp, err := http.Get("http://" + addr + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status=%d body=%s", path, resp.StatusCode, body)
		}
		if path == "/adapters" && !strings.Contains(string(body), `"id":"sql"`) {
			t.Fatalf("adapters body=%s", body)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestServe_BadConfig(t *testing.T) {
	err := serve(context.Background(), config.Config{Addr: "127.0.0.1:0", PoolSize: 0, MaxLoadingConcurrency: 1, BaseTokenizer: "byte_level"}, zerolog.Nop(), nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	_, err = runCmd(t, "serve", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config load error, got %v", err)
	}
}
