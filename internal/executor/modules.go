package executor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"
)

// moduleBuilder constructs one sandbox module bound to the run context.
type moduleBuilder func(ctx context.Context, vm *goja.Runtime) goja.Value

// moduleBuilders is the full set of modules the engine can expose. The
// per-run allow-list decides which of these require() actually resolves.
var moduleBuilders = map[string]moduleBuilder{
	"http":          buildHTTPModule,
	"fs":            buildFSModule,
	"path":          buildPathModule,
	"os":            buildOSModule,
	"crypto":        buildCryptoModule,
	"encoding":      buildEncodingModule,
	"timers":        buildTimersModule,
	"child_process": buildChildProcessModule,
}

// maxResponseBytes caps HTTP response bodies read into the sandbox.
const maxResponseBytes = 10 << 20

func buildHTTPModule(ctx context.Context, vm *goja.Runtime) goja.Value {
	client := &http.Client{}

	doRequest := func(method, url string, body []byte, headers map[string]string) (map[string]any, error) {
		var reader io.Reader
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if len(body) > 0 && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}

		respHeaders := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			respHeaders[k] = resp.Header.Get(k)
		}
		return map[string]any{
			"status":  resp.StatusCode,
			"headers": respHeaders,
			"body":    string(data),
		}, nil
	}

	encodeBody := func(v goja.Value) []byte {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil
		}
		if s, ok := v.Export().(string); ok {
			return []byte(s)
		}
		data, err := jsonStringify(vm, v)
		if err != nil {
			return []byte(v.String())
		}
		return data
	}

	obj := vm.NewObject()
	obj.Set("get", func(url string) (map[string]any, error) {
		return doRequest(http.MethodGet, url, nil, nil)
	})
	obj.Set("post", func(url string, body goja.Value) (map[string]any, error) {
		return doRequest(http.MethodPost, url, encodeBody(body), nil)
	})
	obj.Set("request", func(opts map[string]any) (map[string]any, error) {
		method, _ := opts["method"].(string)
		if method == "" {
			method = http.MethodGet
		}
		url, _ := opts["url"].(string)
		if url == "" {
			return nil, errors.New("request requires a url")
		}
		headers := map[string]string{}
		if raw, ok := opts["headers"].(map[string]any); ok {
			for k, v := range raw {
				headers[k] = fmt.Sprint(v)
			}
		}
		var body []byte
		if raw, ok := opts["body"]; ok && raw != nil {
			body = encodeBody(vm.ToValue(raw))
		}
		return doRequest(strings.ToUpper(method), url, body, headers)
	})
	return obj
}

// jsonStringify serializes a goja value through the runtime's own
// JSON.stringify so objects and arrays encode the way template code expects.
func jsonStringify(vm *goja.Runtime, v goja.Value) ([]byte, error) {
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, errors.New("JSON.stringify unavailable")
	}
	out, err := stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	return []byte(out.String()), nil
}

func buildFSModule(_ context.Context, vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	obj.Set("readFile", func(path string) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	obj.Set("writeFile", func(path, content string) error {
		return os.WriteFile(path, []byte(content), 0o644)
	})
	obj.Set("appendFile", func(path, content string) error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.WriteString(content)
		return err
	})
	obj.Set("exists", func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	})
	obj.Set("readDir", func(path string) ([]string, error) {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return names, nil
	})
	obj.Set("mkdir", func(path string) error {
		return os.MkdirAll(path, 0o755)
	})
	obj.Set("remove", func(path string) error {
		return os.Remove(path)
	})
	return obj
}

func buildPathModule(_ context.Context, vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	obj.Set("join", func(parts ...string) string { return filepath.Join(parts...) })
	obj.Set("dir", func(p string) string { return filepath.Dir(p) })
	obj.Set("base", func(p string) string { return filepath.Base(p) })
	obj.Set("ext", func(p string) string { return filepath.Ext(p) })
	obj.Set("abs", func(p string) (string, error) { return filepath.Abs(p) })
	return obj
}

func buildOSModule(_ context.Context, vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	obj.Set("platform", func() string { return runtime.GOOS })
	obj.Set("arch", func() string { return runtime.GOARCH })
	obj.Set("hostname", func() (string, error) { return os.Hostname() })
	obj.Set("tmpdir", func() string { return os.TempDir() })
	obj.Set("homedir", func() (string, error) { return os.UserHomeDir() })
	obj.Set("env", func(name string) string { return os.Getenv(name) })
	return obj
}

func buildCryptoModule(_ context.Context, vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	obj.Set("sha256", func(data string) string {
		sum := sha256.Sum256([]byte(data))
		return hex.EncodeToString(sum[:])
	})
	obj.Set("hmacSha256", func(key, data string) string {
		mac := hmac.New(sha256.New, []byte(key))
		mac.Write([]byte(data))
		return hex.EncodeToString(mac.Sum(nil))
	})
	obj.Set("randomBytes", func(n int) (string, error) {
		if n <= 0 || n > 1024 {
			return "", fmt.Errorf("randomBytes: size must be 1..1024, got %d", n)
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		return hex.EncodeToString(buf), nil
	})
	obj.Set("uuid", func() string { return uuid.NewString() })
	return obj
}

func buildEncodingModule(_ context.Context, vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	obj.Set("base64Encode", func(data string) string {
		return base64.StdEncoding.EncodeToString([]byte(data))
	})
	obj.Set("base64Decode", func(data string) (string, error) {
		out, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return "", err
		}
		return string(out), nil
	})
	obj.Set("hexEncode", func(data string) string {
		return hex.EncodeToString([]byte(data))
	})
	obj.Set("hexDecode", func(data string) (string, error) {
		out, err := hex.DecodeString(data)
		if err != nil {
			return "", err
		}
		return string(out), nil
	})
	return obj
}

func buildTimersModule(ctx context.Context, vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	obj.Set("sleep", sleepFunc(ctx))
	return obj
}

// maxCommandOutput caps captured stdout/stderr from spawned commands.
const maxCommandOutput = 1 << 20

func buildChildProcessModule(ctx context.Context, vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	obj.Set("exec", func(command string) (map[string]any, error) {
		args, err := shellwords.Parse(command)
		if err != nil {
			return nil, fmt.Errorf("parse command: %w", err)
		}
		if len(args) == 0 {
			return nil, errors.New("empty command")
		}

		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &limitedWriter{w: &stdout, n: maxCommandOutput}
		cmd.Stderr = &limitedWriter{w: &stderr, n: maxCommandOutput}

		start := time.Now()
		runErr := cmd.Run()
		code := 0
		if runErr != nil {
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				return nil, runErr
			}
		}
		return map[string]any{
			"stdout":     stdout.String(),
			"stderr":     stderr.String(),
			"code":       code,
			"durationMs": time.Since(start).Milliseconds(),
		}, nil
	})
	return obj
}

// limitedWriter drops bytes past n instead of erroring, so long-running
// commands are not killed by a full pipe.
type limitedWriter struct {
	w io.Writer
	n int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.n <= 0 {
		return len(p), nil
	}
	chunk := p
	if len(chunk) > lw.n {
		chunk = chunk[:lw.n]
	}
	written, err := lw.w.Write(chunk)
	lw.n -= written
	if err != nil {
		return written, err
	}
	return len(p), nil
}
