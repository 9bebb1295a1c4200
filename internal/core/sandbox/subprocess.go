package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"codegen/internal/logger"
)

// SubprocessBackend runs synthesized TypeScript in a throwaway working
// directory via the local node toolchain, with a hard wall-clock kill.
type SubprocessBackend struct {
	nodeCommand string
	workRoot    string
	log         *logger.Logger
}

var _ Backend = (*SubprocessBackend)(nil)

func NewSubprocessBackend(nodeCommand, workRoot string) *SubprocessBackend {
	if nodeCommand == "" {
		nodeCommand = "npx"
	}
	return &SubprocessBackend{
		nodeCommand: nodeCommand,
		workRoot:    workRoot,
		log:         logger.New("Sandbox"),
	}
}

func (b *SubprocessBackend) Name() string { return "subprocess" }

// The synthesized script must define and call this single entry point. No
// dynamic function-name discovery: a script without it is rejected before a
// process is ever started.
const entryPointMarker = "async function runExtraction"

// ValidateEntryPoint enforces the single-entry-point contract.
func ValidateEntryPoint(code string) error {
	if !strings.Contains(code, entryPointMarker) {
		return fmt.Errorf("script does not define the required entry point %q", "runExtraction()")
	}
	return nil
}

// baseDependencies maps a tool choice to the npm packages the script needs
// even when the synthesizer forgot to declare them.
func baseDependencies(tool string) map[string]string {
	deps := map[string]string{
		"playwright": "^1.40.0",
		"typescript": "^5.3.0",
		"ts-node":    "^10.9.0",
	}
	switch tool {
	case "stagehand", "hybrid":
		deps["@browserbasehq/stagehand"] = "^1.0.0"
		deps["zod"] = "^3.22.0"
	case "playwright-stealth":
		deps["playwright-extra"] = "^4.3.0"
		deps["puppeteer-extra-plugin-stealth"] = "^2.11.0"
	}
	return deps
}

func (b *SubprocessBackend) writeProject(dir string, req Request) error {
	deps := baseDependencies(req.Tool)
	for _, d := range req.Dependencies {
		name, version := d, "latest"
		if at := strings.LastIndex(d, "@"); at > 0 {
			name, version = d[:at], d[at+1:]
		}
		if _, ok := deps[name]; !ok {
			deps[name] = version
		}
	}

	pkg := map[string]interface{}{
		"name":         "extraction-run",
		"version":      "1.0.0",
		"private":      true,
		"dependencies": deps,
	}
	pkgJSON, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "package.json"), pkgJSON, 0o644); err != nil {
		return fmt.Errorf("write package.json: %w", err)
	}

	tsconfig := `{
  "compilerOptions": {
    "target": "ES2020",
    "module": "commonjs",
    "esModuleInterop": true,
    "skipLibCheck": true,
    "strict": false
  }
}`
	if err := os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte(tsconfig), 0o644); err != nil {
		return fmt.Errorf("write tsconfig.json: %w", err)
	}

	// Sandboxed runs are always headless regardless of what the script asked
	// for.
	code := strings.ReplaceAll(req.Code, "headless: false", "headless: true")
	if err := os.WriteFile(filepath.Join(dir, "scraper.ts"), []byte(code), 0o644); err != nil {
		return fmt.Errorf("write scraper.ts: %w", err)
	}
	return nil
}

// Execute writes the script into a temp project, installs its dependencies,
// runs it under a wall-clock timeout, and resolves whatever the output
// stream contained. A kill by timeout is not an error at this layer; the
// protocol parser decides what the run was worth.
func (b *SubprocessBackend) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := ValidateEntryPoint(req.Code); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(b.workRoot, "sandbox-")
	if err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := b.writeProject(dir, req); err != nil {
		return nil, err
	}

	install := exec.CommandContext(ctx, "npm", "install", "--no-audit", "--no-fund", "--silent")
	install.Dir = dir
	if out, err := install.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("npm install failed: %w: %s", err, truncate(string(out), 500))
	}

	timeout := time.Duration(req.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.nodeCommand, "ts-node", "scraper.ts")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("MAX_ITEMS=%d", req.MaxItems),
		fmt.Sprintf("TEST_MODE=%t", req.TestMode),
	)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Seconds()
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	if timedOut {
		b.log.LogWarnf("job %s killed after %ds, resolving partial output", req.JobID, req.TimeoutSec)
	}

	res := ParseStream(buf.String(), timedOut)
	res.ToolUsed = req.Tool
	if res.ExecutionTime == 0 {
		res.ExecutionTime = elapsed
	}
	if runErr != nil && !timedOut && res.ItemCount() == 0 {
		res.Success = false
		res.Errors = append(res.Errors, fmt.Sprintf("process exited with error: %v", runErr))
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
