// Package hermetic drives a sandboxed, reproducible build from source: it
// mounts a source tree and its dependencies into a sysroot, computes a
// fully scrubbed environment, hands the script off to the standalone
// apl-builder process to actually run, and places the resulting $PREFIX
// at a caller-chosen output directory.
package hermetic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"syscall"

	units "github.com/docker/go-units"

	"github.com/jpmacdonald/apl/internal/log"
	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/sysroot"
)

// builderSpec is the build request written to apl-builder's stdin: the
// scrubbed environment and working directory are fully resolved by Run
// before the handoff, so apl-builder itself never computes them.
type builderSpec struct {
	Dir    string   `json:"dir"`
	Env    []string `json:"env"`
	Script string   `json:"script"`
}

// builderPath locates the apl-builder binary: next to this process's own
// executable first (the installed layout), falling back to $PATH for
// development builds run via `go run`.
func builderPath() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "apl-builder")
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return exec.LookPath("apl-builder")
}

const (
	deploymentTarget = "13.0"
	sourceDateEpoch  = "0"
	logTailLines     = 20
)

// Dependency is one build dependency already present in the store,
// mounted into the sysroot before the build script runs.
type Dependency struct {
	Name string // apl package name; used to derive the DEP_<NAME> env var
	Path string // absolute store path, e.g. {store}/{name}/{version}
}

// Options configures a single hermetic build invocation.
type Options struct {
	PackageName string
	Version     string
	SourceDir   string // absolute path to the unpacked source tree
	Script      string // shell script run via /bin/sh -c
	Deps        []Dependency
	OutputDir   string // final destination for the build's $PREFIX contents
	Quiet       bool
	LogPath     string // where stdout+stderr go in quiet mode; defaults to a temp path
	MemoryLimit string // optional human size like "4GiB", logged only; no OS-level enforcement exists in this build driver
}

// Result reports the outcome of a successful build.
type Result struct {
	OutputDir string
}

// Run mounts Options.SourceDir and each dependency into a fresh sysroot,
// executes Options.Script in a scrubbed environment, and places the
// resulting $PREFIX at Options.OutputDir. The sysroot is always removed
// before Run returns, success or failure.
func Run(opts Options) (Result, error) {
	logger := log.Default().With("component", "hermetic", "package", opts.PackageName, "version", opts.Version)

	if opts.MemoryLimit != "" {
		if limit, err := units.RAMInBytes(opts.MemoryLimit); err != nil {
			logger.Warn("ignoring unparsable memory limit", "value", opts.MemoryLimit, "error", err)
		} else {
			logger.Debug("build memory budget", "bytes", limit)
		}
	}

	root, err := sysroot.New()
	if err != nil {
		return Result{}, err
	}
	defer root.Close()

	if err := root.Mount(opts.SourceDir, "src"); err != nil {
		return Result{}, pkgerr.Wrap(pkgerr.KindBuild, opts.PackageName, "mounting source tree", err)
	}

	depPaths := make(map[string]string, len(opts.Deps))
	for _, dep := range opts.Deps {
		rel := filepath.Join("deps", dep.Name)
		if err := root.Mount(dep.Path, rel); err != nil {
			return Result{}, pkgerr.Wrap(pkgerr.KindBuild, opts.PackageName, fmt.Sprintf("mounting dependency %s", dep.Name), err)
		}
		depPaths[dep.Name] = root.Path(rel)
	}

	prefix, err := root.MkdirAll("usr/local")
	if err != nil {
		return Result{}, err
	}

	env := buildEnv(root, depPaths, prefix)

	builder, err := builderPath()
	if err != nil {
		return Result{}, pkgerr.Wrap(pkgerr.KindBuild, opts.PackageName, "locating apl-builder", err)
	}

	specJSON, err := json.Marshal(builderSpec{Dir: root.Path("src"), Env: env, Script: opts.Script})
	if err != nil {
		return Result{}, pkgerr.Wrap(pkgerr.KindBuild, opts.PackageName, "encoding build spec", err)
	}

	cmd := exec.Command(builder)
	cmd.Stdin = bytes.NewReader(specJSON)

	var logPath string
	if opts.Quiet {
		logPath = opts.LogPath
		if logPath == "" {
			logPath = filepath.Join(os.TempDir(), fmt.Sprintf("apl-build-%s-%s.log", opts.PackageName, opts.Version))
		}
		f, err := os.Create(logPath)
		if err != nil {
			return Result{}, pkgerr.Wrap(pkgerr.KindIO, logPath, "creating build log file", err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	runErr := cmd.Run()
	if runErr != nil {
		if opts.Quiet {
			if tail, tailErr := tailLines(logPath, logTailLines); tailErr == nil {
				logger.Error("build failed", "log_tail", strings.Join(tail, "\n"))
			}
		}
		return Result{}, pkgerr.Wrap(pkgerr.KindBuild, opts.PackageName, "build script exited with an error", runErr)
	}

	if err := placeOutput(prefix, opts.OutputDir); err != nil {
		return Result{}, pkgerr.Wrap(pkgerr.KindBuild, opts.PackageName, "placing build output", err)
	}

	return Result{OutputDir: opts.OutputDir}, nil
}

// buildEnv constructs the fully scrubbed build environment: exactly the
// variables the build driver contract names, nothing inherited from the
// calling process.
func buildEnv(root *sysroot.Sysroot, depPaths map[string]string, prefix string) []string {
	var env []string
	add := func(k, v string) { env = append(env, k+"="+v) }

	add("PATH", buildPATH())
	add("HOME", root.Root())
	add("TERM", "dumb")
	add("LANG", "en_US.UTF-8")
	add("CC", "clang")
	add("CXX", "clang++")
	add("ARCH", hostArch())
	add("PREFIX", prefix)
	add("OUTPUT", prefix)
	add("DESTDIR", "")
	add("JOBS", strconv.Itoa(runtime.NumCPU()))
	add("DEPS_DIR", root.Path("deps"))

	depNames := make([]string, 0, len(depPaths))
	for name := range depPaths {
		depNames = append(depNames, name)
	}
	sort.Strings(depNames)

	var includes, libs, pkgconfigs []string
	for _, name := range depNames {
		path := depPaths[name]
		add(depEnvVarName(name), path)

		if inc := filepath.Join(path, "include"); dirExists(inc) {
			includes = append(includes, inc)
		}
		if lib := filepath.Join(path, "lib"); dirExists(lib) {
			libs = append(libs, lib)
			if pc := filepath.Join(lib, "pkgconfig"); dirExists(pc) {
				pkgconfigs = append(pkgconfigs, pc)
			}
		}
	}

	cflags := joinFlags("-I", includes)
	add("CFLAGS", cflags)
	add("CPPFLAGS", cflags)
	add("LDFLAGS", joinFlags("-L", libs))
	add("CPATH", strings.Join(includes, ":"))
	add("C_INCLUDE_PATH", strings.Join(includes, ":"))
	add("CPLUS_INCLUDE_PATH", strings.Join(includes, ":"))
	add("LIBRARY_PATH", strings.Join(libs, ":"))
	add("DYLD_LIBRARY_PATH", strings.Join(libs, ":"))
	add("PKG_CONFIG_PATH", strings.Join(pkgconfigs, ":"))
	add("MACOSX_DEPLOYMENT_TARGET", deploymentTarget)
	add("SOURCE_DATE_EPOCH", sourceDateEpoch)

	return env
}

func hostArch() string {
	switch runtime.GOARCH {
	case "arm64":
		return "arm64"
	case "amd64":
		return "x86_64"
	default:
		return runtime.GOARCH
	}
}

// depEnvVarName derives DEP_<NAME> from a package name, uppercasing it
// and mapping hyphens and dots to underscores (env vars can't carry
// either).
func depEnvVarName(name string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return "DEP_" + strings.ToUpper(r.Replace(name))
}

func joinFlags(flag string, paths []string) string {
	parts := make([]string, len(paths))
	for i, p := range paths {
		parts[i] = flag + p
	}
	return strings.Join(parts, " ")
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// buildPATH constructs the minimal build PATH: the base system
// directories plus an Xcode Command Line Tools bin directory, if one is
// present on this host. Nothing else is added.
func buildPATH() string {
	path := "/usr/bin:/bin:/usr/sbin:/sbin"
	for _, candidate := range []string{
		"/Library/Developer/CommandLineTools/usr/bin",
		"/Applications/Xcode.app/Contents/Developer/usr/bin",
	} {
		if dirExists(candidate) {
			path += ":" + candidate
		}
	}
	return path
}

// placeOutput atomically renames prefix to outputDir, falling back to a
// recursive copy (then removing prefix) when the rename crosses a
// filesystem boundary.
func placeOutput(prefix, outputDir string) error {
	if err := os.MkdirAll(filepath.Dir(outputDir), 0o755); err != nil {
		return err
	}
	if err := os.Rename(prefix, outputDir); err == nil {
		return nil
	} else if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := sysroot.CopyTree(prefix, outputDir); err != nil {
		return err
	}
	return os.RemoveAll(prefix)
}

// tailLines reads the last n lines of the file at path without loading
// the whole file, growing a fixed-size window backward from the end
// until enough newlines have been seen.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	const chunkSize = 4096
	size := info.Size()
	offset := size
	var buf []byte

	for offset > 0 {
		readSize := int64(chunkSize)
		if offset < readSize {
			readSize = offset
		}
		offset -= readSize

		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		buf = append(chunk, buf...)

		if bytes.Count(buf, []byte("\n")) > n {
			break
		}
	}

	lines := bytes.Split(bytes.TrimRight(buf, "\n"), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out, nil
}
