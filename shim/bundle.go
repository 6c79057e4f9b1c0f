package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/MarcinKonowalczyk/bfvm/bf"
	"github.com/MarcinKonowalczyk/bfvm/config"
)

const specFilename = "config.json"

// Script extensions accepted as the container entrypoint.
var scriptExtensions = []string{".bf", ".b", ".brainfuck"}

// The parts of the OCI runtime spec the shim looks at.
type ociSpec struct {
	Root struct {
		Path string `json:"path"`
	} `json:"root"`
	Process struct {
		Args []string `json:"args"`
		Env  []string `json:"env"`
	} `json:"process"`
}

// Bundle describes the program a task runs.
type Bundle struct {
	// Root is the rootfs of the container.
	Root string
	// Entrypoint is the script path relative to Root.
	Entrypoint string
	// Path is the PATH of the container process, split on ':'.
	Path []string
	// Engine holds the interpreter options taken from the BFVM_* variables.
	Engine bf.Config
}

// ReadBundle reads and validates the OCI spec of the bundle at dir.
func ReadBundle(dir string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, specFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s not found in bundle %s: %w", specFilename, dir, errdefs.ErrNotFound)
		}
		return nil, err
	}

	var spec ociSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", specFilename, err)
	}

	if spec.Root.Path == "" {
		return nil, fmt.Errorf("root path missing from %s: %w", specFilename, errdefs.ErrInvalidArgument)
	}
	root := spec.Root.Path
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}

	if len(spec.Process.Args) != 1 {
		return nil, fmt.Errorf("expected exactly one argument in the process args, got %d: %w", len(spec.Process.Args), errdefs.ErrInvalidArgument)
	}
	entrypoint := spec.Process.Args[0]
	if !slices.Contains(scriptExtensions, filepath.Ext(entrypoint)) {
		return nil, fmt.Errorf("entrypoint %s is not a brainfuck script: %w", entrypoint, errdefs.ErrInvalidArgument)
	}

	script := filepath.Join(root, entrypoint)
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script %s does not exist: %w", entrypoint, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("checking script %s: %w", entrypoint, err)
	}

	var path []string
	for _, env := range spec.Process.Env {
		if value, ok := strings.CutPrefix(env, "PATH="); ok {
			path = strings.Split(value, ":")
			break
		}
	}

	engine, err := config.FromEnv(spec.Process.Env, bf.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("reading interpreter options: %w: %w", err, errdefs.ErrInvalidArgument)
	}
	if err := engine.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", err, errdefs.ErrInvalidArgument)
	}

	return &Bundle{
		Root:       root,
		Entrypoint: entrypoint,
		Path:       path,
		Engine:     engine,
	}, nil
}

// Env is the environment of the interpreter process: the shim environment
// with PATH taken from the container when it sets one.
func (b *Bundle) Env(environ []string) []string {
	if b.Path == nil {
		return environ
	}
	env := slices.DeleteFunc(slices.Clone(environ), func(kv string) bool {
		return strings.HasPrefix(kv, "PATH=")
	})
	return append(env, "PATH="+strings.Join(b.Path, ":"))
}

func (b *Bundle) Script() string {
	return filepath.Join(b.Root, b.Entrypoint)
}

// Args is the argument list of the brainfuck subcommand that runs the
// script.
func (b *Bundle) Args() []string {
	args := []string{"brainfuck", "-file", b.Script()}
	return append(args, config.Args(b.Engine)...)
}
