// Package config loads interpreter options from TOML files and environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/MarcinKonowalczyk/bfvm/bf"
)

// File is the on-disk layout of a bfvm.toml file. Absent keys keep their
// defaults.
type File struct {
	Tape   Tape   `toml:"tape"`
	Cells  Cells  `toml:"cells"`
	Limits Limits `toml:"limits"`
}

type Tape struct {
	InitialSize *int `toml:"initial-size"`
	MaxSize     *int `toml:"max-size"`
}

type Cells struct {
	BitWidth *int `toml:"bitwidth"`
}

type Limits struct {
	MaxSteps *int64 `toml:"max-steps"`
}

// Apply overlays the keys present in f onto c.
func (f File) Apply(c bf.Config) bf.Config {
	if f.Tape.InitialSize != nil {
		c.InitialTapeSize = *f.Tape.InitialSize
	}
	if f.Tape.MaxSize != nil {
		c.MaxTapeSize = *f.Tape.MaxSize
	}
	if f.Cells.BitWidth != nil {
		c.BitWidth = *f.Cells.BitWidth
	}
	if f.Limits.MaxSteps != nil {
		c.MaxSteps = *f.Limits.MaxSteps
	}
	return c
}

// Decode parses TOML text on top of base.
func Decode(data string, base bf.Config) (bf.Config, error) {
	var f File
	md, err := toml.Decode(data, &f)
	if err != nil {
		return base, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return base, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	return f.Apply(base), nil
}

// Load reads a TOML file on top of base.
func Load(path string, base bf.Config) (bf.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Decode(string(data), base)
	if err != nil {
		return base, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return c, nil
}

const (
	EnvTapeSize    = "BFVM_TAPE_SIZE"
	EnvMaxTapeSize = "BFVM_MAX_TAPE_SIZE"
	EnvBitWidth    = "BFVM_BITWIDTH"
	EnvMaxSteps    = "BFVM_MAX_STEPS"
)

// FromEnv overlays the BFVM_* variables found in env, a list of KEY=VALUE
// pairs as in os.Environ, onto base.
func FromEnv(env []string, base bf.Config) (bf.Config, error) {
	c := base
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		var err error
		switch key {
		case EnvTapeSize:
			c.InitialTapeSize, err = strconv.Atoi(value)
		case EnvMaxTapeSize:
			c.MaxTapeSize, err = strconv.Atoi(value)
		case EnvBitWidth:
			c.BitWidth, err = strconv.Atoi(value)
		case EnvMaxSteps:
			c.MaxSteps, err = strconv.ParseInt(value, 10, 64)
		default:
			continue
		}
		if err != nil {
			return base, fmt.Errorf("%s: %w", key, err)
		}
	}
	return c, nil
}

// Args renders the options of c that differ from the defaults as command
// line flags understood by the bfvm command.
func Args(c bf.Config) []string {
	d := bf.DefaultConfig()
	var args []string
	if c.InitialTapeSize != d.InitialTapeSize {
		args = append(args, "-stack-size", strconv.Itoa(c.InitialTapeSize))
	}
	if c.MaxTapeSize != d.MaxTapeSize {
		args = append(args, "-max-stack-size", strconv.Itoa(c.MaxTapeSize))
	}
	if c.BitWidth != d.BitWidth {
		args = append(args, "-bitwidth", strconv.Itoa(c.BitWidth))
	}
	if c.MaxSteps != d.MaxSteps {
		args = append(args, "-max-steps", strconv.FormatInt(c.MaxSteps, 10))
	}
	return args
}
