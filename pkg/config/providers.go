// Package config resolves settings from an ordered chain of sources. The first source
// that has a key wins.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var ErrNotResolved = errors.New("config key not resolved")

// Provider is one source in a resolution chain. Lookup reports whether the key is
// present; an error aborts the whole resolution.
type Provider interface {
	Name() string
	Lookup(key string) (string, bool, error)
}

// Resolution records where a value came from.
type Resolution struct {
	Key    string
	Value  string
	Source string
}

// Resolve walks providers in order and returns the first present value.
func Resolve(key string, providers ...Provider) (Resolution, error) {
	for _, p := range providers {
		if p == nil {
			continue
		}
		v, ok, err := p.Lookup(key)
		if err != nil {
			return Resolution{}, errors.Wrapf(err, "resolve %s from %s", key, p.Name())
		}
		if ok {
			return Resolution{Key: key, Value: v, Source: p.Name()}, nil
		}
	}
	return Resolution{}, errors.Wrapf(ErrNotResolved, "%s", key)
}

// KeyedProvider pins a provider to one key, so a chain can look up a different name in
// each source (WEBUI_SECRET_KEY in the environment, secret-key in viper).
type KeyedProvider struct {
	Provider Provider
	Key      string
}

func (k KeyedProvider) Name() string {
	return k.Provider.Name() + ":" + k.Key
}

func (k KeyedProvider) Lookup(string) (string, bool, error) {
	return k.Provider.Lookup(k.Key)
}

// EnvProvider reads from an environ-style slice ("KEY=value"). It never touches the
// process environment, so tests can pass their own.
type EnvProvider struct {
	values map[string]string
}

func NewEnvProvider(environ []string) *EnvProvider {
	values := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		values[k] = v
	}
	return &EnvProvider{values: values}
}

func (e *EnvProvider) Name() string { return "env" }

// Lookup treats an empty variable as absent.
func (e *EnvProvider) Lookup(key string) (string, bool, error) {
	v, ok := e.values[key]
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// DotenvProvider reads a .env file without exporting it into the process.
type DotenvProvider struct {
	Path string

	loaded bool
	values map[string]string
}

func NewDotenvProvider(path string) *DotenvProvider {
	return &DotenvProvider{Path: path}
}

func (d *DotenvProvider) Name() string { return "dotenv:" + d.Path }

func (d *DotenvProvider) Lookup(key string) (string, bool, error) {
	if !d.loaded {
		values, err := godotenv.Read(d.Path)
		if err != nil {
			if !os.IsNotExist(errors.Cause(err)) {
				return "", false, errors.Wrapf(err, "read %s", d.Path)
			}
			values = map[string]string{}
		}
		d.values = values
		d.loaded = true
	}
	v, ok := d.values[key]
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// FileProvider maps keys to files whose whole trimmed content is the value, the way
// the web UI keeps its generated secret in .webui_secret_key. A missing file is absent.
type FileProvider struct {
	Files map[string]string
}

func NewFileProvider(files map[string]string) *FileProvider {
	return &FileProvider{Files: files}
}

func (f *FileProvider) Name() string { return "file" }

func (f *FileProvider) Lookup(key string) (string, bool, error) {
	path, ok := f.Files[key]
	if !ok || path == "" {
		return "", false, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "read %s", path)
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// ViperProvider looks keys up in a viper instance (config file, bound flags, env).
type ViperProvider struct {
	V *viper.Viper
}

func (p ViperProvider) Name() string { return "viper" }

func (p ViperProvider) Lookup(key string) (string, bool, error) {
	if p.V == nil || !p.V.IsSet(key) {
		return "", false, nil
	}
	v := p.V.GetString(key)
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

type DefaultsProvider map[string]string

func (d DefaultsProvider) Name() string { return "defaults" }

func (d DefaultsProvider) Lookup(key string) (string, bool, error) {
	v, ok := d[key]
	return v, ok, nil
}
