package kv

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// File stores each key as <dir>/<key>.json.
//
// Writes go through a temp file in the same directory followed by a rename,
// so a concurrent reader sees either the previous file or the new one.
type File struct {
	dir string
}

// NewFile creates a file-backed Store rooted at dir. The directory is
// created lazily on first write (0700).
func NewFile(dir string) *File {
	if dir == "" {
		dir = "./var/eventscope"
	}
	return &File{dir: dir}
}

// Dir returns the state directory.
func (f *File) Dir() string { return f.dir }

func (f *File) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(f.dir, key+".json"), nil
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	p, err := f.path(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, Unavailable("read", key, err)
	}
	return string(data), true, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return Unavailable("mkdir", key, err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*.tmp")
	if err != nil {
		return Unavailable("create temp", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return Unavailable("write", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Unavailable("sync", key, err)
	}
	if err := tmp.Close(); err != nil {
		return Unavailable("close", key, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return Unavailable("chmod", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return Unavailable("rename", key, err)
	}
	return nil
}

func (f *File) Remove(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Unavailable("remove", key, err)
	}
	return nil
}
