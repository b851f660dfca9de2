package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_ReadFile(t *testing.T) {
	fsys := OSFileSystem{}

	data, err := fsys.ReadFile("filesystem.go")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if len(data) == 0 {
		t.Error("expected non-empty file content")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	mfs.WriteFile("/models/param.json", []byte(`{"genome": []}`))

	data, err := mfs.ReadFile("/models/param.json")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"genome": []}` {
		t.Errorf("unexpected content %q", data)
	}

	if !mfs.Exists("/models") {
		t.Error("expected parent directory to be registered")
	}

	info, err := mfs.Stat("/models")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected /models to be a directory")
	}
}

func TestMemoryFileSystem_Missing(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if _, err := mfs.ReadFile("/missing.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile error = %v, want ErrNotExist", err)
	}
	if _, err := mfs.Stat("/missing.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat error = %v, want ErrNotExist", err)
	}
}

func TestReadBounded(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/small.json", []byte("{}"))
	mfs.WriteFile("/big.json", []byte(strings.Repeat("x", 64)))

	if _, err := ReadBounded(mfs, "/small.json", 16); err != nil {
		t.Errorf("small file: %v", err)
	}
	if _, err := ReadBounded(mfs, "/big.json", 16); err == nil {
		t.Error("expected size error for big file")
	}
	if _, err := ReadBounded(mfs, "/", 16); err == nil {
		t.Error("expected error for directory")
	}
	if _, err := ReadBounded(mfs, "/nope.json", 16); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file error = %v, want ErrNotExist", err)
	}
}

func TestRequireFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dff.h5")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := RequireFile(OSFileSystem{}, path); err != nil {
		t.Errorf("RequireFile(existing) = %v", err)
	}

	err := RequireFile(OSFileSystem{}, filepath.Join(dir, "missing.h5"))
	var pe *fs.PathError
	if !errors.As(err, &pe) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("RequireFile(missing) = %v, want *fs.PathError with ErrNotExist", err)
	}

	if err := RequireFile(OSFileSystem{}, ""); !errors.Is(err, fs.ErrInvalid) {
		t.Errorf("RequireFile(\"\") = %v, want ErrInvalid", err)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"/cfg/biophys.json", "param.json", "/cfg/param.json"},
		{"/cfg/biophys.json", "/abs/param.json", "/abs/param.json"},
		{"biophys.json", "param.json", "param.json"},
		{"", "sub/param.json", "sub/param.json"},
		{"/cfg/biophys.json", "../shared/p.json", "/shared/p.json"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.base, tt.ref); got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}
}
