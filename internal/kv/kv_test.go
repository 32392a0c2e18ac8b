package kv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// exerciseStore runs the common get/set/remove contract against a backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, KeyUserPreferences); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v, want absent", ok, err)
	}

	if err := s.Set(ctx, KeyUserPreferences, `{"preferredCategories":["food"]}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, KeyUserPreferences)
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if v != `{"preferredCategories":["food"]}` {
		t.Errorf("Get = %q", v)
	}

	if err := s.Set(ctx, KeyUserPreferences, `{"preferredCategories":[]}`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _, _ := s.Get(ctx, KeyUserPreferences); v != `{"preferredCategories":[]}` {
		t.Errorf("after overwrite Get = %q", v)
	}

	if err := s.Remove(ctx, KeyUserPreferences); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, KeyUserPreferences); ok {
		t.Error("key still present after Remove")
	}
	if err := s.Remove(ctx, KeyUserPreferences); err != nil {
		t.Errorf("Remove of absent key should be a no-op, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)
	if m.Len() != 0 {
		t.Errorf("Len = %d after removal, want 0", m.Len())
	}
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	exerciseStore(t, NewFile(dir))
}

func TestFileStore_WritesOwnerOnlyFile(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(dir)
	if err := f.Set(context.Background(), KeyEventsCache, "{}"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, KeyEventsCache+".json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStore_UnreadableDirIsUnavailable(t *testing.T) {
	// A regular file where the state directory should be makes every write fail.
	parent := t.TempDir()
	blocker := filepath.Join(parent, "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	f := NewFile(blocker)

	err := f.Set(context.Background(), KeyEventsCache, "{}")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Set error = %v, want ErrUnavailable", err)
	}
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{KeyEventsCache, KeyUserPreferences, "a.b-c_d"} {
		if err := ValidateKey(key); err != nil {
			t.Errorf("ValidateKey(%q) = %v", key, err)
		}
	}
	for _, key := range []string{"", "../escape", "a/b", ".hidden"} {
		if err := ValidateKey(key); err == nil {
			t.Errorf("ValidateKey(%q) = nil, want error", key)
		}
	}
}

// fakeS3 is an in-memory stand-in for the S3 client.
type fakeS3 struct {
	objects map[string][]byte
	failPut error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	s := newS3WithClient(fake, "events", "/eventscope/state/")
	exerciseStore(t, s)

	if err := s.Set(context.Background(), KeyEventsCache, "{}"); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["events/eventscope/state/eventsDataCache.json"]; !ok {
		t.Errorf("unexpected object layout: %v", fake.objects)
	}
}

func TestS3Store_PutFailureIsUnavailable(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, failPut: errors.New("access denied")}
	s := newS3WithClient(fake, "events", "")

	err := s.Set(context.Background(), KeyUserPreferences, "{}")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Set error = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "access denied") {
		t.Errorf("cause lost from error: %v", err)
	}
}
