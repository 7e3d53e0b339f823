package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvnallsn/skfs"
	"github.com/kvnallsn/skfs/internal/dirent"
)

// fakeEngine is a minimal in-memory Engine, standing in for fatfs.Volume /
// skinny28fs.Volume so Context's dispatch logic can be tested without
// building a real disk image.
type fakeEngine struct {
	files map[string][]byte
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{files: make(map[string][]byte)}
}

func (f *fakeEngine) Readdir(path string) ([]dirent.Entry, error) {
	var out []dirent.Entry
	for name, data := range f.files {
		out = append(out, dirent.Entry{LongName: name, Size: uint32(len(data))})
	}
	return out, nil
}

func (f *fakeEngine) ReadFile(path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, skfs.ErrNoSuchPath(path)
	}
	return data, nil
}

func (f *fakeEngine) WriteFile(path string, data []byte) error {
	f.files[path] = data
	return nil
}

func (f *fakeEngine) AppendFile(path string, data []byte) error {
	f.files[path] = append(f.files[path], data...)
	return nil
}

func (f *fakeEngine) Mkdir(path string) error { return nil }

func (f *fakeEngine) Remove(path string) error {
	delete(f.files, path)
	return nil
}

func (f *fakeEngine) Teardown() error { return nil }

func TestMountUnmountLifecycle(t *testing.T) {
	ctx := NewContext()
	eng := newFakeEngine()
	require.NoError(t, ctx.Mount("/", eng))
	require.Error(t, ctx.Mount("/", eng), "mounting the same point twice must fail")
	require.NoError(t, ctx.Unmount("/"))
	require.Error(t, ctx.Unmount("/"), "unmounting twice must fail")
}

func TestOpenReadWriteCloseFile(t *testing.T) {
	ctx := NewContext()
	eng := newFakeEngine()
	require.NoError(t, ctx.Mount("/", eng))

	h, err := ctx.OpenFile("/", "/a.txt")
	require.NoError(t, err)

	require.NoError(t, ctx.Write(h, []byte("hi")))
	data, err := ctx.Read(h)
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))

	require.NoError(t, ctx.Close(h))
	_, err = ctx.Read(h)
	require.Error(t, err)
}

func TestReaddirViaHandle(t *testing.T) {
	ctx := NewContext()
	eng := newFakeEngine()
	require.NoError(t, ctx.Mount("/", eng))
	require.NoError(t, eng.WriteFile("/a.txt", []byte("x")))

	h, err := ctx.OpenDir("/", "/")
	require.NoError(t, err)
	list, err := ctx.Readdir(h)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = ctx.Read(h)
	require.Error(t, err, "reading a directory handle as a file must fail")
}

func TestAppendToFile(t *testing.T) {
	ctx := NewContext()
	eng := newFakeEngine()
	require.NoError(t, ctx.Mount("/", eng))

	h, err := ctx.OpenFile("/", "/a.txt")
	require.NoError(t, err)
	require.NoError(t, ctx.Write(h, []byte("hi")))
	require.NoError(t, ctx.Append(h, []byte(" there")))

	data, err := ctx.Read(h)
	require.NoError(t, err)
	require.Equal(t, "hi there", string(data))
}

func TestVersionedRejectsPlainEngine(t *testing.T) {
	ctx := NewContext()
	eng := newFakeEngine()
	require.NoError(t, ctx.Mount("/", eng))

	_, err := ctx.Versioned("/")
	require.Error(t, err)
}

func TestRemoveAndMkdirPassthrough(t *testing.T) {
	ctx := NewContext()
	eng := newFakeEngine()
	require.NoError(t, ctx.Mount("/", eng))
	require.NoError(t, eng.WriteFile("/a.txt", []byte("x")))

	require.NoError(t, ctx.Mkdir("/", "/sub"))
	require.NoError(t, ctx.Remove("/", "/a.txt"))
	_, ok := eng.files["/a.txt"]
	require.False(t, ok)
}
