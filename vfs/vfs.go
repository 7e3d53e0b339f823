// Package vfs implements component C9: a single dispatch object that mounts
// either a fatfs or a skinny28fs volume behind one interface, and tracks open
// file/directory handles, following spec.md §9's design note that exactly
// one mount/handle table should exist per process rather than one per engine.
//
// Grounded on github.com/dargueta/disko's file_systems/fat/driverbase.go
// FATDriverCommon, generalized into an interface both engines in this module
// satisfy, plus github.com/hashicorp/go-multierror for aggregating the
// per-mount teardown errors in UnmountAll.
package vfs

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/kvnallsn/skfs"
	"github.com/kvnallsn/skfs/internal/dirent"
	"github.com/kvnallsn/skfs/internal/version"
)

// Engine is satisfied by both fatfs.Volume and skinny28fs.Volume.
type Engine interface {
	Readdir(path string) ([]dirent.Entry, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	AppendFile(path string, data []byte) error
	Mkdir(path string) error
	Remove(path string) error
	Teardown() error
}

// Versioned is additionally satisfied by skinny28fs.Volume.
type Versioned interface {
	Engine
	GetRevision(path string) (version.Record, error)
	Revert(path string, n int) error
	ReadRevision(path string, n int) ([]byte, error)
}

// Handle identifies an open file or directory within a mounted volume.
type Handle uint64

type openHandle struct {
	mountPoint string
	path       string
	isDir      bool
	// offset tracks bytes appended through this handle so far; WriteFile's
	// overwrite path always starts at 0 and does not use it.
	offset int64
}

// Context is the single mount/handle table for a process.
type Context struct {
	mu      sync.Mutex
	mounts  map[string]Engine
	handles map[Handle]openHandle
	nextID  Handle
}

// NewContext creates an empty VFS context.
func NewContext() *Context {
	return &Context{
		mounts:  make(map[string]Engine),
		handles: make(map[Handle]openHandle),
	}
}

// Mount registers an already-opened engine under mountPoint (e.g. "/").
func (c *Context) Mount(mountPoint string, engine Engine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.mounts[mountPoint]; exists {
		return skfs.ErrExists(mountPoint)
	}
	c.mounts[mountPoint] = engine
	return nil
}

// Unmount tears down the engine at mountPoint, closing its device.
func (c *Context) Unmount(mountPoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	engine, ok := c.mounts[mountPoint]
	if !ok {
		return skfs.ErrNoSuchPath(mountPoint)
	}
	delete(c.mounts, mountPoint)
	return engine.Teardown()
}

// UnmountAll tears down every mounted engine, aggregating any errors.
func (c *Context) UnmountAll() error {
	c.mu.Lock()
	mountPoints := make([]string, 0, len(c.mounts))
	for mp := range c.mounts {
		mountPoints = append(mountPoints, mp)
	}
	c.mu.Unlock()

	var result *multierror.Error
	for _, mp := range mountPoints {
		if err := c.Unmount(mp); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c *Context) resolve(mountPoint string) (Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	engine, ok := c.mounts[mountPoint]
	if !ok {
		return nil, skfs.ErrNoSuchPath(mountPoint)
	}
	return engine, nil
}

// OpenFile registers an open-file handle and returns its ID; the actual
// content access goes through ReadFile/WriteFile using the same path, in
// keeping with this module's engines not holding a live cursor per handle.
func (c *Context) OpenFile(mountPoint, path string) (Handle, error) {
	if _, err := c.resolve(mountPoint); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handles[id] = openHandle{mountPoint: mountPoint, path: path, isDir: false}
	return id, nil
}

// OpenDir registers an open-directory handle.
func (c *Context) OpenDir(mountPoint, path string) (Handle, error) {
	if _, err := c.resolve(mountPoint); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handles[id] = openHandle{mountPoint: mountPoint, path: path, isDir: true}
	return id, nil
}

// Close releases a handle.
func (c *Context) Close(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handles[h]; !ok {
		return skfs.ErrNoSuchPath("handle")
	}
	delete(c.handles, h)
	return nil
}

// Read reads the full contents of an open file handle.
func (c *Context) Read(h Handle) ([]byte, error) {
	oh, engine, err := c.handleEngine(h)
	if err != nil {
		return nil, err
	}
	if oh.isDir {
		return nil, skfs.ErrIsADirectory(oh.path)
	}
	return engine.ReadFile(oh.path)
}

// Write overwrites the contents of an open file handle.
func (c *Context) Write(h Handle, data []byte) error {
	oh, engine, err := c.handleEngine(h)
	if err != nil {
		return err
	}
	if oh.isDir {
		return skfs.ErrIsADirectory(oh.path)
	}
	return engine.WriteFile(oh.path, data)
}

// Append appends data to an open file handle, following the originating
// shell's distinction between an echo-style overwrite and an echoa-style
// append file-open mode.
func (c *Context) Append(h Handle, data []byte) error {
	oh, engine, err := c.handleEngine(h)
	if err != nil {
		return err
	}
	if oh.isDir {
		return skfs.ErrIsADirectory(oh.path)
	}
	if err := engine.AppendFile(oh.path, data); err != nil {
		return err
	}
	c.mu.Lock()
	oh.offset += int64(len(data))
	c.handles[h] = oh
	c.mu.Unlock()
	return nil
}

// Readdir lists an open directory handle's entries.
func (c *Context) Readdir(h Handle) ([]dirent.Entry, error) {
	oh, engine, err := c.handleEngine(h)
	if err != nil {
		return nil, err
	}
	if !oh.isDir {
		return nil, skfs.ErrNotADirectory(oh.path)
	}
	return engine.Readdir(oh.path)
}

func (c *Context) handleEngine(h Handle) (openHandle, Engine, error) {
	c.mu.Lock()
	oh, ok := c.handles[h]
	c.mu.Unlock()
	if !ok {
		return openHandle{}, nil, skfs.ErrNoSuchPath("handle")
	}
	engine, err := c.resolve(oh.mountPoint)
	if err != nil {
		return openHandle{}, nil, err
	}
	return oh, engine, nil
}

// Remove deletes the entry at path on the volume mounted at mountPoint via
// the engine's Remove: fatfs removes files and empty directories, while
// skinny28fs removes files only and rejects a directory path.
func (c *Context) Remove(mountPoint, path string) error {
	engine, err := c.resolve(mountPoint)
	if err != nil {
		return err
	}
	return engine.Remove(path)
}

// Mkdir creates a directory at path on the volume mounted at mountPoint.
func (c *Context) Mkdir(mountPoint, path string) error {
	engine, err := c.resolve(mountPoint)
	if err != nil {
		return err
	}
	return engine.Mkdir(path)
}

// Versioned returns the engine at mountPoint if it supports version
// operations (i.e. it is a Skinny28 volume), or an error otherwise.
func (c *Context) Versioned(mountPoint string) (Versioned, error) {
	engine, err := c.resolve(mountPoint)
	if err != nil {
		return nil, err
	}
	v, ok := engine.(Versioned)
	if !ok {
		return nil, skfs.ErrNotSupported("versioning on " + mountPoint)
	}
	return v, nil
}
