// Command fatshell is a minimal interactive shell for browsing mounted
// FAT16/FAT32 or Skinny28 images: mount, umount, ls, cd, touch, mkdir, cat,
// echo, echoa, rm, revs, revert, printrev, exit — the scenario commands of
// spec.md §6/§8, dispatched straight onto package vfs.
//
// Grounded on github.com/dargueta/disko's cmd/unzipimage/main.go urfave/cli
// scaffolding, dispatching onto package vfs rather than reimplementing path
// handling in the command layer.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/kvnallsn/skfs"
	"github.com/kvnallsn/skfs/fatfs"
	"github.com/kvnallsn/skfs/skinny28fs"
	"github.com/kvnallsn/skfs/vfs"
)

func main() {
	app := &cli.App{
		Name:  "fatshell",
		Usage: "interactively browse FAT16/FAT32 or Skinny28 images",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "f(at) or s(kinny28)", Value: "s"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatshell:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	state := &shellState{
		ctx:    vfs.NewContext(),
		mounts: make(map[string]*mountInfo),
	}
	defer state.ctx.UnmountAll()

	if c.Args().Len() == 1 {
		if err := state.mount(c.String("type"), c.Args().First(), "/"); err != nil {
			return err
		}
	}

	repl(state)
	return nil
}

// mountInfo tracks the shell-local state the engine itself does not keep:
// the current working directory within that mount, per spec.md §9's note
// that the source keeps a single current_directory cluster number.
type mountInfo struct {
	cwd string
}

type shellState struct {
	ctx    *vfs.Context
	mounts map[string]*mountInfo
	active string // mount point most recently mounted/cd'd into
}

func (s *shellState) mount(fsType, device, mountPoint string) error {
	var engine vfs.Engine
	var err error
	switch fsType {
	case "f", "fat":
		engine, err = fatfs.Mount(device, skfs.MountFlagsAllowAll)
	case "s", "skinny28":
		engine, err = skinny28fs.Mount(device, skfs.MountFlagsAllowAll)
	default:
		return fmt.Errorf("unknown type %q (want f or s)", fsType)
	}
	if err != nil {
		return err
	}
	if err := s.ctx.Mount(mountPoint, engine); err != nil {
		return err
	}
	s.mounts[mountPoint] = &mountInfo{cwd: "/"}
	s.active = mountPoint
	return nil
}

func (s *shellState) umount(mountPoint string) error {
	if err := s.ctx.Unmount(mountPoint); err != nil {
		return err
	}
	delete(s.mounts, mountPoint)
	if s.active == mountPoint {
		s.active = ""
		for mp := range s.mounts {
			s.active = mp
			break
		}
	}
	return nil
}

// resolve turns a shell argument into an absolute in-volume path, joining it
// against the active mount's current directory unless it is already
// absolute.
func (s *shellState) resolve(p string) (mountPoint, resolved string, err error) {
	if s.active == "" {
		return "", "", fmt.Errorf("no volume mounted")
	}
	info := s.mounts[s.active]
	if p == "" || p == "." {
		p = info.cwd
	}
	if !path.IsAbs(p) {
		p = path.Join(info.cwd, p)
	}
	return s.active, path.Clean(p), nil
}

func repl(state *shellState) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("fatshell> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			dispatch(state, line)
		}
		fmt.Print("fatshell> ")
	}
}

func dispatch(state *shellState, line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "mount":
		cmdMount(state, args)
	case "umount":
		cmdUmount(state, args)
	case "ls":
		cmdLs(state, args)
	case "cd":
		cmdCd(state, args)
	case "touch":
		cmdTouch(state, args)
	case "mkdir":
		cmdMkdir(state, args)
	case "cat":
		cmdCat(state, args)
	case "echo":
		cmdEcho(state, args)
	case "echoa":
		cmdEchoa(state, args)
	case "rm":
		cmdRm(state, args)
	case "revs":
		cmdRevs(state, args)
	case "revert":
		cmdRevert(state, args)
	case "printrev":
		cmdPrintrev(state, args)
	case "exit", "quit":
		os.Exit(0)
	default:
		fmt.Println("unknown command:", cmd)
	}
}

func cmdMount(state *shellState, args []string) {
	if len(args) != 3 {
		fmt.Println("usage: mount f|s DEVICE PATH")
		return
	}
	if err := state.mount(args[0], args[1], args[2]); err != nil {
		fmt.Println("error:", err)
	}
}

func cmdUmount(state *shellState, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: umount PATH")
		return
	}
	if err := state.umount(args[0]); err != nil {
		fmt.Println("error:", err)
	}
}

func cmdLs(state *shellState, args []string) {
	target := ""
	if len(args) > 0 {
		target = args[0]
	}
	mountPoint, resolved, err := state.resolve(target)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	h, err := state.ctx.OpenDir(mountPoint, resolved)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer state.ctx.Close(h)
	list, err := state.ctx.Readdir(h)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, e := range list {
		fmt.Println(e.LongName, e.Size)
	}
}

func cmdCd(state *shellState, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: cd PATH")
		return
	}
	_, resolved, err := state.resolve(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	state.mounts[state.active].cwd = resolved
}

func cmdTouch(state *shellState, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: touch PATH")
		return
	}
	mountPoint, resolved, err := state.resolve(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	h, err := state.ctx.OpenFile(mountPoint, resolved)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer state.ctx.Close(h)
	if err := state.ctx.Write(h, []byte{}); err != nil {
		fmt.Println("error:", err)
	}
}

func cmdMkdir(state *shellState, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: mkdir PATH")
		return
	}
	mountPoint, resolved, err := state.resolve(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if err := state.ctx.Mkdir(mountPoint, resolved); err != nil {
		fmt.Println("error:", err)
	}
}

func cmdCat(state *shellState, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: cat PATH")
		return
	}
	mountPoint, resolved, err := state.resolve(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	h, err := state.ctx.OpenFile(mountPoint, resolved)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer state.ctx.Close(h)
	data, err := state.ctx.Read(h)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	os.Stdout.Write(data)
	fmt.Println()
}

func cmdEcho(state *shellState, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: echo WORD PATH")
		return
	}
	mountPoint, resolved, err := state.resolve(args[1])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	h, err := state.ctx.OpenFile(mountPoint, resolved)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer state.ctx.Close(h)
	if err := state.ctx.Write(h, []byte(args[0])); err != nil {
		fmt.Println("error:", err)
	}
}

func cmdEchoa(state *shellState, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: echoa WORD PATH")
		return
	}
	mountPoint, resolved, err := state.resolve(args[1])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	h, err := state.ctx.OpenFile(mountPoint, resolved)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer state.ctx.Close(h)
	if err := state.ctx.Append(h, []byte(args[0])); err != nil {
		fmt.Println("error:", err)
	}
}

func cmdRm(state *shellState, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: rm PATH")
		return
	}
	mountPoint, resolved, err := state.resolve(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if err := state.ctx.Remove(mountPoint, resolved); err != nil {
		fmt.Println("error:", err)
	}
}

func cmdRevs(state *shellState, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: revs PATH")
		return
	}
	if state.active == "" {
		fmt.Println("error: no volume mounted")
		return
	}
	_, resolved, err := state.resolve(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	v, err := state.ctx.Versioned(state.active)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	rec, err := v.GetRevision(resolved)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("Current: %d\n1: %d\n2: %d\n3: %d\n", rec.Vcurr, rec.V1, rec.V2, rec.V3)
}

func cmdRevert(state *shellState, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: revert PATH N")
		return
	}
	n, convErr := strconv.Atoi(args[1])
	if convErr != nil {
		fmt.Println("error:", convErr)
		return
	}
	if state.active == "" {
		fmt.Println("error: no volume mounted")
		return
	}
	_, resolved, err := state.resolve(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	v, err := state.ctx.Versioned(state.active)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if err := v.Revert(resolved, n); err != nil {
		fmt.Println("error:", err)
	}
}

func cmdPrintrev(state *shellState, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: printrev PATH N")
		return
	}
	n, convErr := strconv.Atoi(args[1])
	if convErr != nil {
		fmt.Println("error:", convErr)
		return
	}
	if state.active == "" {
		fmt.Println("error: no volume mounted")
		return
	}
	_, resolved, err := state.resolve(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	v, err := state.ctx.Versioned(state.active)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	data, err := v.ReadRevision(resolved, n)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	os.Stdout.Write(data)
	fmt.Println()
}
