package core

import (
	"bytes"
	"errors"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// killProcessTree signals the descendants of root found under /proc, deepest
// first, so children that left the process group are reached too.
func killProcessTree(root int, sig unix.Signal) {
	if root <= 0 {
		return
	}
	tree, err := readProcessTree()
	if err != nil {
		return
	}
	descendants := tree.descendants(root)
	for i := len(descendants) - 1; i >= 0; i-- {
		_ = unix.Kill(descendants[i], sig)
	}
}

// processTree maps a parent pid to its children.
type processTree map[int][]int

func readProcessTree() (processTree, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	tree := processTree{}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 || !entry.IsDir() {
			continue
		}
		stat, err := os.ReadFile("/proc/" + entry.Name() + "/stat")
		if err != nil {
			continue
		}
		ppid, err := parentFromStat(stat)
		if err != nil {
			continue
		}
		tree[ppid] = append(tree[ppid], pid)
	}
	return tree, nil
}

// descendants lists every pid below root in breadth-first order.
func (t processTree) descendants(root int) []int {
	var out []int
	for queue := []int{root}; len(queue) > 0; queue = queue[1:] {
		for _, child := range t[queue[0]] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// parentFromStat extracts the ppid from /proc/<pid>/stat. The command name
// is parenthesised and may contain spaces, so fields are read after the
// last ')'.
func parentFromStat(stat []byte) (int, error) {
	end := bytes.LastIndexByte(stat, ')')
	if end < 0 {
		return 0, errors.New("malformed stat")
	}
	fields := bytes.Fields(stat[end+1:])
	if len(fields) < 2 {
		return 0, errors.New("malformed stat")
	}
	return strconv.Atoi(string(fields[1]))
}

// isExecutableFile reports whether path is a regular file the caller may execute.
func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}
