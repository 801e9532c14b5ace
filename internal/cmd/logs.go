package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// printLogTail copies the last tailN lines of a worker log to w; tailN <= 0
// copies the whole file.
func printLogTail(w io.Writer, path string, tailN int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if tailN <= 0 {
		_, err = io.Copy(w, f)
		return err
	}
	lines, err := tailLines(f, tailN)
	if err != nil {
		return err
	}
	for _, l := range lines {
		_, _ = fmt.Fprintln(w, l)
	}
	return nil
}

// tailLines returns the last n lines of r in order, using a ring of n slots.
func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]string, n)
	seen := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		ring[seen%n] = sc.Text()
		seen++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if seen <= n {
		return ring[:seen], nil
	}
	start := seen % n
	return append(ring[start:], ring[:start]...), nil
}
