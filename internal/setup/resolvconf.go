package setup

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
)

const (
	ResolvConfPath = "/etc/resolv.conf"

	// GeneratedHeader marks files written by nicd.
	GeneratedHeader = "# Generated by nicd"
	backupSuffix    = ".nicd-backup"
)

// ResolvConf rewrites the nameserver lines of a resolv.conf file. Options,
// search domains and comments are preserved. The original file is saved
// next to it on first use.
type ResolvConf struct {
	path  string
	slots slots
}

func NewResolvConf(path string) *ResolvConf {
	return &ResolvConf{path: path}
}

func (r *ResolvConf) Install(_ context.Context, addr netip.Addr, slot int) error {
	list, err := r.slots.set(addr, slot)
	if err != nil {
		return err
	}
	current, err := os.ReadFile(r.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", r.path, err)
	}
	if err := r.backup(current); err != nil {
		return err
	}
	return writeFile(r.path, renderResolvConf(current, list), 0644)
}

func (r *ResolvConf) backup(current []byte) error {
	path := r.path + backupSuffix
	if _, err := os.Stat(path); err == nil || current == nil {
		return nil
	}
	// A file we generated ourselves is not worth restoring.
	if bytes.HasPrefix(current, []byte(GeneratedHeader)) {
		return nil
	}
	if err := writeFile(path, current, 0644); err != nil {
		return fmt.Errorf("backing up %s: %w", r.path, err)
	}
	return nil
}

func (r *ResolvConf) SystemText() string {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Sprintf("reading %s: %v", r.path, err)
	}
	return string(data)
}

// Restore puts the backed-up resolv.conf back in place.
func (r *ResolvConf) Restore(context.Context) error {
	backup := r.path + backupSuffix
	if _, err := os.Stat(backup); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.Rename(backup, r.path); err != nil {
		return fmt.Errorf("restoring %s: %w", r.path, err)
	}
	return nil
}

func renderResolvConf(current []byte, list []netip.Addr) []byte {
	var b bytes.Buffer
	b.WriteString(GeneratedHeader + "\n")

	sc := bufio.NewScanner(bytes.NewReader(current))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == GeneratedHeader {
			continue
		}
		if fields := strings.Fields(trimmed); len(fields) > 0 && fields[0] == "nameserver" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, addr := range list {
		fmt.Fprintf(&b, "nameserver %s\n", addr)
	}
	return b.Bytes()
}
