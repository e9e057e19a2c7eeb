// Package export copies finished capture logs to removable USB storage
// and safely ejects the drive. Export failures never invalidate a
// completed capture; the log stays in place when no drive is found.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrNoRemovableDrive means no removable block device with a usable
// partition was found. Non-fatal: the caller keeps the log locally.
var ErrNoRemovableDrive = errors.New("export: no removable drive found")

// Target identifies a removable drive ready to receive files.
type Target struct {
	Device string // block device name, e.g. "sda"
	Mount  string // mount point of the data partition
}

// Service is the storage handoff contract the capture apps consume.
type Service interface {
	FindRemovable() (Target, error)
	Copy(src, dstDir string) error
	Eject(device string) error
}

// fallbackMount is where an unmounted removable partition gets mounted.
const fallbackMount = "/mnt/usb"

// UDisks implements Service with lsblk, mount and udisksctl, the way a
// headless Raspberry Pi handles USB sticks.
type UDisks struct {
	// run executes a command and returns its stdout; tests replace it.
	run func(name string, args ...string) ([]byte, error)
	// mountDir is where unmounted partitions get mounted.
	mountDir string
}

func NewUDisks() *UDisks {
	return &UDisks{
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
		mountDir: fallbackMount,
	}
}

// lsblk -J output shape, fields we care about.
type lsblkDevice struct {
	Name       string        `json:"name"`
	RM         bool          `json:"rm"`
	Type       string        `json:"type"`
	MountPoint string        `json:"mountpoint"`
	Children   []lsblkDevice `json:"children"`
}

// FindRemovable scans block devices for a removable disk. A mounted
// partition wins; an unmounted one is mounted at the fallback mount
// point first.
func (u *UDisks) FindRemovable() (Target, error) {
	out, err := u.run("lsblk", "-J", "-o", "NAME,RM,TYPE,MOUNTPOINT")
	if err != nil {
		return Target{}, fmt.Errorf("lsblk: %w", err)
	}

	var tree struct {
		BlockDevices []lsblkDevice `json:"blockdevices"`
	}
	if err := json.Unmarshal(out, &tree); err != nil {
		return Target{}, fmt.Errorf("parse lsblk output: %w", err)
	}

	for _, dev := range tree.BlockDevices {
		if !dev.RM || dev.Type != "disk" {
			continue
		}
		for _, part := range dev.Children {
			if part.MountPoint != "" {
				return Target{Device: dev.Name, Mount: part.MountPoint}, nil
			}
		}
		// Removable disk with an unmounted partition: mount it ourselves.
		for _, part := range dev.Children {
			if err := os.MkdirAll(u.mountDir, 0o755); err != nil {
				return Target{}, fmt.Errorf("prepare mount point: %w", err)
			}
			if _, err := u.run("mount", "/dev/"+part.Name, u.mountDir); err != nil {
				return Target{}, fmt.Errorf("mount /dev/%s: %w", part.Name, err)
			}
			return Target{Device: dev.Name, Mount: u.mountDir}, nil
		}
	}
	return Target{}, ErrNoRemovableDrive
}

// Copy copies src into dstDir, fsyncing the destination before close so
// a subsequent eject cannot lose the tail of the file.
func (u *UDisks) Copy(src, dstDir string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	dstPath := filepath.Join(dstDir, filepath.Base(src))
	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", dstPath, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dstPath, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("sync %s: %w", dstPath, err)
	}
	return out.Close()
}

// Eject flushes filesystem buffers and powers the device off.
func (u *UDisks) Eject(device string) error {
	if _, err := u.run("sync"); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if _, err := u.run("udisksctl", "power-off", "-b", "/dev/"+device); err != nil {
		return fmt.Errorf("power off /dev/%s: %w", device, err)
	}
	return nil
}
