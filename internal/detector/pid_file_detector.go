package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFileDetector detects a process via a PID file.
// Format: first line is the PID, optional second line is a JSON Meta.
type PIDFileDetector struct {
	PIDFile string
}

// Meta is stored next to the PID so a reused PID is not mistaken for our process.
type Meta struct {
	StartUnix int64 `json:"start_unix"`
}

// ReadPIDFile returns the PID and, when present, the metadata line.
func ReadPIDFile(path string) (int, Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, Meta{}, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, Meta{}, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	var m Meta
	if len(lines) >= 2 {
		_ = json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &m)
	}
	return pid, m, nil
}

// WritePIDFile writes pid and its metadata.
func WritePIDFile(path string, pid int, m Meta) error {
	mb, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"+string(mb)+"\n"), 0o600)
}

func (d PIDFileDetector) Alive(ctx context.Context) (bool, error) {
	pid, meta, err := ReadPIDFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if meta.StartUnix > 0 {
		cur := ProcStartUnix(ctx, pid)
		if cur > 0 && cur != meta.StartUnix {
			return false, nil // PID reused; not our process
		}
	}
	return pidAlive(ctx, pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }
