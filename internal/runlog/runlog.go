// Package runlog makes read-only assertions against the debug server's log file.
package runlog

import (
	"bytes"
	"os"

	"github.com/loykin/ctiharness/internal/fault"
)

// Log is the server's append-only run log.
type Log struct {
	Path string
}

// Contains fails with a LogAssertion fault when the log is absent or does not hold marker.
func (l Log) Contains(marker string) error {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return fault.LogAssertion(err, "server log '%s' does not exist", l.Path)
		}
		return fault.LogAssertion(err, "could not read server log '%s'", l.Path)
	}
	if !bytes.Contains(data, []byte(marker)) {
		return fault.LogAssertion(nil, "server log missing required marker: %s", marker)
	}
	return nil
}
