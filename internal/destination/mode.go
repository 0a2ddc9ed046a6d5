package destination

import (
	"fmt"
	"strings"
)

// Mode selects the protocol adapter for a destination.
type Mode string

const (
	ModeObjectStorage Mode = "object_storage"
	ModeFTP           Mode = "ftp"
	ModeSFTP          Mode = "sftp"
	ModeWebDAV        Mode = "webdav"
	ModePeer          Mode = "peer"
	ModeSMB           Mode = "smb"
)

var allModes = []Mode{
	ModeObjectStorage,
	ModeFTP,
	ModeSFTP,
	ModeWebDAV,
	ModePeer,
	ModeSMB,
}

// Modes returns the supported modes in display order.
func Modes() []Mode {
	out := make([]Mode, len(allModes))
	copy(out, allModes)
	return out
}

// ParseMode converts user input into a Mode. Hyphens and case are tolerated.
func ParseMode(value string) (Mode, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	switch normalized {
	case "s3":
		return ModeObjectStorage, nil
	case "ipfs":
		return ModePeer, nil
	case "cifs":
		return ModeSMB, nil
	}
	for _, mode := range allModes {
		if string(mode) == normalized {
			return mode, nil
		}
	}
	return "", &ConfigError{Field: "mode", Message: fmt.Sprintf("unsupported mode %q", value)}
}

func (m Mode) String() string {
	return string(m)
}
