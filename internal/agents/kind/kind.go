package kind

import (
	"errors"
	"strings"
)

// Agent is the kind of management agent whose resource tree is stabilized.
type Agent uint8

const (
	PNC Agent = iota
	Compute
	Storage
)

const (
	PNCStr     = "pnc"
	ComputeStr = "compute"
	StorageStr = "storage"
)

var (
	ErrUnknownAgentKind = errors.New("unknown agent kind")
)

func (a Agent) String() string {
	switch a {
	case PNC:
		return PNCStr
	case Compute:
		return ComputeStr
	case Storage:
		return StorageStr
	default:
		return "unknown"
	}
}

func FromString(str string) (Agent, error) {
	switch strings.ToLower(str) {
	case PNCStr:
		return PNC, nil
	case ComputeStr:
		return Compute, nil
	case StorageStr:
		return Storage, nil
	default:
		return 0, ErrUnknownAgentKind
	}
}
