package identity

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNamespace = errors.New("service uuid error")
)

const namespaceFileMode = 0o600

// LoadNamespace resolves the agent's service UUID.
//
// A configured value wins. Otherwise the UUID is read from path, and when the
// file does not exist yet a random UUID is generated and written there so the
// next process start reuses it.
func LoadNamespace(configured, path string) (uuid.UUID, error) {
	if configured != "" {
		ns, err := uuid.Parse(configured)
		if err != nil {
			return uuid.Nil, errors.Wrap(ErrNamespace, "invalid service_uuid: "+err.Error())
		}

		return ns, nil
	}

	if path == "" {
		return uuid.Nil, errors.Wrap(ErrNamespace, "neither service_uuid nor service_uuid_file set")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		ns, perr := uuid.Parse(strings.TrimSpace(string(data)))
		if perr != nil {
			return uuid.Nil, errors.Wrap(ErrNamespace, path+": "+perr.Error())
		}

		return ns, nil
	case os.IsNotExist(err):
		return create(path)
	default:
		return uuid.Nil, errors.Wrap(ErrNamespace, err.Error())
	}
}

func create(path string) (uuid.UUID, error) {
	ns := uuid.New()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return uuid.Nil, errors.Wrap(ErrNamespace, err.Error())
	}

	if err := os.WriteFile(path, []byte(ns.String()+"\n"), namespaceFileMode); err != nil {
		return uuid.Nil, errors.Wrap(ErrNamespace, err.Error())
	}

	return ns, nil
}
