package launch

import (
	"errors"
	"fmt"
)

// ErrIncompleteTLSMaterial matches any *ConfigError reporting a partial
// cert/key pair.
var ErrIncompleteTLSMaterial = errors.New("incomplete tls material")

// Names of the flags a ConfigError can report as missing.
const (
	MissingCertFile = "cert-file"
	MissingKeyFile  = "key-file"
)

// ConfigError is a launch configuration error detected before any listener
// starts. It is never retried.
type ConfigError struct {
	// Missing is the flag that was not supplied: "cert-file" or "key-file".
	Missing string
}

func (e *ConfigError) Error() string {
	present := MissingCertFile
	if e.Missing == MissingCertFile {
		present = MissingKeyFile
	}
	return fmt.Sprintf("--%s specified but --%s is missing", present, e.Missing)
}

// Is reports whether target is ErrIncompleteTLSMaterial.
func (e *ConfigError) Is(target error) bool {
	return target == ErrIncompleteTLSMaterial
}
