package broker

import (
	"errors"
	"fmt"

	"github.com/relayforge/sshgateway/internal/protocol"
)

// ConnectError carries the stable reason an SSH connect attempt failed,
// distinguishing timeout/refused/unreachable/auth from each other per
// spec §7's SSH transport taxonomy. AuthType=key with an unusable key fails
// with AuthFailed rather than silently falling back to password (spec §4.5
// step 2).
type ConnectError struct {
	Code protocol.ErrorCode
	Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

func newConnectError(code protocol.ErrorCode, err error) *ConnectError {
	return &ConnectError{Code: code, Err: err}
}

// ErrKeyUnusable is returned by authMethod when AuthType is key but the key
// material is missing or fails to parse.
var ErrKeyUnusable = errors.New("broker: private key missing or invalid")
