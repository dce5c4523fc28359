//go:build darwin

package vault

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// touchIDScript evaluates the LocalAuthentication biometric policy and exits
// 0 only on success. It is piped to swift on stdin and never written to disk.
const touchIDScript = `import LocalAuthentication
let ctx = LAContext()
var err: NSError?
if ctx.canEvaluatePolicy(.deviceOwnerAuthenticationWithBiometrics, error: &err) {
  let sema = DispatchSemaphore(value: 0)
  var ok = false
  ctx.evaluatePolicy(.deviceOwnerAuthenticationWithBiometrics, localizedReason: %s) { s, _ in ok = s; sema.signal() }
  sema.wait()
  exit(ok ? 0 : 1)
}
exit(2)
`

func (platformAuthenticator) Authenticate(ctx context.Context, reason string) error {
	cmd := exec.CommandContext(ctx, "/usr/bin/swift", "-")
	cmd.Stdin = strings.NewReader(fmt.Sprintf(touchIDScript, strconv.Quote(reason)))

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 2:
		return ErrBiometricUnsupported
	default:
		return fmt.Errorf("%w: %v", ErrBiometricRejected, err)
	}
}
