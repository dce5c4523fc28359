//go:build windows

package vault

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// helloScript asks Windows Hello for user consent and exits 0 only when the
// result is Verified.
const helloScript = `
Add-Type -AssemblyName System.Runtime.WindowsRuntime
$asTask = ([System.WindowsRuntimeSystemExtensions].GetMethods() | Where-Object { $_.Name -eq 'AsTask' -and $_.GetParameters().Count -eq 1 -and $_.GetParameters()[0].ParameterType.Name -eq 'IAsyncOperation` + "`" + `1' })[0]
[Windows.Security.Credentials.UI.UserConsentVerifier,Windows.Security.Credentials.UI,ContentType=WindowsRuntime] | Out-Null
$op = [Windows.Security.Credentials.UI.UserConsentVerifier]::RequestVerificationAsync('%s')
$task = $asTask.MakeGenericMethod([Windows.Security.Credentials.UI.UserConsentVerificationResult]).Invoke($null, @($op))
$task.Wait(-1) | Out-Null
if ($task.Result -eq [Windows.Security.Credentials.UI.UserConsentVerificationResult]::Verified) { exit 0 }
if ($task.Result -eq [Windows.Security.Credentials.UI.UserConsentVerificationResult]::DeviceNotPresent) { exit 2 }
exit 1
`

const powershellPath = `C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`

func (platformAuthenticator) Authenticate(ctx context.Context, reason string) error {
	script := fmt.Sprintf(helloScript, strings.ReplaceAll(reason, "'", "''"))
	cmd := exec.CommandContext(ctx, powershellPath, "-NoProfile", "-NonInteractive", "-Command", script)

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
