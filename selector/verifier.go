package selector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const (
	signedPathEnv = "GAMMAHOOK_SIGNED_PATH"

	// The path is passed through the environment so that it does
	// not need quoting.
	thumbprintScript = `$s = Get-AuthenticodeSignature -LiteralPath $env:` + signedPathEnv + `
if ($s.Status -ne 'Valid') {
    [Console]::Error.WriteLine('signature status is ' + $s.Status)
    exit 2
}
$s.SignerCertificate.Thumbprint`
)

// PowerShellVerifier checks Authenticode signatures with PowerShell's
// Get-AuthenticodeSignature.
type PowerShellVerifier struct {
	// OptExe is the PowerShell executable. It defaults to
	// "powershell".
	OptExe string
}

func (o *PowerShellVerifier) Thumbprint(ctx context.Context, path string) (string, error) {
	exe := o.OptExe
	if exe == "" {
		exe = "powershell"
	}

	stdout := bytes.NewBuffer(nil)
	stderr := bytes.NewBuffer(nil)

	cmd := exec.CommandContext(ctx, exe, "-NoProfile", "-NonInteractive", "-Command", thumbprintScript)
	cmd.Env = append(os.Environ(), signedPathEnv+"="+path)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("failed to verify signature of %q - %s",
				path, strings.TrimSpace(stderr.String()))
		}

		return "", fmt.Errorf("failed to run %s - %w", exe, err)
	}

	thumbprint := strings.TrimSpace(stdout.String())
	if thumbprint == "" {
		return "", fmt.Errorf("signature of %q has no signer thumbprint", path)
	}

	return thumbprint, nil
}
