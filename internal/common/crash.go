// -----------------------------------------------------------------------
// Crash Protection - Crash reports for panics on the main goroutine
// -----------------------------------------------------------------------

package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/google/renameio/v2"
)

// crashDir receives crash-<timestamp>.log files. Set by InstallCrashHandler.
var crashDir = "./logs"

// InstallCrashHandler points crash reports at logDir. main must also
// defer RecoverWithCrashFile for reports to be written.
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		crashDir = logDir
	}
	if err := os.MkdirAll(crashDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "crash handler: cannot create %s: %v\n", crashDir, err)
	}
}

// RecoverWithCrashFile writes a crash report for a panic on the main
// goroutine and exits with status 2.
func RecoverWithCrashFile() {
	r := recover()
	if r == nil {
		return
	}
	path, err := writeCrashReport(crashDir, time.Now(), r, debug.Stack())
	if err != nil {
		fmt.Fprintf(os.Stderr, "crash report not written: %v\npanic: %v\n", err, r)
	} else {
		fmt.Fprintf(os.Stderr, "fatal panic: %v\ncrash report: %s\n", r, path)
	}
	os.Exit(2)
}

// writeCrashReport atomically writes the report and returns its path.
func writeCrashReport(dir string, at time.Time, r any, stack []byte) (string, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "agentstream crash at %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "build: %s\n", CurrentBuild())
	fmt.Fprintf(&b, "platform: %s/%s goroutines=%d\n\n", runtime.GOOS, runtime.GOARCH, runtime.NumGoroutine())
	fmt.Fprintf(&b, "panic: %v\n\n%s\n", r, stack)
	b.WriteString("\n--- all goroutines ---\n")
	b.Write(allStacks())

	path := filepath.Join(dir, "crash-"+at.Format("20060102-150405")+".log")
	if err := renameio.WriteFile(path, b.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func allStacks() []byte {
	buf := make([]byte, 256<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= 16<<20 {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}
