package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()

	if !strings.Contains(info, "duplexd version") {
		t.Error("version info should name the binary")
	}
	if !strings.Contains(info, "dev") {
		t.Error("version info should contain default version 'dev'")
	}
	if !strings.Contains(info, runtime.Version()) {
		t.Error("version info should contain the Go runtime version")
	}
}
