// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoUsesInjectedValues(t *testing.T) {
	saved := [...]string{GitCommit, GitDirty, BuildTime, Version}
	t.Cleanup(func() { GitCommit, GitDirty, BuildTime, Version = saved[0], saved[1], saved[2], saved[3] })

	GitCommit, GitDirty, BuildTime, Version = "abc1234", "true", "2026-05-04T09:00:00Z", "1.2.3"
	if got, want := Info(), "1.2.3 (abc1234-dirty, 2026-05-04T09:00:00Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	if Short() != "1.2.3" {
		t.Errorf("Short() = %q", Short())
	}
	if full := Full(); !strings.HasPrefix(full, Info()) || !strings.Contains(full, "Go: ") {
		t.Errorf("Full() = %q", full)
	}
}
