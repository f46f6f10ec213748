package service

import "testing"

func TestSecuritySanitizeEnvKeepsPathDropsSensitive(t *testing.T) {
	sc := NewSecurityChecker()
	env := sc.SanitizeEnv()

	hasPath := false
	for _, e := range env {
		if len(e) >= 5 && e[:5] == "PATH=" {
			hasPath = true
		}
		for _, prefix := range []string{"AWS_", "GITHUB_", "SSH_", "GPG_", "SECRET"} {
			if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
				t.Errorf("leaked sensitive env var: %s", e)
			}
		}
	}
	if !hasPath {
		t.Error("sanitized env missing PATH")
	}
}

func TestSecurityVerifyBinaryRejectsDisallowedDirectory(t *testing.T) {
	sc := NewSecurityChecker()
	if err := sc.VerifyBinary("/tmp/geopmd-helper"); err == nil {
		t.Error("expected error for a binary outside the allowed directories")
	}
}

func TestSecurityResolveNonexistentBinary(t *testing.T) {
	sc := NewSecurityChecker()
	if _, err := sc.ResolveBinary("geopmd-helper-does-not-exist"); err == nil {
		t.Error("expected error for a nonexistent binary")
	}
}

func TestPeerLauncherAvailableFalseForUnresolvableBinary(t *testing.T) {
	l := NewPeerLauncher()
	if l.Available("geopmd-helper-does-not-exist") {
		t.Error("expected Available to be false for a binary that cannot be resolved")
	}
}
