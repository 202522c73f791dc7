package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/logger"
	"github.com/hivedb-io/hivesync/session"
	"github.com/hivedb-io/hivesync/types"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-side-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	return token
}

func accessToken(t *testing.T, subject string, expiresIn time.Duration) string {
	return signToken(t, jwt.MapClaims{
		"sub":      subject,
		"username": "tester",
		"email":    "tester@example.com",
		"exp":      jwt.NewNumericDate(time.Now().Add(expiresIn)),
	})
}

func newSessionManager(t *testing.T, config *types.SessionConfig) types.SessionManager {
	t.Helper()

	m, err := session.NewManager(context.Background(), logger.NewZapWrapper(zap.NewNop()), config)
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("failed to start session manager: %v", err)
	}

	t.Cleanup(func() {
		if m.IsRunning() {
			m.Stop()
		}
	})

	return m
}

func TestSaveAndReadBack(t *testing.T) {
	m := newSessionManager(t, &types.SessionConfig{Dir: t.TempDir()})

	token := accessToken(t, "42", time.Hour)
	if err := m.Save(token, "refresh-token"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	current, ok := m.CurrentToken()
	if !ok || current != token {
		t.Fatalf("expected stored access token back, got ok=%v", ok)
	}

	refresh, ok := m.CurrentRefreshToken()
	if !ok || refresh != "refresh-token" {
		t.Fatalf("expected stored refresh token back, got ok=%v", ok)
	}

	if !m.IsValid() {
		t.Fatal("session with future expiry must be valid")
	}

	identity, ok := m.Identity()
	if !ok {
		t.Fatal("expected an identity")
	}
	if identity.Subject != "42" || identity.Username != "tester" || identity.Email != "tester@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestSaveRejectsMalformedToken(t *testing.T) {
	m := newSessionManager(t, &types.SessionConfig{Dir: t.TempDir()})

	err := m.Save("definitely-not-a-jwt", "")
	if !types.IsError(err, types.ErrSession) {
		t.Fatalf("expected ErrSession, got %v", err)
	}

	if _, ok := m.CurrentToken(); ok {
		t.Fatal("nothing must be persisted after a rejected save")
	}
}

func TestSaveRejectsTokenWithoutExpiry(t *testing.T) {
	m := newSessionManager(t, &types.SessionConfig{Dir: t.TempDir()})

	token := signToken(t, jwt.MapClaims{"sub": "42"})

	err := m.Save(token, "")
	if !types.IsError(err, types.ErrSession) {
		t.Fatalf("expected ErrSession for missing exp, got %v", err)
	}
}

func TestExpiredSessionIsInvalid(t *testing.T) {
	m := newSessionManager(t, &types.SessionConfig{Dir: t.TempDir()})

	token := accessToken(t, "42", -time.Minute)
	if err := m.Save(token, ""); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if m.IsValid() {
		t.Fatal("session with past expiry must be invalid")
	}
}

func TestClearRemovesSession(t *testing.T) {
	m := newSessionManager(t, &types.SessionConfig{Dir: t.TempDir()})

	if err := m.Save(accessToken(t, "42", time.Hour), "refresh"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if _, ok := m.CurrentToken(); ok {
		t.Fatal("token must be gone after clear")
	}
	if m.IsValid() {
		t.Fatal("cleared session must be invalid")
	}
	if _, ok := m.Identity(); ok {
		t.Fatal("identity must be gone after clear")
	}
}

func TestMissingRefreshTokenReported(t *testing.T) {
	m := newSessionManager(t, &types.SessionConfig{Dir: t.TempDir()})

	if err := m.Save(accessToken(t, "42", time.Hour), ""); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if _, ok := m.CurrentRefreshToken(); ok {
		t.Fatal("expected no refresh token")
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	token := accessToken(t, "42", time.Hour)

	m := newSessionManager(t, &types.SessionConfig{Dir: dir})
	if err := m.Save(token, "refresh"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	reopened := newSessionManager(t, &types.SessionConfig{Dir: dir})

	current, ok := reopened.CurrentToken()
	if !ok || current != token {
		t.Fatal("expected session to be restored after restart")
	}

	refresh, ok := reopened.CurrentRefreshToken()
	if !ok || refresh != "refresh" {
		t.Fatal("expected refresh token to be restored after restart")
	}

	identity, ok := reopened.Identity()
	if !ok || identity.Subject != "42" {
		t.Fatalf("expected identity to be re-derived, got %+v", identity)
	}
}

func TestSealedSessionSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	token := accessToken(t, "42", time.Hour)

	m := newSessionManager(t, &types.SessionConfig{Dir: dir, Passphrase: "correct horse"})
	if err := m.Save(token, "refresh"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	reopened := newSessionManager(t, &types.SessionConfig{Dir: dir, Passphrase: "correct horse"})

	current, ok := reopened.CurrentToken()
	if !ok || current != token {
		t.Fatal("expected sealed session to unseal with the right passphrase")
	}
}

func TestSealedSessionDroppedWithoutPassphrase(t *testing.T) {
	dir := t.TempDir()

	m := newSessionManager(t, &types.SessionConfig{Dir: dir, Passphrase: "correct horse"})
	if err := m.Save(accessToken(t, "42", time.Hour), ""); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	reopened := newSessionManager(t, &types.SessionConfig{Dir: dir})

	if _, ok := reopened.CurrentToken(); ok {
		t.Fatal("sealed record must be dropped when no passphrase is configured")
	}
}

func TestSealedSessionDroppedOnWrongPassphrase(t *testing.T) {
	dir := t.TempDir()

	m := newSessionManager(t, &types.SessionConfig{Dir: dir, Passphrase: "correct horse"})
	if err := m.Save(accessToken(t, "42", time.Hour), ""); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	reopened := newSessionManager(t, &types.SessionConfig{Dir: dir, Passphrase: "battery staple"})

	if _, ok := reopened.CurrentToken(); ok {
		t.Fatal("record sealed under another passphrase must be dropped")
	}
}

func TestSaveReplacesPreviousSession(t *testing.T) {
	m := newSessionManager(t, &types.SessionConfig{Dir: t.TempDir()})

	first := accessToken(t, "42", time.Hour)
	second := signToken(t, jwt.MapClaims{
		"sub": "43",
		"exp": jwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
	})

	if err := m.Save(first, "r1"); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := m.Save(second, "r2"); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	current, _ := m.CurrentToken()
	if current != second {
		t.Fatal("second save must replace the first session")
	}

	identity, _ := m.Identity()
	if identity.Subject != "43" {
		t.Fatalf("identity not replaced: %+v", identity)
	}
	if identity.Username != "43" {
		t.Fatalf("username should fall back to subject, got %q", identity.Username)
	}
}

func TestCheckCellCredentialRecordsAndVerifies(t *testing.T) {
	dir := t.TempDir()
	m := newSessionManager(t, &types.SessionConfig{Dir: dir})

	if err := m.CheckCellCredential("cell-secret"); err != nil {
		t.Fatalf("first check must record the credential: %v", err)
	}
	if err := m.CheckCellCredential("cell-secret"); err != nil {
		t.Fatalf("same secret must verify: %v", err)
	}

	if err := m.CheckCellCredential("different-secret"); !types.IsError(err, types.ErrCellSecretMismatch) {
		t.Fatalf("expected ErrCellSecretMismatch, got %v", err)
	}

	// The digest survives a restart on the same directory.
	m.Stop()
	restarted := newSessionManager(t, &types.SessionConfig{Dir: dir})

	if err := restarted.CheckCellCredential("cell-secret"); err != nil {
		t.Fatalf("recorded credential must verify after restart: %v", err)
	}
	if err := restarted.CheckCellCredential("different-secret"); !types.IsError(err, types.ErrCellSecretMismatch) {
		t.Fatalf("expected ErrCellSecretMismatch after restart, got %v", err)
	}
}
