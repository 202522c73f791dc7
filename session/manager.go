package session

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/hivedb-io/hivesync/types"
	"github.com/hivedb-io/hivesync/utils"
)

type SessionState int32

const (
	SessionStateStopped SessionState = iota
	SessionStateStarting
	SessionStateRunning
	SessionStateStopping
)

const (
	sessionCollection    = "sessions"
	credentialCollection = "credentials"
)

// Manager holds the current credential pair in memory and mirrors it into
// a clover collection so a restarted process resumes the same session.
// With a passphrase configured, tokens are sealed with AES-GCM under a
// PBKDF2 key and a fresh salt per record; without one they are stored as
// plain text.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	config  *types.SessionConfig
	db      *clover.DB
	current *types.Session
	mu      sync.RWMutex
	state   atomic.Value
}

func NewManager(ctx context.Context, logger types.Logger, config *types.SessionConfig) (types.SessionManager, error) {
	sessionCtx, cancel := context.WithCancel(ctx)

	db, err := clover.Open(config.Dir)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to open session store")
	}

	m := &Manager{
		ctx:    sessionCtx,
		cancel: cancel,
		logger: logger,
		config: config,
		db:     db,
	}

	m.state.Store(SessionStateStopped)

	return m, nil
}

func (m *Manager) Start() error {
	if !m.transitionState(SessionStateStopped, SessionStateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if m.getState() == SessionStateStarting {
			m.setState(SessionStateRunning)
		}
	}()

	for _, collection := range []string{sessionCollection, credentialCollection} {
		exists, err := m.db.HasCollection(collection)
		if err != nil {
			m.setState(SessionStateStopped)
			return types.WrapError(err, "failed to check collection "+collection)
		}

		if !exists {
			if err := m.db.CreateCollection(collection); err != nil {
				m.setState(SessionStateStopped)
				return types.WrapError(err, "failed to create collection "+collection)
			}
		}
	}

	if err := m.restore(); err != nil {
		m.logger.Warn("Failed to restore persisted session", zap.Error(err))
	}

	m.logger.Info("Session manager started", zap.String("dir", m.config.Dir))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(SessionStateRunning, SessionStateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		m.setState(SessionStateStopped)
		m.cancel()
	}()

	if err := m.db.Close(); err != nil {
		m.logger.Error("Failed to close session store", zap.Error(err))
		return types.WrapError(err, "failed to close session store")
	}

	m.logger.Info("Session manager stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == SessionStateRunning
}

func (m *Manager) Save(accessToken, refreshToken string) error {
	identity, expiresAt, err := ExtractClaims(accessToken)
	if err != nil {
		return err
	}

	session := &types.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Identity:     *identity,
	}

	if err := m.persist(session); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = session
	m.mu.Unlock()

	m.logger.Debug("Session saved",
		zap.String("subject", identity.Subject),
		zap.Time("expires_at", expiresAt))

	return nil
}

func (m *Manager) CurrentToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return "", false
	}

	return m.current.AccessToken, true
}

func (m *Manager) CurrentRefreshToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil || m.current.RefreshToken == "" {
		return "", false
	}

	return m.current.RefreshToken, true
}

func (m *Manager) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return false
	}

	return time.Now().Before(m.current.ExpiresAt)
}

func (m *Manager) Identity() (*types.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return nil, false
	}

	identity := m.current.Identity
	return &identity, true
}

func (m *Manager) Clear() error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	if err := m.db.Query(sessionCollection).Delete(); err != nil {
		return types.WrapError(err, "failed to clear persisted session")
	}

	m.logger.Debug("Session cleared")
	return nil
}

// CheckCellCredential compares the configured cell secret against the
// recorded credential digest. The first call records a fresh salted
// digest; later calls fail with ErrCellSecretMismatch when the secret
// changed, before any sealed value is written under the wrong key.
func (m *Manager) CheckCellCredential(secret string) error {
	doc, err := m.db.Query(credentialCollection).FindFirst()
	if err != nil {
		return types.WrapError(err, "failed to read cell credential")
	}

	if doc == nil {
		digest, err := utils.HashSecret(secret)
		if err != nil {
			return types.WrapError(err, "failed to digest cell secret")
		}

		record := clover.NewDocument()
		record.Set("digest", digest)
		record.Set("saved_at", time.Now().UnixMilli())

		if err := m.db.Insert(credentialCollection, record); err != nil {
			return types.WrapError(err, "failed to record cell credential")
		}

		m.logger.Debug("Cell credential recorded")
		return nil
	}

	digest, _ := doc.Get("digest").(string)
	if !utils.VerifySecret(secret, digest) {
		return types.ErrCellSecretMismatch
	}

	return nil
}

func (m *Manager) persist(session *types.Session) error {
	accessToken := session.AccessToken
	refreshToken := session.RefreshToken
	saltEncoded := ""

	if m.config.Passphrase != "" {
		salt, err := utils.NewSalt()
		if err != nil {
			return types.WrapError(err, "failed to generate salt")
		}

		key := utils.DeriveKey(m.config.Passphrase, salt)

		sealedAccess, err := utils.Encrypt([]byte(session.AccessToken), key)
		if err != nil {
			return types.WrapError(err, "failed to seal access token")
		}

		accessToken = base64.StdEncoding.EncodeToString(sealedAccess)
		saltEncoded = base64.StdEncoding.EncodeToString(salt)

		if session.RefreshToken != "" {
			sealedRefresh, err := utils.Encrypt([]byte(session.RefreshToken), key)
			if err != nil {
				return types.WrapError(err, "failed to seal refresh token")
			}
			refreshToken = base64.StdEncoding.EncodeToString(sealedRefresh)
		}
	}

	if err := m.db.Query(sessionCollection).Delete(); err != nil {
		return types.WrapError(err, "failed to remove previous session")
	}

	doc := clover.NewDocument()
	doc.Set("access_token", accessToken)
	doc.Set("refresh_token", refreshToken)
	doc.Set("salt", saltEncoded)
	doc.Set("expires_at", session.ExpiresAt.UnixMilli())
	doc.Set("saved_at", time.Now().UnixMilli())

	if err := m.db.Insert(sessionCollection, doc); err != nil {
		return types.WrapError(err, "failed to persist session")
	}

	return nil
}

// restore loads the persisted record, unseals the tokens when a salt is
// present, and re-derives identity claims from the access token. A record
// that cannot be unsealed (changed passphrase, corrupt payload) is
// dropped rather than surfaced.
func (m *Manager) restore() error {
	doc, err := m.db.Query(sessionCollection).FindFirst()
	if err != nil {
		return types.WrapError(err, "failed to read persisted session")
	}

	if doc == nil {
		return nil
	}

	accessToken, _ := doc.Get("access_token").(string)
	refreshToken, _ := doc.Get("refresh_token").(string)
	saltEncoded, _ := doc.Get("salt").(string)

	if saltEncoded != "" {
		if m.config.Passphrase == "" {
			m.logger.Warn("Persisted session is sealed but no passphrase is configured, dropping it")
			return m.db.Query(sessionCollection).Delete()
		}

		salt, err := base64.StdEncoding.DecodeString(saltEncoded)
		if err != nil {
			return m.dropCorrupt("invalid salt encoding", err)
		}

		key := utils.DeriveKey(m.config.Passphrase, salt)

		accessToken, err = m.unseal(accessToken, key)
		if err != nil {
			return m.dropCorrupt("failed to unseal access token", err)
		}

		if refreshToken != "" {
			refreshToken, err = m.unseal(refreshToken, key)
			if err != nil {
				return m.dropCorrupt("failed to unseal refresh token", err)
			}
		}
	}

	identity, expiresAt, err := ExtractClaims(accessToken)
	if err != nil {
		return m.dropCorrupt("persisted access token is not decodable", err)
	}

	m.mu.Lock()
	m.current = &types.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Identity:     *identity,
	}
	m.mu.Unlock()

	m.logger.Info("Restored persisted session",
		zap.String("subject", identity.Subject),
		zap.Time("expires_at", expiresAt))

	return nil
}

func (m *Manager) unseal(encoded string, key []byte) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	plain, err := utils.Decrypt(sealed, key)
	if err != nil {
		return "", err
	}

	return string(plain), nil
}

func (m *Manager) dropCorrupt(reason string, cause error) error {
	m.logger.Warn("Dropping persisted session", zap.String("reason", reason), zap.Error(cause))

	if err := m.db.Query(sessionCollection).Delete(); err != nil {
		return types.WrapError(err, "failed to drop persisted session")
	}

	return nil
}

func (m *Manager) getState() SessionState {
	return m.state.Load().(SessionState)
}

func (m *Manager) setState(newState SessionState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to SessionState) bool {
	return m.state.CompareAndSwap(from, to)
}
