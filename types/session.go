package types

// SessionManager persists the current credential pair and the identity
// claims derived from the access token payload. Claims are extracted
// without signature verification; a token whose payload cannot be parsed
// well enough to determine expiry is rejected with ErrSession and nothing
// is persisted.
type SessionManager interface {
	LifecycleManager
	Save(accessToken, refreshToken string) error
	CurrentToken() (string, bool)
	CurrentRefreshToken() (string, bool)
	IsValid() bool
	Identity() (*Identity, bool)
	Clear() error
	CheckCellCredential(secret string) error
}
