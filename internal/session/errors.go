package session

import "fmt"

// AuthStorageError means the account's stored cookie bundle is unusable.
type AuthStorageError struct {
	AccountID uint64
	Err       error
}

func (e *AuthStorageError) Error() string {
	return fmt.Sprintf("account %d: invalid stored session: %v", e.AccountID, e.Err)
}

func (e *AuthStorageError) Unwrap() error { return e.Err }

// SessionError means no strategy could resolve a session id.
type SessionError struct {
	AccountID uint64
	Err       error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("account %d: could not determine session id, refresh the stored cookies", e.AccountID)
	}
	return fmt.Sprintf("account %d: could not determine session id: %v", e.AccountID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// TokenMintError means the auth provider refused to exchange a session id for a token.
type TokenMintError struct {
	SessionID  string
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenMintError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mint token for %s: status %d: %s", e.SessionID, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("mint token for %s: %v", e.SessionID, e.Err)
}

func (e *TokenMintError) Unwrap() error { return e.Err }
