// Package oauth drives the PKCE authorization flow and keeps access
// tokens fresh.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
	redisstore "github.com/MrSnakeDoc/bookmirror/internal/store/redis"
)

const (
	defaultSkew       = 5 * time.Minute
	defaultPendingTTL = 10 * time.Minute
	defaultLockTTL    = 30 * time.Second
	lockPollInterval  = 50 * time.Millisecond
	stateBytes        = 32
)

var errLockTimeout = errors.New("timed out waiting for refresh lock")

// TokenStore persists credentials and authorization sessions.
type TokenStore interface {
	Get(ctx context.Context, userID string) (*domain.Credential, error)
	Save(ctx context.Context, cred *domain.Credential) error
	Delete(ctx context.Context, userID string) error
	MarkRevoked(ctx context.Context, userID string) error
	IsExpiringSoon(cred *domain.Credential, skew time.Duration) bool

	SavePending(ctx context.Context, p *domain.PendingAuthorization, ttl time.Duration) error
	TakePending(ctx context.Context, sessionID string) (*domain.PendingAuthorization, error)

	LastSync(ctx context.Context, userID string) (time.Time, bool, error)
	ClearLastSync(ctx context.Context, userID string) error

	AcquireRefreshLock(ctx context.Context, userID string, ttl time.Duration) (string, bool, error)
	ReleaseRefreshLock(ctx context.Context, userID, token string) error
}

// IdentityResolver finds out which remote account a token belongs to.
type IdentityResolver interface {
	Me(ctx context.Context, token string) (domain.RemoteUser, error)
}

// Config holds the OAuth client registration and timing knobs.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string

	// TokenSkew is how long before expiry a token is refreshed.
	TokenSkew      time.Duration
	PendingTTL     time.Duration
	RefreshLockTTL time.Duration

	// HTTPClient is used for token requests. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// AuthStart is what the caller needs to send the user to the provider.
type AuthStart struct {
	AuthorizationURL string `json:"authorizationUrl"`
	SessionID        string `json:"sessionId"`
}

// Status summarizes a user's connection.
type Status struct {
	Connected bool       `json:"connected"`
	Username  string     `json:"username,omitempty"`
	LastSync  *time.Time `json:"lastSync,omitempty"`
}

// Authenticator owns the credential lifecycle of one platform.
type Authenticator struct {
	oauth      *oauth2.Config
	store      TokenStore
	identity   IdentityResolver
	httpClient *http.Client
	skew       time.Duration
	pendingTTL time.Duration
	lockTTL    time.Duration
	log        logger.Logger

	refreshes singleflight.Group
}

// New creates an Authenticator
func New(cfg Config, store TokenStore, identity IdentityResolver, log logger.Logger) *Authenticator {
	a := &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		store:      store,
		identity:   identity,
		httpClient: cfg.HTTPClient,
		skew:       cfg.TokenSkew,
		pendingTTL: cfg.PendingTTL,
		lockTTL:    cfg.RefreshLockTTL,
		log:        log.Named("oauth"),
	}
	if a.skew <= 0 {
		a.skew = defaultSkew
	}
	if a.pendingTTL <= 0 {
		a.pendingTTL = defaultPendingTTL
	}
	if a.lockTTL <= 0 {
		a.lockTTL = defaultLockTTL
	}
	return a
}

// StartAuthorization begins a new PKCE flow for userID. Any stored
// credential is dropped first, so an abandoned flow leaves the user
// disconnected rather than half-connected.
func (a *Authenticator) StartAuthorization(ctx context.Context, userID string) (AuthStart, error) {
	if err := a.store.Delete(ctx, userID); err != nil {
		return AuthStart{}, err
	}

	state, err := randomState()
	if err != nil {
		return AuthStart{}, err
	}
	pending := &domain.PendingAuthorization{
		SessionID:    uuid.NewString(),
		UserID:       userID,
		State:        state,
		CodeVerifier: oauth2.GenerateVerifier(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SavePending(ctx, pending, a.pendingTTL); err != nil {
		return AuthStart{}, err
	}

	a.log.Info("authorization started", logger.UserID(userID))
	return AuthStart{
		AuthorizationURL: a.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(pending.CodeVerifier)),
		SessionID:        pending.SessionID,
	}, nil
}

// CompleteAuthorization consumes the session, exchanges the code and stores
// the resulting credential. It returns the remote username.
func (a *Authenticator) CompleteAuthorization(ctx context.Context, userID, code, state, sessionID string) (string, error) {
	pending, err := a.store.TakePending(ctx, sessionID)
	if err != nil {
		if errors.Is(err, redisstore.ErrPendingNotFound) {
			return "", &domain.AuthenticationError{Reason: domain.ReasonStateMismatch, Err: err}
		}
		return "", err
	}
	if pending.UserID != userID || subtle.ConstantTimeCompare([]byte(pending.State), []byte(state)) != 1 {
		a.log.Warn("state mismatch on callback", logger.UserID(userID))
		return "", &domain.AuthenticationError{Reason: domain.ReasonStateMismatch}
	}

	tok, err := a.oauth.Exchange(a.clientContext(ctx), code, oauth2.VerifierOption(pending.CodeVerifier))
	if err != nil {
		return "", &domain.AuthenticationError{Reason: domain.ReasonCodeExchangeFailed, Err: err}
	}

	me, err := a.identity.Me(ctx, tok.AccessToken)
	if err != nil {
		return "", &domain.AuthenticationError{Reason: domain.ReasonIdentityLookup, Err: err}
	}

	cred := &domain.Credential{
		UserID:         userID,
		RemoteUserID:   me.ID,
		RemoteUsername: me.Username,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		ExpiresAt:      tok.Expiry,
	}
	if err := a.store.Save(ctx, cred); err != nil {
		return "", err
	}

	a.log.Info("account connected", logger.UserID(userID), logger.String("username", me.Username))
	return me.Username, nil
}

// EnsureFreshToken returns a credential whose access token is usable for at
// least the configured skew, refreshing it when needed.
func (a *Authenticator) EnsureFreshToken(ctx context.Context, userID string) (*domain.Credential, error) {
	cred, err := a.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !a.store.IsExpiringSoon(cred, a.skew) {
		return cred, nil
	}

	return a.coalesce(ctx, userID, userID, func(c *domain.Credential) bool {
		return a.store.IsExpiringSoon(c, a.skew)
	})
}

// ForceRefresh replaces an access token the platform rejected before its
// recorded expiry. If a concurrent caller already replaced it, that
// credential is returned without another refresh.
func (a *Authenticator) ForceRefresh(ctx context.Context, userID, rejectedToken string) (*domain.Credential, error) {
	return a.coalesce(ctx, "rejected:"+userID, userID, func(c *domain.Credential) bool {
		return c.AccessToken == rejectedToken || a.store.IsExpiringSoon(c, a.skew)
	})
}

// coalesce runs one refresh per key in this process.
func (a *Authenticator) coalesce(ctx context.Context, key, userID string, stale func(*domain.Credential) bool) (*domain.Credential, error) {
	v, err, shared := a.refreshes.Do(key, func() (any, error) {
		return a.refresh(ctx, userID, stale)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		a.log.Debug("refresh shared with concurrent caller", logger.UserID(userID))
	}
	return v.(*domain.Credential), nil
}

// MarkRevoked flags the credential after the platform rejected it.
func (a *Authenticator) MarkRevoked(ctx context.Context, userID string) error {
	a.log.Warn("credential revoked", logger.UserID(userID))
	return a.store.MarkRevoked(ctx, userID)
}

// Disconnect forgets the user's credential and sync history.
func (a *Authenticator) Disconnect(ctx context.Context, userID string) error {
	err := multierr.Append(
		a.store.Delete(ctx, userID),
		a.store.ClearLastSync(ctx, userID),
	)
	if err == nil {
		a.log.Info("account disconnected", logger.UserID(userID))
	}
	return err
}

// Status reports whether the user has a usable credential.
func (a *Authenticator) Status(ctx context.Context, userID string) (Status, error) {
	cred, err := a.load(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			return Status{}, nil
		}
		return Status{}, err
	}

	st := Status{Connected: true, Username: cred.RemoteUsername}
	at, ok, err := a.store.LastSync(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if ok {
		st.LastSync = &at
	}
	return st, nil
}

// load returns the stored credential, mapping missing and revoked ones to
// domain.ErrAuthExpired.
func (a *Authenticator) load(ctx context.Context, userID string) (*domain.Credential, error) {
	cred, err := a.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return nil, domain.ErrAuthExpired
		}
		return nil, err
	}
	if cred.Revoked {
		return nil, domain.ErrAuthExpired
	}
	return cred, nil
}

// refresh runs under the per-user lock shared with other processes. The
// credential is re-read once the lock is held: a refresh finished by
// another holder is reused instead of spending the refresh token twice.
// When the lock cannot be had in time, the stored credential is used if it
// is no longer stale.
func (a *Authenticator) refresh(ctx context.Context, userID string, stale func(*domain.Credential) bool) (*domain.Credential, error) {
	release, err := a.lock(ctx, userID)
	if errors.Is(err, errLockTimeout) {
		cred, lerr := a.load(ctx, userID)
		if lerr != nil {
			return nil, lerr
		}
		if !stale(cred) {
			return cred, nil
		}
		return nil, fmt.Errorf("refresh of user %s: %w", userID, err)
	}
	if err != nil {
		return nil, err
	}
	defer release()

	cred, err := a.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !stale(cred) {
		return cred, nil
	}

	src := a.oauth.TokenSource(a.clientContext(ctx), &oauth2.Token{
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		if isRejected(err) {
			if rerr := a.store.MarkRevoked(ctx, userID); rerr != nil {
				a.log.Error("failed to mark credential revoked", logger.UserID(userID), logger.Error(rerr))
			}
			a.log.Warn("refresh rejected", logger.UserID(userID), logger.Error(err))
			return nil, domain.ErrAuthExpired
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	cred.ExpiresAt = tok.Expiry
	if err := a.store.Save(ctx, cred); err != nil {
		return nil, err
	}

	a.log.Info("token refreshed", logger.UserID(userID), logger.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}

// lock waits for the user's refresh lock. If the holder neither releases
// nor lets it expire within the lock ttl, it returns errLockTimeout.
func (a *Authenticator) lock(ctx context.Context, userID string) (func(), error) {
	deadline := time.Now().Add(a.lockTTL)
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		token, ok, err := a.store.AcquireRefreshLock(ctx, userID, a.lockTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := a.store.ReleaseRefreshLock(context.WithoutCancel(ctx), userID, token); err != nil {
					a.log.Warn("failed to release refresh lock", logger.UserID(userID), logger.Error(err))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, errLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Authenticator) clientContext(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// isRejected reports whether the token endpoint refused the refresh token,
// as opposed to a transport failure worth retrying later.
func isRejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.Response == nil {
		return re.ErrorCode != ""
	}
	return re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized
}

func randomState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
