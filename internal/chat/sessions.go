package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bearbait/forestchat/internal/store"
)

var (
	// ErrInvalidCredentials is the single rejection for any authentication
	// failure. It deliberately does not distinguish an unknown username from
	// a wrong password.
	ErrInvalidCredentials = errors.New("chat: invalid username or password")

	// ErrInvalidSession rejects a missing, mismatched, or expired token.
	ErrInvalidSession = errors.New("chat: invalid or expired session")
)

// Authority owns the durable session records and enforces at most one live
// session per account. A new login supersedes and evicts any earlier one.
type Authority struct {
	store    *store.Store
	registry *Registry
	presence *Broadcaster
	maxAge   time.Duration
	log      *zap.Logger
}

// NewAuthority wires the session authority over the durable store and the
// live registry. maxAge bounds how long an idle session stays valid.
func NewAuthority(st *store.Store, registry *Registry, presence *Broadcaster, maxAge time.Duration, log *zap.Logger) *Authority {
	return &Authority{
		store:    st,
		registry: registry,
		presence: presence,
		maxAge:   maxAge,
		log:      log,
	}
}

// Authenticate checks a username/password pair. Every failure surfaces as
// ErrInvalidCredentials; no session is issued here.
func (a *Authority) Authenticate(ctx context.Context, username, password string) (*store.Account, error) {
	acct, ok, err := a.store.CheckCredentials(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return acct, nil
}

// Open issues a fresh session for the account. Inside one transaction every
// earlier session record is invalidated and the new one inserted; only after
// the commit does each superseded bound connection receive its unicast
// forced-logout and get evicted from the registry. That ordering leaves no
// window with two valid sessions.
func (a *Authority) Open(ctx context.Context, account *store.Account) (*store.Session, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	created, invalidated, err := a.store.ReplaceSessions(ctx, account.ID, token)
	if err != nil {
		a.log.Error("opening session failed", zap.String("username", account.Username), zap.Error(err))
		return nil, err
	}

	evictedAny := false
	for _, old := range invalidated {
		if old.ConnectionID == "" {
			continue
		}
		entry, ok := a.registry.Lookup(old.ConnectionID)
		if !ok || entry.AccountID != account.ID {
			continue
		}
		a.presence.SendForcedLogout(entry)
		entry.Kick()
		a.registry.Unregister(entry.ConnID)
		evictedAny = true
		a.log.Info("superseded connection evicted",
			zap.String("username", account.Username),
			zap.String("conn_id", entry.ConnID))
	}
	if evictedAny {
		a.presence.BroadcastRoster()
	}

	return created, nil
}

// Validate resolves an opaque token to its session and account. It is a
// pure read: the record must exist and be younger than the max idle age.
func (a *Authority) Validate(ctx context.Context, token string) (*store.Session, *store.Account, error) {
	if token == "" {
		return nil, nil, ErrInvalidSession
	}

	sess, err := a.store.SessionByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidSession
	}
	if err != nil {
		return nil, nil, err
	}
	if time.Since(sess.LastActive) > a.maxAge {
		return nil, nil, ErrInvalidSession
	}

	acct, err := a.store.AccountByID(ctx, sess.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidSession
	}
	if err != nil {
		return nil, nil, err
	}
	return sess, acct, nil
}

// Connect registers a validated live connection: the session is bound to the
// connection id, the registry entry is created (silently replacing any stale
// connection of the same account), and the new roster is announced. A login
// that supersedes the session mid-connect fails the connect with
// ErrInvalidSession instead of leaving a sessionless connection behind.
func (a *Authority) Connect(ctx context.Context, token string, conn Conn) (*store.Account, error) {
	sess, acct, err := a.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	if stale := a.registry.Register(conn, acct.ID, acct.Username, IconPath(acct.IconName)); stale != nil {
		stale.Kick()
	}

	if err := a.store.BindConnection(ctx, sess.Token, conn.ID()); err != nil {
		// A superseding login can delete the session between validation and
		// the bind; the connection must not stay registered without a
		// backing session.
		if entry, ok := a.registry.Unregister(conn.ID()); ok {
			entry.Kick()
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		a.log.Error("binding connection to session failed",
			zap.String("username", acct.Username), zap.Error(err))
		return nil, err
	}

	a.presence.BroadcastRoster()
	return acct, nil
}

// Disconnect removes a live connection from the registry, unbinds its
// session, and announces the shrunken roster. It is idempotent: once the
// connection has already been evicted it does nothing, so an eviction racing
// a voluntary disconnect never produces a duplicate broadcast.
func (a *Authority) Disconnect(ctx context.Context, connID string) {
	entry, ok := a.registry.Unregister(connID)
	if !ok {
		return
	}

	if err := a.store.UnbindConnection(ctx, connID); err != nil {
		a.log.Warn("unbinding connection failed", zap.String("conn_id", connID), zap.Error(err))
	}
	if err := a.store.UpdateLastSeen(ctx, entry.AccountID, time.Now()); err != nil {
		a.log.Warn("updating last seen failed", zap.String("username", entry.Username), zap.Error(err))
	}

	a.presence.BroadcastRoster()
}

// Close deletes the session for a voluntary logout. A bound connection is
// dropped from the registry and closed without a forced-logout signal,
// distinguishing logout from eviction.
func (a *Authority) Close(ctx context.Context, token string) error {
	sess, err := a.store.DeleteSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if sess.ConnectionID != "" {
		if entry, ok := a.registry.Unregister(sess.ConnectionID); ok {
			entry.Kick()
			a.presence.BroadcastRoster()
		}
	}
	return nil
}

// Sweep deletes sessions idle longer than the max age and evicts any
// connections still bound to them.
func (a *Authority) Sweep(ctx context.Context) {
	expired, err := a.store.DeleteExpiredSessions(ctx, time.Now().Add(-a.maxAge))
	if err != nil {
		a.log.Error("session sweep failed", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	evictedAny := false
	for _, sess := range expired {
		if sess.ConnectionID == "" {
			continue
		}
		if entry, ok := a.registry.Unregister(sess.ConnectionID); ok {
			entry.Kick()
			evictedAny = true
		}
	}
	if evictedAny {
		a.presence.BroadcastRoster()
	}

	a.log.Info("session sweep removed expired sessions", zap.Int("count", len(expired)))
}

// RunSweeper runs Sweep at the given interval until ctx is cancelled. It is
// background work independent of request handling.
func (a *Authority) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

func newSessionToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
