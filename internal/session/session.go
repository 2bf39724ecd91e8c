// Package session binds an authenticated principal to its role-scoped
// profile document. On every principal change the previous profile
// listener is torn down before the next one opens, so at most one
// listener ever writes session state.
package session

import (
	"context"
	stderrors "errors"
	"sync"

	"jobmarket-sync/internal/auth"
	"jobmarket-sync/internal/common/errors"
	"jobmarket-sync/internal/common/logger"
	"jobmarket-sync/internal/docstore"
	"jobmarket-sync/internal/models"
)

// IdentityListener is notified when the resolved identity changes:
// sign-out delivers (nil, ""), a resolved profile delivers the principal
// and its role.
type IdentityListener func(principal *auth.Principal, role models.Role)

// Session maintains {principal, profile, role, loading}. Loading means
// "session not yet resolved": sign-in flips it on, and only the profile
// subscription's first emission flips it off.
type Session struct {
	store         docstore.Store
	authenticator auth.Authenticator
	logger        logger.Logger

	mu        sync.Mutex
	principal *auth.Principal
	profile   *models.Profile
	role      models.Role
	loading   bool

	profileSub *docstore.DocSubscription
	stop       chan struct{}
	generation int

	listeners    map[int]IdentityListener
	nextListener int
}

func New(store docstore.Store, authenticator auth.Authenticator, log logger.Logger) *Session {
	return &Session{
		store:         store,
		authenticator: authenticator,
		logger:        log.WithFields(map[string]interface{}{"component": "session"}),
		listeners:     make(map[int]IdentityListener),
	}
}

// SignIn authenticates and binds the principal. It resolves when the
// auth step completes; the profile subscription drives loading=false.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	if err := auth.ValidateEmail(email); err != nil {
		return err
	}

	principal, err := s.authenticator.SignIn(ctx, email, password)
	if err != nil {
		s.logger.Warn("sign-in failed", map[string]interface{}{
			"email": email,
			"error": err.Error(),
		})
		return err
	}

	s.logger.Info("signed in", map[string]interface{}{"principalId": principal.ID})
	s.bindPrincipal(ctx, &principal)
	return nil
}

// SignUp creates the authentication principal and then the profile
// document. The two writes have no atomicity: a failed profile write is
// retried once, and a persistent failure surfaces as a domain error
// while the principal stays bound so a later retry can reconcile.
func (s *Session) SignUp(ctx context.Context, email, password, name string, role models.Role) error {
	if err := auth.ValidateEmail(email); err != nil {
		return err
	}
	if !role.Valid() {
		return errors.NewValidationFailedError("role must be candidate or employer")
	}

	principal, err := s.authenticator.SignUp(ctx, email, password)
	if err != nil {
		return err
	}

	profileDoc := docstore.Document{
		"id":              principal.ID,
		"name":            name,
		"email":           email,
		"role":            string(role),
		"profileComplete": false,
		"createdAt":       docstore.ServerTimestamp,
		"updatedAt":       docstore.ServerTimestamp,
	}

	err = s.store.Create(ctx, docstore.CollectionUsers, principal.ID, profileDoc)
	if err != nil {
		s.logger.Warn("profile create failed, retrying", map[string]interface{}{
			"principalId": principal.ID,
			"error":       err.Error(),
		})
		err = s.store.Create(ctx, docstore.CollectionUsers, principal.ID, profileDoc)
	}
	if err != nil && !stderrors.Is(err, docstore.ErrExists) {
		// Orphaned principal: account exists with no profile document.
		s.bindPrincipal(ctx, &principal)
		return errors.NewProfileCreateFailedError(principal.ID, err)
	}

	s.logger.Info("signed up", map[string]interface{}{
		"principalId": principal.ID,
		"role":        string(role),
	})
	s.bindPrincipal(ctx, &principal)
	return nil
}

// Logout releases the principal and tears down the profile listener.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	principal := s.principal
	s.mu.Unlock()

	if principal != nil {
		if err := s.authenticator.SignOut(ctx, principal.ID); err != nil {
			return err
		}
		s.logger.Info("signed out", map[string]interface{}{"principalId": principal.ID})
	}

	s.bindPrincipal(ctx, nil)
	return nil
}

// UpdateProfile merges partial fields into the profile document. The id
// and role are immutable; attempts to change them are rejected before
// any remote write.
func (s *Session) UpdateProfile(ctx context.Context, updates map[string]interface{}) error {
	s.mu.Lock()
	principal := s.principal
	s.mu.Unlock()

	if principal == nil {
		return errors.NewPermissionDeniedError("updateProfile", "anonymous")
	}
	if _, ok := updates["role"]; ok {
		return errors.NewPermissionDeniedError("updateProfile.role", "owner")
	}
	if _, ok := updates["id"]; ok {
		return errors.NewPermissionDeniedError("updateProfile.id", "owner")
	}

	doc := docstore.Document{}
	for k, v := range updates {
		doc[k] = v
	}
	doc["updatedAt"] = docstore.ServerTimestamp

	if err := s.store.Set(ctx, docstore.CollectionUsers, principal.ID, doc, true); err != nil {
		return errors.NewStoreUnavailableError(err)
	}
	return nil
}

func (s *Session) Principal() *auth.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

func (s *Session) Profile() *models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *Session) Role() models.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// OnIdentityChange registers a listener and returns its cancel func.
func (s *Session) OnIdentityChange(fn IdentityListener) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close tears down the session's listener. The store itself is owned by
// the caller.
func (s *Session) Close() {
	s.bindPrincipal(context.Background(), nil)
}

// bindPrincipal is the single sequencing point: release the previous
// profile subscription completely, then install the new principal and
// open its listener.
func (s *Session) bindPrincipal(ctx context.Context, principal *auth.Principal) {
	s.mu.Lock()

	// Invalidate any in-flight listener before anything else. The
	// generation check below keeps a straggler from writing state.
	s.generation++
	gen := s.generation
	if s.profileSub != nil {
		s.profileSub.Close()
		close(s.stop)
		s.profileSub = nil
		s.stop = nil
	}

	s.principal = principal
	s.profile = nil
	s.role = ""

	if principal == nil {
		s.loading = false
		listeners := s.snapshotListenersLocked()
		s.mu.Unlock()
		for _, fn := range listeners {
			fn(nil, "")
		}
		return
	}

	s.loading = true
	s.mu.Unlock()

	sub, err := s.store.SubscribeDoc(ctx, docstore.CollectionUsers, principal.ID)
	if err != nil {
		s.logger.Error("profile subscription failed", map[string]interface{}{
			"principalId": principal.ID,
			"error":       err.Error(),
		})
		s.mu.Lock()
		if s.generation == gen {
			s.loading = false
		}
		s.mu.Unlock()
		return
	}

	stop := make(chan struct{})
	s.mu.Lock()
	if s.generation != gen {
		// A newer bind raced us; this subscription is already stale.
		s.mu.Unlock()
		sub.Close()
		return
	}
	s.profileSub = sub
	s.stop = stop
	s.mu.Unlock()

	go s.consumeProfile(principal, sub, stop, gen)
}

func (s *Session) consumeProfile(principal *auth.Principal, sub *docstore.DocSubscription, stop chan struct{}, gen int) {
	for {
		select {
		case <-stop:
			return
		case snap := <-sub.Updates():
			s.applyProfileSnapshot(principal, snap, gen)
		case err := <-sub.Err():
			s.logger.Error("profile listener failed", map[string]interface{}{
				"principalId": principal.ID,
				"error":       err.Error(),
			})
			// The role is no longer resolvable; dependents must drop
			// the stale scope, same as a role change would make them.
			s.mu.Lock()
			var listeners []IdentityListener
			if s.generation == gen {
				roleChanged := s.role != ""
				s.profile = nil
				s.role = ""
				s.loading = false
				if roleChanged {
					listeners = s.snapshotListenersLocked()
				}
			}
			s.mu.Unlock()
			for _, fn := range listeners {
				fn(principal, "")
			}
			return
		}
	}
}

func (s *Session) applyProfileSnapshot(principal *auth.Principal, snap docstore.DocSnapshot, gen int) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}

	roleChanged := false
	if snap.Exists {
		profile := models.ProfileFromDocument(principal.ID, snap.Data)
		roleChanged = s.role != profile.Role
		s.profile = &profile
		s.role = profile.Role
	} else {
		// Document not written yet (registration in flight); keep
		// waiting, the next emission will carry it.
		roleChanged = s.role != ""
		s.profile = nil
		s.role = ""
	}
	s.loading = false

	var listeners []IdentityListener
	role := s.role
	if roleChanged {
		listeners = s.snapshotListenersLocked()
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(principal, role)
	}
}

func (s *Session) snapshotListenersLocked() []IdentityListener {
	out := make([]IdentityListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}
