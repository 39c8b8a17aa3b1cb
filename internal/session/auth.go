package session

import (
	"context"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/model"
)

type userAuth struct {
	api *api.UserAPI
}

// UserAuth signs in to the end-user cookie session.
func UserAuth(u *api.UserAPI) Authenticator {
	return &userAuth{api: u}
}

func (a *userAuth) Login(ctx context.Context, creds Credentials) (model.SessionInfo, error) {
	return a.api.Login(ctx, creds.Username, creds.Secret)
}

func (a *userAuth) Probe(ctx context.Context) (model.SessionInfo, error) {
	return a.api.Probe(ctx)
}

func (a *userAuth) Logout(ctx context.Context) error {
	return a.api.Logout(ctx)
}

type adminAuth struct {
	api *api.AdminAPI
}

// AdminAuth signs in to the administrator cookie session.
func AdminAuth(a *api.AdminAPI) Authenticator {
	return &adminAuth{api: a}
}

func (a *adminAuth) Login(ctx context.Context, creds Credentials) (model.SessionInfo, error) {
	return a.api.Login(ctx, creds.Secret)
}

func (a *adminAuth) Probe(ctx context.Context) (model.SessionInfo, error) {
	return a.api.Probe(ctx)
}

func (a *adminAuth) Logout(ctx context.Context) error {
	return a.api.Logout(ctx)
}

type secretAuth struct {
	api *api.AdminAPI
}

// SecretAuth authenticates every admin request with the shared secret
// instead of a cookie session. Login verifies the secret with one status
// read; logout only forgets it.
func SecretAuth(a *api.AdminAPI) Authenticator {
	return &secretAuth{api: a}
}

func (a *secretAuth) Login(ctx context.Context, creds Credentials) (model.SessionInfo, error) {
	c := a.api.Client()
	prev := c.Secret()
	c.SetSecret(creds.Secret)
	if _, err := a.api.Status(ctx); err != nil {
		c.SetSecret(prev)
		return model.SessionInfo{}, err
	}
	return model.SessionInfo{OK: true}, nil
}

func (a *secretAuth) Probe(ctx context.Context) (model.SessionInfo, error) {
	if a.api.Client().Secret() == "" {
		return model.SessionInfo{}, api.ErrAuth
	}
	if _, err := a.api.Status(ctx); err != nil {
		return model.SessionInfo{}, err
	}
	return model.SessionInfo{OK: true}, nil
}

func (a *secretAuth) Logout(context.Context) error {
	a.api.Client().SetSecret("")
	return nil
}
