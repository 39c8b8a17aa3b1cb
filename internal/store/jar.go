package store

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Jar is an http.CookieJar for a single backend that writes every change
// through to a Store, so a later process can resume the session.
type Jar struct {
	inner *cookiejar.Jar
	st    Store
	scope string
	base  *url.URL
	now   func() time.Time

	mu      sync.Mutex
	cookies map[string]Cookie
}

// NewJar loads the cookies previously saved for scope.
func NewJar(st Store, scope string, base *url.URL) (*Jar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("store.NewJar: %w", err)
	}
	j := &Jar{
		inner:   inner,
		st:      st,
		scope:   scope,
		base:    base,
		now:     time.Now,
		cookies: map[string]Cookie{},
	}

	saved, err := st.LoadCookies(scope)
	if err != nil {
		return nil, fmt.Errorf("store.NewJar: %w", err)
	}
	var restore []*http.Cookie
	now := j.now()
	for _, c := range saved {
		if c.Expired(now) {
			continue
		}
		j.cookies[c.Name] = c
		restore = append(restore, c.HTTP())
	}
	if len(restore) > 0 {
		inner.SetCookies(base, restore)
	}
	return j, nil
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	for _, hc := range cookies {
		if hc.MaxAge < 0 || (!hc.Expires.IsZero() && !hc.Expires.After(now)) || hc.Value == "" {
			delete(j.cookies, hc.Name)
			continue
		}
		expires := hc.Expires
		if hc.MaxAge > 0 {
			expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
		}
		j.cookies[hc.Name] = Cookie{
			Scope:    j.scope,
			Name:     hc.Name,
			Value:    hc.Value,
			Path:     hc.Path,
			Domain:   hc.Domain,
			Expires:  expires,
			Secure:   hc.Secure,
			HTTPOnly: hc.HttpOnly,
		}
	}

	// Persisting is best-effort; the in-memory jar stays authoritative.
	_ = j.st.SaveCookies(j.scope, j.snapshotLocked())
}

// Forget drops every cookie of the scope, locally and in the store.
func (j *Jar) Forget() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	expired := make([]*http.Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		hc := c.HTTP()
		hc.MaxAge = -1
		expired = append(expired, hc)
	}
	if len(expired) > 0 {
		j.inner.SetCookies(j.base, expired)
	}
	j.cookies = map[string]Cookie{}
	return j.st.ClearCookies(j.scope)
}

func (j *Jar) snapshotLocked() []Cookie {
	out := make([]Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
