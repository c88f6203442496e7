package client

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrInvalidRedirect is returned for redirect URLs without a token pair.
var ErrInvalidRedirect = errors.New("redirect carries no session")

// ParseRedirect extracts the token pair from an OAuth redirect of the form
// scheme://host/path#access_token=...&refresh_token=...
func ParseRedirect(redirectURL string) (Tokens, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrInvalidRedirect, err)
	}

	params, err := url.ParseQuery(u.EscapedFragment())
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrInvalidRedirect, err)
	}
	if msg := params.Get("error_description"); msg != "" {
		return Tokens{}, fmt.Errorf("%w: %s", ErrInvalidRedirect, msg)
	}
	if msg := params.Get("error"); msg != "" {
		return Tokens{}, fmt.Errorf("%w: %s", ErrInvalidRedirect, msg)
	}

	t := Tokens{
		AccessToken:  params.Get("access_token"),
		RefreshToken: params.Get("refresh_token"),
	}
	if t.AccessToken == "" || t.RefreshToken == "" {
		return Tokens{}, ErrInvalidRedirect
	}
	return t, nil
}
