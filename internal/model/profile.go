package model

import "strings"

// Profile is the signed-in user's display identity.
type Profile struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	PhotoURL string `json:"photo_url"`
}

// DisplayName returns the nickname, or the local part of the email.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if n := strings.TrimSpace(p.Nickname); n != "" {
		return n
	}
	if at := strings.IndexByte(p.Email, '@'); at > 0 {
		return p.Email[:at]
	}
	return p.Email
}
