package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User roles. Role is fixed at registration.
const (
	RoleEmployer = "employer"
	RoleEmployee = "employee"
	RoleAdmin    = "admin"
)

// ValidRole reports whether r is one of the supported roles.
func ValidRole(r string) bool {
	switch r {
	case RoleEmployer, RoleEmployee, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID            uuid.UUID `json:"id"`
	Role          string    `json:"role"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone"`
	DisplayName   string    `json:"display_name"`
	LedgerAccount string    `json:"ledger_account,omitempty"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// PayoutAddress returns the mobile-money destination for this user in
// international form (254XXXXXXXXX), or "" when no phone number is set.
func (u *User) PayoutAddress() string {
	return NormalizePhone(u.Phone)
}

var kenyanMobile = regexp.MustCompile(`^254\d{9}$`)

// NormalizePhone converts 07XXXXXXXX, 7XXXXXXXX, +2547XXXXXXXX and
// 2547XXXXXXXX into 2547XXXXXXXX. Anything that does not normalise to
// 254 followed by nine digits yields "".
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "+")
	p = strings.ReplaceAll(p, " ", "")
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "254"):
	case strings.HasPrefix(p, "0"):
		p = "254" + p[1:]
	default:
		p = "254" + p
	}
	if !kenyanMobile.MatchString(p) {
		return ""
	}
	return p
}

// ValidPhone reports whether phone is empty or a usable payout number.
func ValidPhone(phone string) bool {
	return strings.TrimSpace(phone) == "" || NormalizePhone(phone) != ""
}
