package service

import (
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/set-night/mindchat/internal/domain"
	"github.com/set-night/mindchat/internal/store"
)

const maxFirstNameLen = 64

// SubmitOnboarding validates the profile and activates it in the store. The
// first session is created as a side effect when none is current.
func SubmitOnboarding(st *store.Store, firstName, email string) (domain.Profile, error) {
	firstName = strings.TrimSpace(firstName)
	email = strings.TrimSpace(email)

	if firstName == "" || utf8.RuneCountInString(firstName) > maxFirstNameLen {
		return domain.Profile{}, fmt.Errorf("first name: %w", domain.ErrInvalidProfile)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return domain.Profile{}, fmt.Errorf("email %q: %w", email, domain.ErrInvalidProfile)
	}

	p := domain.Profile{FirstName: firstName, Email: email, CreatedAt: st.Now()}
	st.SetUser(p)
	slog.Info("user onboarded", "first_name", firstName)
	return p, nil
}
