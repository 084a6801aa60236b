package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxEmailLength = 255
	maxNameLength  = 255
	maxCompanyLen  = 255
	minPasswordLen = 8
	maxPasswordLen = 72
)

var (
	phoneRegex          = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	passwordCharset     = regexp.MustCompile(`^[a-zA-Z\d@$!%*?&]+$`)
	phoneSeparatorsRepl = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")
)

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateEmail(email string) error {
	if email == "" {
		return invalid("Email is required")
	}
	if len(email) > maxEmailLength {
		return invalid("Email must be at most 255 characters")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return invalid("Please provide a valid email address")
	}
	return nil
}

// ValidatePassword requires upper, lower and a digit over the letters, digits
// and @$!%*?& charset. bcrypt ignores input past 72 bytes, so longer values
// are rejected.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLen {
		return invalid("Password must be at least 8 characters long")
	}
	if len(password) > maxPasswordLen {
		return invalid("Password must be at most 72 characters long")
	}
	if !passwordCharset.MatchString(password) {
		return invalid("Password may only contain letters, digits and @$!%*?&")
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return invalid("Password must contain at least one uppercase letter, one lowercase letter, and one number")
	}
	return nil
}

func NormalizePhone(phone string) string {
	return phoneSeparatorsRepl.Replace(strings.TrimSpace(phone))
}

func ValidatePhone(phone string) error {
	if !phoneRegex.MatchString(phone) {
		return invalid("Please provide a valid phone number")
	}
	return nil
}

func ValidateName(name string) error {
	if name == "" {
		return invalid("Name is required")
	}
	if len(name) > maxNameLength {
		return invalid("Name must be at most 255 characters")
	}
	return nil
}

func validateCompany(company string) error {
	if len(company) > maxCompanyLen {
		return invalid("Company must be at most 255 characters")
	}
	return nil
}
