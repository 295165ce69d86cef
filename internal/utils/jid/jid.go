package jid

import (
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ErrInvalidPhone is returned when a value is not a usable phone number.
var ErrInvalidPhone = errors.New("invalid phone number")

// Digits strips everything except ASCII digits.
func Digits(phone string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
}

// FromPhone creates a user JID from a phone number.
func FromPhone(phone string) types.JID {
	return types.NewJID(Digits(phone), types.DefaultUserServer)
}

// Recipient normalises a campaign or chat recipient. It accepts a bare phone
// number (with optional +, spaces or dashes) or a full JID string and returns
// the user part that the backend expects, plus the parsed JID.
func Recipient(value string) (string, types.JID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", types.EmptyJID, ErrInvalidPhone
	}

	if strings.ContainsRune(value, '@') {
		parsed, err := types.ParseJID(value)
		if err != nil {
			return "", types.EmptyJID, fmt.Errorf("%w: %v", ErrInvalidPhone, err)
		}
		if !IsUser(parsed) && !IsGroup(parsed) {
			return "", types.EmptyJID, fmt.Errorf("%w: unsupported server %q", ErrInvalidPhone, parsed.Server)
		}
		return parsed.User, ToUserJID(parsed), nil
	}

	for _, r := range value {
		if !(r >= '0' && r <= '9') && !strings.ContainsRune("+-() ", r) {
			return "", types.EmptyJID, fmt.Errorf("%w: %q", ErrInvalidPhone, value)
		}
	}
	digits := Digits(value)
	if digits == "" {
		return "", types.EmptyJID, fmt.Errorf("%w: %q", ErrInvalidPhone, value)
	}
	return digits, FromPhone(digits), nil
}

// PhoneFromChatID returns the phone part of a chat identifier such as
// "919876543210@s.whatsapp.net". Non-user chats yield an empty string.
func PhoneFromChatID(chatID string) string {
	parsed, err := types.ParseJID(chatID)
	if err != nil || !IsUser(parsed) {
		return ""
	}
	return parsed.User
}

// IsUser returns true if the JID is a user (not group/newsletter).
func IsUser(jid types.JID) bool {
	return jid.Server == types.DefaultUserServer || jid.Server == types.HiddenUserServer
}

// IsGroup returns true if the JID is a group.
func IsGroup(jid types.JID) bool {
	return jid.Server == types.GroupServer
}

// IsGroupID reports whether a chat identifier refers to a group.
func IsGroupID(chatID string) bool {
	parsed, err := types.ParseJID(chatID)
	return err == nil && IsGroup(parsed)
}

// ToUserJID strips device info and returns the base user JID.
func ToUserJID(jid types.JID) types.JID {
	return types.JID{
		User:   jid.User,
		Server: jid.Server,
	}
}
