package types

import (
	"strings"

	"github.com/google/uuid"
)

// WhatsApp JID suffixes used by the Evolution gateway.
const (
	JIDUserSuffix   = "@s.whatsapp.net"
	JIDLegacySuffix = "@c.us"
	JIDGroupSuffix  = "@g.us"
)

// IsValidUUID accepts only the canonical 36-character hyphenated form.
// uuid.Parse also accepts urn: and braced forms, which the CRM never writes
// and which are exactly the malformed keys the repair commands clean up.
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// NewID returns a fresh random UUID string.
func NewID() string {
	return uuid.NewString()
}

// NormalizePhone strips JID suffixes, a leading '+', and any non-digit
// characters. "+55 (11) 99999-0000" and "5511999990000@s.whatsapp.net" both
// become "5511999990000".
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	for _, suffix := range []string{JIDUserSuffix, JIDLegacySuffix, JIDGroupSuffix} {
		s = strings.TrimSuffix(s, suffix)
	}
	// Device-qualified JIDs look like 5511999990000:12
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// JIDFromPhone builds the user JID the gateway uses as remoteJid.
func JIDFromPhone(phone string) string {
	n := NormalizePhone(phone)
	if n == "" {
		return ""
	}
	return n + JIDUserSuffix
}

// IsGroupJID reports whether jid addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, JIDGroupSuffix)
}
