package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidUUID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"6f1c1c2e-2b8a-4c1e-9d55-0b7e3c1f9a10", true},
		{"6F1C1C2E-2B8A-4C1E-9D55-0B7E3C1F9A10", true},
		{"", false},
		{"agent-1", false},
		{"6f1c1c2e2b8a4c1e9d550b7e3c1f9a10", false},
		{"{6f1c1c2e-2b8a-4c1e-9d55-0b7e3c1f9a10}", false},
		{"urn:uuid:6f1c1c2e-2b8a-4c1e-9d55-0b7e3c1f9a10", false},
		{"6f1c1c2e-2b8a-4c1e-9d55-0b7e3c1f9a1z", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidUUID(tt.in))
		})
	}
}

func TestNewIDIsValid(t *testing.T) {
	for i := 0; i < 10; i++ {
		id := NewID()
		if !IsValidUUID(id) {
			t.Fatalf("NewID() = %q, not a canonical UUID", id)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5511999990000", "5511999990000"},
		{"+55 (11) 99999-0000", "5511999990000"},
		{"5511999990000@s.whatsapp.net", "5511999990000"},
		{"5511999990000@c.us", "5511999990000"},
		{"5511999990000:12@s.whatsapp.net", "5511999990000"},
		{"120363025246125486@g.us", "120363025246125486"},
		{"  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), "NormalizePhone(%q)", tt.in)
	}
}

func TestJIDFromPhone(t *testing.T) {
	assert.Equal(t, "5511999990000@s.whatsapp.net", JIDFromPhone("+55 11 99999-0000"))
	assert.Equal(t, "", JIDFromPhone("n/a"))
	assert.True(t, IsGroupJID("120363025246125486@g.us"))
	assert.False(t, IsGroupJID("5511999990000@s.whatsapp.net"))
}
