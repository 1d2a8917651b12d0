package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     string
	}{
		{"valid", "secret1A", ""},
		{"valid long", "correct horse battery staple 9", ""},
		{"too short", "ab1", "Password must be at least 8 characters"},
		{"seven chars", "abcde12", "Password must be at least 8 characters"},
		{"no digit", "abcdefgh", "Password must contain a letter and a digit"},
		{"no letter", "12345678", "Password must contain a letter and a digit"},
		{"empty", "", "Password must be at least 8 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validatePassword(tt.password))
		})
	}
}
