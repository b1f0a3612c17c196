package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		expectErr bool
	}{
		{name: "http localhost", url: "http://localhost:3000"},
		{name: "https host", url: "https://example.com"},
		{name: "loopback with path", url: "http://127.0.0.1:3000/about?tab=team"},
		{name: "ipv6 loopback", url: "http://[::1]:3000"},

		{name: "javascript scheme", url: "javascript:alert(1)", expectErr: true},
		{name: "file scheme", url: "file:///etc/passwd", expectErr: true},
		{name: "no scheme", url: "localhost:3000", expectErr: true},
		{name: "missing host", url: "http://", expectErr: true},
		{name: "semicolon", url: "http://localhost;rm -rf /", expectErr: true},
		{name: "ampersand", url: "http://localhost/?a=1&b=2", expectErr: true},
		{name: "backtick", url: "http://localhost/`id`", expectErr: true},
		{name: "command substitution", url: "http://localhost/$(id)", expectErr: true},
		{name: "newline", url: "http://localhost/\nid", expectErr: true},
		{name: "space", url: "http://localhost/ id", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
