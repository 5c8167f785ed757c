package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"private-*", "private-orders", true},
		{"private-*", "private-", true},
		{"private-*", "public-orders", false},
		{"*", "anything", true},
		{"*", "", true},
		{"App.User.*", "App.User.42", true},
		{"App.*.Orders", "App.Shop.Orders", true},
		{"App.*.Orders", "App.Shop.Invoices", false},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "acb", false},
		{"ab*b", "ab", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.name, func(t *testing.T) {
			p, err := CompilePattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.name))
		})
	}
}

func TestCompilePatternRejectsEmpty(t *testing.T) {
	_, err := CompilePattern("  ")
	assert.Error(t, err)

	_, err = NewClassifier([]string{"private-*", ""}, nil)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	c := DefaultClassifier()

	assert.Equal(t, Presence, c.Classify("presence-room1"))
	assert.Equal(t, Private, c.Classify("private-orders"))
	assert.Equal(t, Public, c.Classify("news"))
	assert.Equal(t, Public, c.Classify(""))

	assert.True(t, c.IsPrivate("presence-room1"))
	assert.False(t, c.IsPresence("private-presence-x"))
}

func TestPresenceAlwaysPrivate(t *testing.T) {
	c, err := NewClassifier([]string{"secret.*"}, []string{"client-*"})
	require.NoError(t, err)

	assert.Contains(t, c.private.Patterns(), "presence-*")
	assert.True(t, c.IsPrivate("presence-lobby"))
	assert.True(t, c.IsPrivate("secret.stuff"))
	assert.False(t, c.IsPrivate("private-orders"))
	assert.Equal(t, Presence, c.Classify("presence-lobby"))
}

func TestPresencePrefixIsLiteral(t *testing.T) {
	c, err := NewClassifier([]string{"*"}, nil)
	require.NoError(t, err)

	assert.Equal(t, Private, c.Classify("news"))
	assert.Equal(t, Presence, c.Classify("presence-x"))
	assert.False(t, c.IsPresence("xpresence-"))
}

func TestIsClientEvent(t *testing.T) {
	c := DefaultClassifier()

	assert.True(t, c.IsClientEvent("client-typing"))
	assert.False(t, c.IsClientEvent("typing"))
	assert.False(t, c.IsClientEvent("App\\Events\\OrderShipped"))

	none, err := NewClassifier(DefaultPrivatePatterns, nil)
	require.NoError(t, err)
	assert.False(t, none.IsClientEvent("client-typing"))
}

func TestUserIDFromChannel(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"private-App.User.42", "42", true},
		{"presence-user.7", "7", true},
		{"user.9", "9", true},
		{"private-user.12.orders", "12", true},
		{"private-user.abc", "", false},
		{"private-superuser.5", "", false},
		{"news", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := UserIDFromChannel(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
