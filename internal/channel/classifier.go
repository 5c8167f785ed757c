package channel

import (
	"fmt"
	"regexp"
	"strings"
)

// PresencePrefix marks presence channels. Matched literally, never as a glob.
const PresencePrefix = "presence-"

// Kind is the visibility class of a channel.
type Kind int

const (
	Public Kind = iota
	Private
	Presence
)

func (k Kind) String() string {
	switch k {
	case Private:
		return "private"
	case Presence:
		return "presence"
	default:
		return "public"
	}
}

// Pattern is a precompiled glob where '*' matches any run of characters.
type Pattern struct {
	raw   string
	parts []string
}

// CompilePattern validates and compiles a glob.
func CompilePattern(raw string) (Pattern, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pattern{}, fmt.Errorf("empty channel pattern")
	}
	return Pattern{raw: raw, parts: strings.Split(raw, "*")}, nil
}

func (p Pattern) String() string {
	return p.raw
}

// Match reports whether s matches the pattern.
func (p Pattern) Match(s string) bool {
	if len(p.parts) == 1 {
		return s == p.parts[0]
	}
	first, last := p.parts[0], p.parts[len(p.parts)-1]
	if !strings.HasPrefix(s, first) {
		return false
	}
	s = s[len(first):]
	for _, mid := range p.parts[1 : len(p.parts)-1] {
		i := strings.Index(s, mid)
		if i < 0 {
			return false
		}
		s = s[i+len(mid):]
	}
	return strings.HasSuffix(s, last)
}

// Matcher is an ordered set of patterns fixed at configuration time.
type Matcher struct {
	patterns []Pattern
}

// NewMatcher compiles every pattern, failing on the first invalid one.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{patterns: make([]Pattern, 0, len(patterns))}
	for _, raw := range patterns {
		p, err := CompilePattern(raw)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Match reports whether any pattern matches s.
func (m *Matcher) Match(s string) bool {
	for _, p := range m.patterns {
		if p.Match(s) {
			return true
		}
	}
	return false
}

// Patterns returns the configured patterns in order.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.raw
	}
	return out
}

// Classifier decides channel visibility and which event names clients may emit.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	private      *Matcher
	clientEvents *Matcher
}

var (
	DefaultPrivatePatterns     = []string{"private-*", PresencePrefix + "*"}
	DefaultClientEventPatterns = []string{"client-*"}
)

// NewClassifier builds a classifier. The presence glob is added to the private set
// when missing so that every presence channel is also private.
func NewClassifier(privatePatterns, clientEventPatterns []string) (*Classifier, error) {
	hasPresence := false
	for _, p := range privatePatterns {
		if strings.TrimSpace(p) == PresencePrefix+"*" {
			hasPresence = true
		}
	}
	if !hasPresence {
		privatePatterns = append(append([]string(nil), privatePatterns...), PresencePrefix+"*")
	}

	private, err := NewMatcher(privatePatterns)
	if err != nil {
		return nil, fmt.Errorf("private channel patterns: %w", err)
	}
	clientEvents, err := NewMatcher(clientEventPatterns)
	if err != nil {
		return nil, fmt.Errorf("client event patterns: %w", err)
	}
	return &Classifier{private: private, clientEvents: clientEvents}, nil
}

// DefaultClassifier uses the stock private-/presence-/client- prefixes.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultPrivatePatterns, DefaultClientEventPatterns)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Classifier) IsPresence(name string) bool {
	return strings.HasPrefix(name, PresencePrefix)
}

func (c *Classifier) IsPrivate(name string) bool {
	return c.private.Match(name)
}

func (c *Classifier) IsClientEvent(event string) bool {
	return c.clientEvents.Match(event)
}

// Classify never fails: every name falls into exactly one kind.
func (c *Classifier) Classify(name string) Kind {
	switch {
	case c.IsPresence(name):
		return Presence
	case c.IsPrivate(name):
		return Private
	default:
		return Public
	}
}

var userSegment = regexp.MustCompile(`(?i)(?:^|[.\-:])user\.(\d+)(?:$|[.\-:])`)

// UserIDFromChannel extracts the digits of a "user.<digits>" segment.
func UserIDFromChannel(name string) (string, bool) {
	m := userSegment.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}
