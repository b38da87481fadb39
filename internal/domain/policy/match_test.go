package policy

import "testing"

func TestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		value   string
		want    bool
	}{
		{"exact match", "agent-7", "agent-7", true},
		{"exact mismatch", "agent-7", "agent-8", false},
		{"wildcard prefix match", "agent-*", "agent-7", true},
		{"wildcard prefix mismatch", "agent-*", "bot-7", false},
		{"bare wildcard matches everything", "*", "anything", true},
		{"bare wildcard matches empty", "*", "", true},
		{"wildcard does not match shorter value", "agent-*", "agent", false},
		{"trailing-star value needs literal equality", "agent-7", "agent-*", false},
		{"empty pattern only matches empty", "", "", true},
		{"empty pattern rejects non-empty", "", "x", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Match(tt.pattern, tt.value); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
			}
		})
	}
}

func TestMostSpecific_ExactBeatsWildcard(t *testing.T) {
	t.Parallel()

	patterns := []string{"agent-*", "agent-7", "*"}
	got, ok := MostSpecific(patterns, "agent-7")
	if !ok {
		t.Fatal("MostSpecific() found no match")
	}
	if got != "agent-7" {
		t.Errorf("MostSpecific() = %q, want %q", got, "agent-7")
	}
}

func TestMostSpecific_LongerPrefixWins(t *testing.T) {
	t.Parallel()

	patterns := []string{"/api/*", "/api/admin/*"}
	got, ok := MostSpecific(patterns, "/api/admin/users")
	if !ok {
		t.Fatal("MostSpecific() found no match")
	}
	if got != "/api/admin/*" {
		t.Errorf("MostSpecific() = %q, want %q", got, "/api/admin/*")
	}

	got, ok = MostSpecific(patterns, "/api/public/data")
	if !ok {
		t.Fatal("MostSpecific() found no match")
	}
	if got != "/api/*" {
		t.Errorf("MostSpecific() = %q, want %q", got, "/api/*")
	}
}

func TestMostSpecific_NoMatch(t *testing.T) {
	t.Parallel()

	if got, ok := MostSpecific([]string{"agent-*", "bot-1"}, "crawler-9"); ok {
		t.Errorf("MostSpecific() = %q, want no match", got)
	}
}

func TestMostSpecific_TieKeepsEarliest(t *testing.T) {
	t.Parallel()

	// Two patterns with the same literal prefix length; declaration order
	// decides, so results are stable.
	patterns := []string{"ab*", "ab*"}
	got, ok := MostSpecific(patterns, "abc")
	if !ok || got != "ab*" {
		t.Errorf("MostSpecific() = %q, %v, want %q, true", got, ok, "ab*")
	}
}

func TestRequestSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"agent id first", Request{AgentID: "a", WalletAddress: "w", IPAddress: "i"}, "a"},
		{"wallet when no agent", Request{WalletAddress: "w", IPAddress: "i"}, "w"},
		{"ip when nothing else", Request{IPAddress: "i"}, "i"},
		{"anonymous fallback", Request{}, AnonymousSubject},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.req.Subject(); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestAttribute(t *testing.T) {
	t.Parallel()

	req := Request{AgentID: "a", WalletAddress: "w", IPAddress: "i"}
	if got := req.Attribute(FieldAgentID); got != "a" {
		t.Errorf("Attribute(agent_id) = %q, want %q", got, "a")
	}
	if got := req.Attribute(FieldWalletAddress); got != "w" {
		t.Errorf("Attribute(wallet_address) = %q, want %q", got, "w")
	}
	if got := req.Attribute(FieldIPAddress); got != "i" {
		t.Errorf("Attribute(ip_address) = %q, want %q", got, "i")
	}
	if got := req.Attribute(Field("unknown")); got != "" {
		t.Errorf("Attribute(unknown) = %q, want empty", got)
	}
}
