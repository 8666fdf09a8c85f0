package cmd

import (
	"testing"

	"github.com/pushrelay/pushrelay/internal/store"
)

func TestBuildAuthHeader(t *testing.T) {
	tests := []struct {
		name  string
		user  string
		pass  string
		token string
		want  string
	}{
		{
			name: "basic credentials",
			user: "alice",
			pass: "s3cret",
			want: "Basic YWxpY2U6czNjcmV0",
		},
		{
			name:  "bearer token",
			token: "tk_abc123",
			want:  "Bearer tk_abc123",
		},
		{
			name: "no credentials",
			want: "",
		},
		{
			name:  "basic wins over token",
			user:  "alice",
			pass:  "s3cret",
			token: "tk_abc123",
			want:  "Basic YWxpY2U6czNjcmV0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildAuthHeader(tt.user, tt.pass, tt.token); got != tt.want {
				t.Errorf("buildAuthHeader(%q, %q, %q) = %q, want %q", tt.user, tt.pass, tt.token, got, tt.want)
			}
		})
	}
}

func TestAuthDisplay(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", "None"},
		{"Basic YWxpY2U6czNjcmV0", "Basic (user/pass)"},
		{"Bearer tk_abc123", "Bearer token"},
		{"Digest whatever", "Custom"},
	}
	for _, tt := range tests {
		if got := authDisplay(tt.header); got != tt.want {
			t.Errorf("authDisplay(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 40); got != "short" {
		t.Errorf("truncate(short, 40) = %q", got)
	}
	long := "https://discord.com/api/webhooks/123456789/abcdefghijklmnop"
	got := truncate(long, 20)
	if len(got) != 23 || got[:20] != long[:20] {
		t.Errorf("truncate() = %q, want 20 chars plus ellipsis", got)
	}
}

func TestViewOfHidesCredentials(t *testing.T) {
	r := store.Rule{
		ID:         "abc",
		Server:     "https://ntfy.sh",
		Topic:      "alerts",
		WebhookURL: "https://hooks.example/x",
		AuthHeader: "Bearer super-secret-token",
	}
	v := viewOf(r)
	if v.Auth != "Bearer token" {
		t.Errorf("Auth = %q, want scheme only", v.Auth)
	}
}

func TestRootCommandStructure(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"add", "remove", "list", "version"} {
		if !names[want] {
			t.Errorf("root command missing %q subcommand", want)
		}
	}
}
