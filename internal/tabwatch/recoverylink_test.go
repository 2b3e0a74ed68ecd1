package tabwatch

import "testing"

func TestIsRecoveryLink(t *testing.T) {
	const route = "/auth/reset"
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{
			name: "markers in query",
			url:  "https://app.example.com/auth/reset?type=recovery&access_token=abc",
			want: true,
		},
		{
			name: "markers in fragment",
			url:  "https://app.example.com/auth/reset#type=recovery&access_token=abc",
			want: true,
		},
		{
			name: "trailing slash on path",
			url:  "https://app.example.com/auth/reset/?type=recovery&access_token=abc",
			want: true,
		},
		{
			name: "route without markers",
			url:  "https://app.example.com/auth/reset",
			want: false,
		},
		{
			name: "markers on wrong route",
			url:  "https://app.example.com/library?type=recovery&access_token=abc",
			want: false,
		},
		{
			name: "empty access token",
			url:  "https://app.example.com/auth/reset?type=recovery&access_token=",
			want: false,
		},
		{
			name: "wrong type marker",
			url:  "https://app.example.com/auth/reset?type=signup&access_token=abc",
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoveryLink(tt.url, route); got != tt.want {
				t.Errorf("IsRecoveryLink(%q) = %v; want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestIsRecoveryLinkEmptyRoute(t *testing.T) {
	if IsRecoveryLink("https://app.example.com/?type=recovery&access_token=abc", "") {
		t.Error("IsRecoveryLink with empty route = true; want false")
	}
}

func TestRegistryTracksPath(t *testing.T) {
	r := NewRegistry()
	info := r.Register("t1", "https://app.example.com/library?page=2")
	if info.Path != "/library" {
		t.Errorf("Path = %q; want /library", info.Path)
	}

	r.Register("t1", "https://app.example.com/auth/reset")
	got, ok := r.Get("t1")
	if !ok || got.Path != "/auth/reset" {
		t.Errorf("Get after re-register = %+v, %v; want /auth/reset", got, ok)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d; want 1", r.Count())
	}

	r.Remove("t1")
	if r.Count() != 0 {
		t.Errorf("Count() after Remove = %d; want 0", r.Count())
	}
}
