package navguard

import "testing"

func TestShouldSuppress(t *testing.T) {
	active := false
	g := New("/auth/reset", func() bool { return active })

	cases := []struct {
		name           string
		recoveryActive bool
		ev             Event
		currentPath    string
		want           bool
	}{
		{"inactive recovery never suppresses", false, Event{URL: "/auth/reset"}, "/auth/reset", false},
		{"active recovery on recovery route suppresses", true, Event{URL: "/library"}, "/auth/reset", true},
		{"trailing slash still matches", true, Event{URL: "/library"}, "/auth/reset/", true},
		{"active recovery off recovery route passes", true, Event{URL: "/library"}, "/library", false},
		{"user-initiated navigation always passes", true, Event{URL: "/library", UserInitiated: true}, "/auth/reset", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			active = tc.recoveryActive
			if got := g.ShouldSuppress(tc.ev, tc.currentPath); got != tc.want {
				t.Fatalf("ShouldSuppress(%+v, %q) = %v; want %v", tc.ev, tc.currentPath, got, tc.want)
			}
		})
	}
}

func TestShouldSuppress_EmptyRouteNeverSuppresses(t *testing.T) {
	g := New("", func() bool { return true })
	if g.ShouldSuppress(Event{}, "") {
		t.Fatalf("ShouldSuppress() = true with empty route; want false")
	}
}
