package browser

import "testing"

func TestNewManagerLazy(t *testing.T) {
	m := NewManager(Options{Headless: true})
	if m.browser != nil || m.page != nil {
		t.Fatal("browser should not start before first Page call")
	}
	// closing an unstarted manager is a no-op
	if err := m.Close(); err != nil {
		t.Fatalf("Close on idle manager: %v", err)
	}
}

func TestReleasePageIdle(t *testing.T) {
	m := NewManager(Options{KeepOpen: true})
	m.ReleasePage()
	if m.page != nil {
		t.Fatal("page should stay nil")
	}
}
