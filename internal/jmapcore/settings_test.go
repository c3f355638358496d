package jmapcore

import "testing"

func TestSettings_ClampZeroesNonPositiveLimits(t *testing.T) {
	s := Settings{
		MaxSizeUpload:         -1,
		MaxConcurrentUpload:   0,
		MaxSizeRequest:        1000,
		MaxConcurrentRequests: 4,
		MaxCallsInRequest:     -5,
		MaxObjectsInGet:       500,
		MaxObjectsInSet:       0,
	}

	var logged []string
	s.Clamp(func(name string, value int64) { logged = append(logged, name) })

	if s.MaxSizeUpload != 0 {
		t.Errorf("expected MaxSizeUpload clamped to 0, got %d", s.MaxSizeUpload)
	}
	if s.MaxConcurrentUpload != 0 {
		t.Errorf("expected MaxConcurrentUpload to remain 0, got %d", s.MaxConcurrentUpload)
	}
	if s.MaxSizeRequest != 1000 {
		t.Errorf("expected MaxSizeRequest untouched, got %d", s.MaxSizeRequest)
	}
	if s.MaxCallsInRequest != 0 {
		t.Errorf("expected MaxCallsInRequest clamped to 0, got %d", s.MaxCallsInRequest)
	}
	if s.MaxObjectsInSet != 0 {
		t.Errorf("expected MaxObjectsInSet to remain 0, got %d", s.MaxObjectsInSet)
	}

	wantLogged := map[string]bool{"maxSizeUpload": true, "maxConcurrentUpload": true, "maxCallsInRequest": true, "maxObjectsInSet": true}
	if len(logged) != len(wantLogged) {
		t.Errorf("expected %d clamp log calls, got %d (%v)", len(wantLogged), len(logged), logged)
	}
	for _, name := range logged {
		if !wantLogged[name] {
			t.Errorf("unexpected clamp log for %s", name)
		}
	}
}

func TestSettings_ClampNilLogFunc(t *testing.T) {
	s := Settings{MaxSizeUpload: -1}
	s.Clamp(nil)
	if s.MaxSizeUpload != 0 {
		t.Errorf("expected clamp to still zero the value with a nil log func, got %d", s.MaxSizeUpload)
	}
}

func TestSettings_ClampLeavesPositiveValuesAlone(t *testing.T) {
	s := Settings{MaxSizeUpload: 42, MaxObjectsInGet: 100}
	s.Clamp(func(string, int64) { t.Error("log should not be called for positive values") })
	if s.MaxSizeUpload != 42 || s.MaxObjectsInGet != 100 {
		t.Errorf("expected positive values untouched, got %+v", s)
	}
}
