package jmapcore

// Settings are the server's configured limits: constructed once at cold
// start from environment/config and then frozen for the process lifetime
// (spec §9 "Global mutable settings... constructed once, then frozen").
type Settings struct {
	MaxSizeUpload         int64
	MaxConcurrentUpload   int
	MaxSizeRequest        int64
	MaxConcurrentRequests int
	MaxCallsInRequest     int
	MaxObjectsInGet       int
	MaxObjectsInSet       int
}

// Clamp zeroes out any non-positive limit, logging each one it changes.
// The checks that read these limits (Dispatcher's maxSizeRequest and
// maxCallsInRequest gates, crud.ParseSet, crud.ParseQuery) treat a zero
// limit as no limit; a zeroed limit does not disable the call. Pass a nil
// log func to clamp silently (e.g. in tests).
func (s *Settings) Clamp(log func(name string, value int64)) {
	s.MaxSizeUpload = clampLimit("maxSizeUpload", s.MaxSizeUpload, log)
	s.MaxSizeRequest = clampLimit("maxSizeRequest", s.MaxSizeRequest, log)
	s.MaxConcurrentUpload = clampLimit("maxConcurrentUpload", s.MaxConcurrentUpload, log)
	s.MaxConcurrentRequests = clampLimit("maxConcurrentRequests", s.MaxConcurrentRequests, log)
	s.MaxCallsInRequest = clampLimit("maxCallsInRequest", s.MaxCallsInRequest, log)
	s.MaxObjectsInGet = clampLimit("maxObjectsInGet", s.MaxObjectsInGet, log)
	s.MaxObjectsInSet = clampLimit("maxObjectsInSet", s.MaxObjectsInSet, log)
}

func clampLimit[T ~int | ~int64](name string, value T, log func(string, int64)) T {
	if value > 0 {
		return value
	}
	if log != nil {
		log(name, int64(value))
	}
	return 0
}
