package jmapcore

// Capability URIs recognized in a request's "using" array (spec §3, §6).
// A request naming a capability outside this set (and outside any plugin
// module's registered set) is rejected with unknownCapability before any
// method call runs.
const (
	CapabilityCore             = "urn:ietf:params:jmap:core"
	CapabilityMail             = "urn:ietf:params:jmap:mail"
	CapabilitySubmission       = "urn:ietf:params:jmap:submission"
	CapabilityVacationResponse = "urn:ietf:params:jmap:vacationresponse"
	CapabilityContacts         = "urn:ietf:params:jmap:contacts"
	CapabilityCalendars        = "urn:ietf:params:jmap:calendars"
	CapabilityWebSocket        = "urn:ietf:params:jmap:websocket"
	CapabilityQuota            = "http://cyrusimap.org/ns/quota"
)

// CoreCapabilityConfig is the object reported under capabilities["...:core"]
// in the Session resource (RFC 8620 §2).
type CoreCapabilityConfig struct {
	MaxSizeUpload         int64 `json:"maxSizeUpload"`
	MaxConcurrentUpload   int   `json:"maxConcurrentUpload"`
	MaxSizeRequest        int64 `json:"maxSizeRequest"`
	MaxConcurrentRequests int   `json:"maxConcurrentRequests"`
	MaxCallsInRequest     int   `json:"maxCallsInRequest"`
	MaxObjectsInGet       int   `json:"maxObjectsInGet"`
	MaxObjectsInSet       int   `json:"maxObjectsInSet"`
	CollationAlgorithms   []string `json:"collationAlgorithms"`
}

// CoreCapabilityFromSettings renders a Settings value as the wire-shaped core capability config.
func CoreCapabilityFromSettings(s Settings) CoreCapabilityConfig {
	return CoreCapabilityConfig{
		MaxSizeUpload:         s.MaxSizeUpload,
		MaxConcurrentUpload:   s.MaxConcurrentUpload,
		MaxSizeRequest:        s.MaxSizeRequest,
		MaxConcurrentRequests: s.MaxConcurrentRequests,
		MaxCallsInRequest:     s.MaxCallsInRequest,
		MaxObjectsInGet:       s.MaxObjectsInGet,
		MaxObjectsInSet:       s.MaxObjectsInSet,
		CollationAlgorithms:   []string{"i;ascii-casemap"},
	}
}
