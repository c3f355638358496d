package jmapcore

import (
	"context"
	"fmt"
)

// Session is the JMAP Session object (RFC 8620 §2) returned from the
// well-known session endpoint.
type Session struct {
	Capabilities    map[string]any     `json:"capabilities"`
	Accounts        map[string]Account `json:"accounts"`
	PrimaryAccounts map[string]string  `json:"primaryAccounts"`
	Username        string             `json:"username"`
	APIUrl          string             `json:"apiUrl"`
	DownloadUrl     string             `json:"downloadUrl"`
	UploadUrl       string             `json:"uploadUrl"`
	EventSourceUrl  string             `json:"eventSourceUrl,omitempty"`
	State           string             `json:"state"`
}

// Account is one entry in a Session's accounts map (RFC 8620 §2).
type Account struct {
	Name                string         `json:"name"`
	IsPersonal          bool           `json:"isPersonal"`
	IsReadOnly          bool           `json:"isReadOnly"`
	AccountCapabilities map[string]any `json:"accountCapabilities"`
}

// CapabilityLister reports the plugin capabilities and per-capability
// config a deployment has loaded, mirrored into the Session resource
// alongside Core's own capability.
type CapabilityLister interface {
	GetCapabilities() []string
	GetCapabilityConfig(capability string) map[string]any
}

// SessionConfig is the fixed, per-deployment input BuildSession renders
// around one user's account.
type SessionConfig struct {
	APIDomain string
	Settings  Settings
}

// BuildSession renders the Session resource for userID (spec §3 "session
// discovery", §6). The top-level state is the highest mod-sequence across
// the types named in stateTypes, read through store, rather
// than a fixed placeholder — so a client's first Session fetch already
// reflects any state a concurrent request produced.
func BuildSession(ctx context.Context, cfg SessionConfig, store StateStore, plugins CapabilityLister, userID, accountID string, stateTypes []string) (Session, error) {
	baseURL := fmt.Sprintf("https://%s/v1", cfg.APIDomain)

	capabilities := map[string]any{
		CapabilityCore: CoreCapabilityFromSettings(cfg.Settings),
	}
	accountCapabilities := map[string]any{
		CapabilityCore: map[string]any{},
	}
	primaryAccounts := map[string]string{
		CapabilityCore: accountID,
	}

	if plugins != nil {
		for _, capability := range plugins.GetCapabilities() {
			capConfig := plugins.GetCapabilityConfig(capability)
			if capConfig == nil {
				capConfig = map[string]any{}
			}
			capabilities[capability] = capConfig
			accountCapabilities[capability] = capConfig
			primaryAccounts[capability] = accountID
		}
	}

	state, err := HighestState(ctx, store, accountID, stateTypes)
	if err != nil {
		return Session{}, fmt.Errorf("build session state: %w", err)
	}

	return Session{
		Capabilities: capabilities,
		Accounts: map[string]Account{
			accountID: {
				Name:                userID,
				IsPersonal:          true,
				IsReadOnly:          false,
				AccountCapabilities: accountCapabilities,
			},
		},
		PrimaryAccounts: primaryAccounts,
		Username:        userID,
		APIUrl:          fmt.Sprintf("%s/jmap", baseURL),
		DownloadUrl:     fmt.Sprintf("%s/download/{accountId}/{blobId}", baseURL),
		UploadUrl:       fmt.Sprintf("%s/upload/{accountId}", baseURL),
		EventSourceUrl:  fmt.Sprintf("%s/events/{types}/{closeafter}/{ping}", baseURL),
		State:           string(state),
	}, nil
}
