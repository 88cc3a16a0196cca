package banking

import "strings"

// LinkMetadata is what the provider's linking UI reports on success.
type LinkMetadata struct {
	InstitutionID   string          `json:"institution_id,omitempty"`
	InstitutionName string          `json:"institution_name,omitempty"`
	Accounts        []LinkedAccount `json:"accounts,omitempty"`
}

// LinkedAccount is an account the user selected in the linking UI.
type LinkedAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Mask string `json:"mask,omitempty"`
}

// SelectedAccountIDs returns the ids of the accounts the user picked, or nil when none were reported.
func (m LinkMetadata) SelectedAccountIDs() []string {
	if len(m.Accounts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(m.Accounts))
	for _, acc := range m.Accounts {
		if acc.ID != "" {
			ids = append(ids, acc.ID)
		}
	}
	return ids
}

// LinkExitError is the error payload the provider attaches to an exit event.
type LinkExitError struct {
	ErrorType      string `json:"error_type,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	DisplayMessage string `json:"display_message,omitempty"`
}

// Message picks the most human-readable text available.
func (e LinkExitError) Message() string {
	for _, candidate := range []string{e.DisplayMessage, e.ErrorMessage, e.ErrorCode, e.ErrorType} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return "Bank connection failed"
}

// LinkExit is reported when the user leaves the linking UI without completing it.
// A nil Error means the user cancelled, which is not a failure.
type LinkExit struct {
	Error    *LinkExitError `json:"error,omitempty"`
	Status   string         `json:"status,omitempty"`
	Metadata *LinkMetadata  `json:"metadata,omitempty"`
}

// Cancelled reports whether the exit carries no error payload.
func (e LinkExit) Cancelled() bool {
	return e.Error == nil
}
