package db

type (
	// GroupSettings is the per-group option map stored under settings:{chat_id}.
	GroupSettings map[string]string

	AdmissionMethod string
)

const (
	SettingNewMemberCheckMethod = "new_member_check_method"

	MethodBan         AdmissionMethod = "ban"
	MethodSilence     AdmissionMethod = "silence"
	MethodSleep1Week  AdmissionMethod = "sleep_1week"
	MethodSleep2Weeks AdmissionMethod = "sleep_2weeks"
	MethodNone        AdmissionMethod = "none"
)

// CheckMethod returns the admission mode for the group, defaulting to ban.
// Unknown values fall back to the default as well, so a typo in settings
// never turns the gate off silently.
func (s GroupSettings) CheckMethod() AdmissionMethod {
	switch AdmissionMethod(s[SettingNewMemberCheckMethod]) {
	case MethodSilence:
		return MethodSilence
	case MethodSleep1Week:
		return MethodSleep1Week
	case MethodSleep2Weeks:
		return MethodSleep2Weeks
	case MethodNone:
		return MethodNone
	default:
		return MethodBan
	}
}
