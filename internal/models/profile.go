package models

import "strings"

// ProfileKey names a user profile slot that a profile-storing prompt or a
// profile patch may write into. Keys are checked at construction time so that
// content referencing an unknown slot is rejected before any drill runs.
type ProfileKey string

const (
	ProfileKeyName         ProfileKey = "name"
	ProfileKeyLanguage     ProfileKey = "language"
	ProfileKeyJob          ProfileKey = "job"
	ProfileKeyScheduleDays ProfileKey = "schedule_days"
	ProfileKeyScheduleTime ProfileKey = "schedule_time"
	ProfileKeySelfRating1  ProfileKey = "self_rating_1"
	ProfileKeySelfRating2  ProfileKey = "self_rating_2"
	ProfileKeySelfRating3  ProfileKey = "self_rating_3"
	ProfileKeySelfRating4  ProfileKey = "self_rating_4"
	ProfileKeySelfRating5  ProfileKey = "self_rating_5"
	ProfileKeySelfRating6  ProfileKey = "self_rating_6"
	ProfileKeySelfRating7  ProfileKey = "self_rating_7"
	ProfileKeySelfRating8  ProfileKey = "self_rating_8"
)

// IsValidProfileKey checks if the given profile key names a known slot.
func IsValidProfileKey(key ProfileKey) bool {
	switch key {
	case ProfileKeyName, ProfileKeyLanguage, ProfileKeyJob,
		ProfileKeyScheduleDays, ProfileKeyScheduleTime,
		ProfileKeySelfRating1, ProfileKeySelfRating2, ProfileKeySelfRating3,
		ProfileKeySelfRating4, ProfileKeySelfRating5, ProfileKeySelfRating6,
		ProfileKeySelfRating7, ProfileKeySelfRating8:
		return true
	default:
		return false
	}
}

// UserProfile holds subscriber attributes. It is owned exclusively by
// DialogState; events carry copies, never references.
type UserProfile struct {
	Validated    bool           `json:"validated"`
	OptedOut     bool           `json:"opted_out"`
	IsDemo       bool           `json:"is_demo"`
	Name         string         `json:"name,omitempty"`
	Language     string         `json:"language,omitempty"`
	AccountInfo  map[string]any `json:"account_info,omitempty"`
	Job          string         `json:"job,omitempty"`
	ScheduleDays string         `json:"schedule_days,omitempty"`
	ScheduleTime string         `json:"schedule_time,omitempty"`
	SelfRating1  string         `json:"self_rating_1,omitempty"`
	SelfRating2  string         `json:"self_rating_2,omitempty"`
	SelfRating3  string         `json:"self_rating_3,omitempty"`
	SelfRating4  string         `json:"self_rating_4,omitempty"`
	SelfRating5  string         `json:"self_rating_5,omitempty"`
	SelfRating6  string         `json:"self_rating_6,omitempty"`
	SelfRating7  string         `json:"self_rating_7,omitempty"`
	SelfRating8  string         `json:"self_rating_8,omitempty"`
}

// NormalizeLanguage reduces a language preference to a 2-letter lowercase code.
func NormalizeLanguage(lang string) string {
	runes := []rune(strings.ToLower(lang))
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return string(runes)
}

// Set writes a value into the slot named by key. Unknown keys return
// ErrInvalidProfileKey; they never panic at apply time because prompts and
// patches validate their keys up front.
func (p *UserProfile) Set(key ProfileKey, value string) error {
	switch key {
	case ProfileKeyName:
		p.Name = value
	case ProfileKeyLanguage:
		p.Language = NormalizeLanguage(value)
	case ProfileKeyJob:
		p.Job = value
	case ProfileKeyScheduleDays:
		p.ScheduleDays = value
	case ProfileKeyScheduleTime:
		p.ScheduleTime = value
	case ProfileKeySelfRating1:
		p.SelfRating1 = value
	case ProfileKeySelfRating2:
		p.SelfRating2 = value
	case ProfileKeySelfRating3:
		p.SelfRating3 = value
	case ProfileKeySelfRating4:
		p.SelfRating4 = value
	case ProfileKeySelfRating5:
		p.SelfRating5 = value
	case ProfileKeySelfRating6:
		p.SelfRating6 = value
	case ProfileKeySelfRating7:
		p.SelfRating7 = value
	case ProfileKeySelfRating8:
		p.SelfRating8 = value
	default:
		return ErrInvalidProfileKey
	}
	return nil
}

// ProfilePatch is a typed set of profile slot updates. Keys are validated at
// construction so a bad patch is rejected before it reaches the engine.
type ProfilePatch map[ProfileKey]string

// Validate checks that every key in the patch names a known slot.
func (p ProfilePatch) Validate() error {
	for key := range p {
		if !IsValidProfileKey(key) {
			return ErrInvalidProfileKey
		}
	}
	return nil
}

// ApplyTo writes every slot in the patch into the profile.
func (p ProfilePatch) ApplyTo(profile *UserProfile) error {
	for key, value := range p {
		if err := profile.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the profile.
func (p *UserProfile) Clone() UserProfile {
	out := *p
	if p.AccountInfo != nil {
		out.AccountInfo = make(map[string]any, len(p.AccountInfo))
		for k, v := range p.AccountInfo {
			out.AccountInfo[k] = v
		}
	}
	return out
}
