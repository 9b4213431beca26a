package scoring

import (
	"strings"
)

// Profile describes the candidate for scoring.
type Profile struct {
	Role            string   `json:"role"`
	ExperienceYears int      `json:"experience_years"`
	Skills          []string `json:"skills"`
	Locations       []string `json:"locations"`
	// RoleKeywords are titles that count as the target role, e.g. "backend engineer".
	RoleKeywords []string `json:"role_keywords"`
}

const (
	roleHitPoints        = 40
	skillHitPoints       = 8
	locationBonus        = 10
	excludedPenalty      = 20
	maxSkillContribution = 50
)

// Heuristic scores text by keyword overlap with the profile. It never fails and needs
// no network, so it is the fallback whenever the oracle cannot answer.
//
// A role keyword hit is worth 40, each skill 8 (capped at 50), a preferred location 10,
// and any excluded company token costs 20. The result is clamped to 0–100.
func Heuristic(text string, profile Profile, excluded []string) int {
	lower := strings.ToLower(text)
	score := 0

	roles := profile.RoleKeywords
	if len(roles) == 0 && profile.Role != "" {
		roles = []string{profile.Role}
	}
	for _, role := range roles {
		if containsToken(lower, role) {
			score += roleHitPoints
			break
		}
	}

	skills := 0
	for _, skill := range profile.Skills {
		if containsToken(lower, skill) {
			skills += skillHitPoints
		}
	}
	score += min(skills, maxSkillContribution)

	for _, loc := range profile.Locations {
		if containsToken(lower, loc) {
			score += locationBonus
			break
		}
	}

	for _, company := range excluded {
		if containsToken(lower, company) {
			score -= excludedPenalty
			break
		}
	}
	return clamp(score)
}

func clamp(score int) int {
	return max(0, min(100, score))
}

// containsToken reports whether needle occurs in lowered haystack on word boundaries.
// Short tokens such as "go" or "tcs" would otherwise match inside unrelated words.
func containsToken(lowerHaystack, needle string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return false
	}
	for offset := 0; ; {
		idx := strings.Index(lowerHaystack[offset:], needle)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(needle)
		if boundary(lowerHaystack, start-1) && boundary(lowerHaystack, end) {
			return true
		}
		offset = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}
