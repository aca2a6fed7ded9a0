package domain

import "strings"

// maxEasyWords is the longest title, in words, that can still be easy.
const maxEasyWords = 5

// HardKeywords mark important or high-effort activities.
var HardKeywords = []string{
	"פגישה חשובה",
	"ראיון עבודה",
	"מבחן",
	"פרויקט",
	"הגשה",
	"דדליין",
	"important meeting",
	"job interview",
	"exam",
	"project",
	"deadline",
	"presentation",
}

// MediumKeywords mark routine errands that still take some effort.
var MediumKeywords = []string{
	"לקבוע",
	"לקנות",
	"לנקות",
	"לבשל",
	"כביסה",
	"אימון",
	"להתקשר",
	"לשלם",
	"schedule",
	"buy",
	"clean",
	"cook",
	"laundry",
	"workout",
	"call",
}

// ClassifyDifficulty infers a tier from free text. The first matching rule
// wins: hard keywords, then medium keywords or a long title, then easy.
func ClassifyDifficulty(title string) Difficulty {
	normalized := strings.ToLower(title)
	if containsAny(normalized, HardKeywords) {
		return Hard
	}
	if containsAny(normalized, MediumKeywords) || len(strings.Fields(title)) > maxEasyWords {
		return Medium
	}
	return Easy
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
