package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxRewardLength bounds a reward description, in characters.
const MaxRewardLength = 80

// Rewards holds the treats a user picked for themselves.
type Rewards struct {
	Small string `json:"smallReward"`
	Big   string `json:"bigReward"`
}

var (
	SuggestedSmallRewards = []string{"קפה טוב", "פרק בסדרה", "גלידה", "הליכה בפארק", "חצי שעה של משחק"}
	SuggestedBigRewards   = []string{"ארוחה במסעדה", "יום ספא", "סרט בקולנוע", "ספר חדש", "טיול סוף שבוע"}
)

// Clean trims both rewards and checks their length.
func (r Rewards) Clean() (Rewards, error) {
	out := Rewards{Small: strings.TrimSpace(r.Small), Big: strings.TrimSpace(r.Big)}
	if n := utf8.RuneCountInString(out.Small); n > MaxRewardLength {
		return Rewards{}, Invalid("rewards", fmt.Sprintf("small reward is %d characters, max %d", n, MaxRewardLength))
	}
	if n := utf8.RuneCountInString(out.Big); n > MaxRewardLength {
		return Rewards{}, Invalid("rewards", fmt.Sprintf("big reward is %d characters, max %d", n, MaxRewardLength))
	}
	return out, nil
}
