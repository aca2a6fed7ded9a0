package domain

import (
	"fmt"
	"strings"
)

// Difficulty is the effort tier of a task.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Difficulties lists the tiers in ascending order.
var Difficulties = []Difficulty{Easy, Medium, Hard}

var pointsByDifficulty = map[Difficulty]int{
	Easy:   10,
	Medium: 25,
	Hard:   50,
}

// PointsOf returns the points awarded for completing a task of the given
// difficulty. Unknown tiers are worth nothing.
func PointsOf(d Difficulty) int {
	return pointsByDifficulty[d]
}

// Valid reports whether d is one of the enumerated tiers.
func (d Difficulty) Valid() bool {
	_, ok := pointsByDifficulty[d]
	return ok
}

// ParseDifficulty accepts a tier name in any letter case.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
	return d, nil
}
