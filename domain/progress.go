package domain

// PointsPerLevel is the number of points needed to advance one level.
const PointsPerLevel = 100

// Progress is derived from a task set and never stored.
type Progress struct {
	TotalPoints         int     `json:"totalPoints"`
	Level               int     `json:"level"`
	ProgressToNextLevel float64 `json:"progressToNextLevel"`
	PointsToNextLevel   int     `json:"pointsToNextLevel"`
	CompletedTasks      int     `json:"completedTasks"`
	TotalTasks          int     `json:"totalTasks"`
}

// ComputeProgress reduces a task set to its progress summary.
func ComputeProgress(tasks []Task) Progress {
	p := Progress{TotalTasks: len(tasks)}
	for _, t := range tasks {
		if !t.Completed {
			continue
		}
		p.TotalPoints += t.Points
		p.CompletedTasks++
	}
	rem := p.TotalPoints % PointsPerLevel
	p.Level = p.TotalPoints/PointsPerLevel + 1
	p.ProgressToNextLevel = float64(rem) / PointsPerLevel
	p.PointsToNextLevel = PointsPerLevel - rem
	return p
}
