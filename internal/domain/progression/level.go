package progression

// PointsPerLevel is the width of every level band.
const PointsPerLevel int64 = 1000

// MinLevel is the level of a user with no points.
const MinLevel = 1

// LevelOf maps a point total to a level: floor(points/1000) + 1.
// Negative totals cannot occur in stored state and are treated as zero.
func LevelOf(points int64) int {
	if points < 0 {
		points = 0
	}
	return int(points/PointsPerLevel) + MinLevel
}

// PointsToNextLevel returns how many points are missing to reach the next
// level: LevelOf(points)*1000 - points. It is always in (0, 1000].
func PointsToNextLevel(points int64) int64 {
	if points < 0 {
		points = 0
	}
	return int64(LevelOf(points))*PointsPerLevel - points
}

// PointsForLevel returns the minimum total that places a user at level.
func PointsForLevel(level int) int64 {
	if level <= MinLevel {
		return 0
	}
	return int64(level-MinLevel) * PointsPerLevel
}

// LevelProgress returns the percentage (0-99) of the current level band
// already covered.
func LevelProgress(points int64) int {
	if points < 0 {
		points = 0
	}
	return int((points % PointsPerLevel) * 100 / PointsPerLevel)
}
