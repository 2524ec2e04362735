package collab

// colorPalette is the fixed set of cursor colors assigned to users.
var colorPalette = [...]string{
	"#ef4444", "#f59e0b", "#10b981", "#3b82f6",
	"#8b5cf6", "#ec4899", "#14b8a6", "#84cc16",
}

// ColorFor deterministically maps a user id onto the palette so the same user
// gets the same color on every client and across reconnects, with no
// coordination.
func ColorFor(userID string) string {
	var hash uint32
	for i := 0; i < len(userID); i++ {
		hash = hash*31 + uint32(userID[i])
	}
	return colorPalette[hash%uint32(len(colorPalette))]
}
