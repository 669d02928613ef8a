// Package chat implements the presence-coordinated messaging core: the
// session authority, the live connection registry, the message router with
// its history replay, and the presence broadcaster.
package chat

// ForestColor is one selectable message color.
type ForestColor struct {
	Name    string
	Code    string
	Display string
}

// ForestCreature is one selectable avatar.
type ForestCreature struct {
	Name    string
	File    string
	Display string
}

// ForestColors is the fixed palette accounts choose their color from.
var ForestColors = []ForestColor{
	{Name: "spring_leaf", Code: "#8FBC6B", Display: "Spring Leaf"},
	{Name: "moss", Code: "#3B7A57", Display: "Forest Moss"},
	{Name: "sage", Code: "#6B8E6B", Display: "Woodland Sage"},
	{Name: "bark", Code: "#8B4513", Display: "Tree Bark"},
	{Name: "acorn", Code: "#6B4423", Display: "Acorn"},
	{Name: "wildflower", Code: "#9B4F96", Display: "Wild Flower"},
	{Name: "lavender", Code: "#967BB6", Display: "Forest Lavender"},
}

// ForestCreatures is the fixed set of avatars accounts choose from.
var ForestCreatures = []ForestCreature{
	{Name: "bear", File: "bear.png", Display: "Forest Bear"},
	{Name: "deer", File: "deer.png", Display: "Woodland Deer"},
	{Name: "fox", File: "fox.png", Display: "Clever Fox"},
	{Name: "hedgehog", File: "hedgehog.png", Display: "Friendly Hedgehog"},
	{Name: "owl", File: "owl.png", Display: "Wise Owl"},
}

const (
	defaultColorCode = "#8FBC6B" // spring_leaf
	defaultIconFile  = "bear.png"

	iconPathPrefix = "/media/forest_creatures/"
)

// ColorCode resolves a stored color name to its hex code, falling back to
// the default when the name is unknown.
func ColorCode(name string) string {
	for _, c := range ForestColors {
		if c.Name == name {
			return c.Code
		}
	}
	return defaultColorCode
}

// IconPath resolves a stored creature name to its served icon path.
func IconPath(name string) string {
	for _, c := range ForestCreatures {
		if c.Name == name {
			return iconPathPrefix + c.File
		}
	}
	return iconPathPrefix + defaultIconFile
}

// ValidColor reports whether name is part of the palette.
func ValidColor(name string) bool {
	for _, c := range ForestColors {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ValidCreature reports whether name is one of the selectable avatars.
func ValidCreature(name string) bool {
	for _, c := range ForestCreatures {
		if c.Name == name {
			return true
		}
	}
	return false
}
