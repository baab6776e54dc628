package resolve

// coreDependencies are the modules bundled with every R installation.
// A requirement naming one of them needs no package lookup: the
// interpreter itself satisfies it.
var coreDependencies = map[string]bool{
	"R":            true,
	"stats":        true,
	"utils":        true,
	"graphics":     true,
	"grDevices":    true,
	"methods":      true,
	"tools":        true,
	"parallel":     true,
	"splines":      true,
	"grid":         true,
	"compiler":     true,
	"datasets":     true,
	"stats4":       true,
	"tcltk":        true,
	"translations": true,
}

// IsCoreDependency reports whether name is satisfied by the R
// installation itself.
func IsCoreDependency(name string) bool {
	return coreDependencies[name]
}
