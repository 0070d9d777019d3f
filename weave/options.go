package weave

const colorMask = 0xFFFFFF

// ResolveZoneColor returns the zone color for a method: an explicit method ZoneOptions color, else the module
// ZoneDefaults color, else 0. The first level that carries the annotation wins, even when its color is 0.
func ResolveZoneColor(mod *Module, m *Method) uint32 {
	if a, ok := findAnnotation(m.Annotations, AnnotationZoneOptions); ok {
		color, _ := a.Arg(0)
		return uint32(color) & colorMask
	}
	if a, ok := findAnnotation(mod.Annotations, AnnotationZoneDefaults); ok {
		color, _ := a.Arg(0)
		return uint32(color) & colorMask
	}
	return 0
}
