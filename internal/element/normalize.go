package element

// WindowsRaw is the raw attribute set read from a UI Automation element.
type WindowsRaw struct {
	ControlType  string
	Name         string
	AutomationID string
	ClassName    string
	Bounds       Rect
	Properties   map[string]any
}

// MacRaw is the raw attribute set read from an AX element. Bounds are
// already converted to the top-left-origin screen coordinate system.
type MacRaw struct {
	AXRole        string
	AXTitle       string
	AXDescription string
	AXIdentifier  string
	Bounds        Rect
	Properties    map[string]any
}

// NormalizeWindows converts raw UI Automation output into unified Metadata.
func NormalizeWindows(raw WindowsRaw, latencyMS float64) *Metadata {
	return &Metadata{
		ElementID:           NewElementID(PlatformWindows, raw.AutomationID),
		Name:                raw.Name,
		Role:                NormalizeWindowsRole(raw.ControlType),
		Bounds:              raw.Bounds,
		Confidence:          ConfidenceScore(latencyMS, false, ""),
		Platform:            PlatformWindows,
		WindowsAutomationID: raw.AutomationID,
		WindowsClassName:    raw.ClassName,
		Properties:          raw.Properties,
		QueryLatencyMS:      latencyMS,
		Source:              SourceAccessibility,
	}
}

// NormalizeMac converts raw AX output into unified Metadata. AXTitle wins
// over AXDescription for the display name, matching how the frameworks
// populate them.
func NormalizeMac(raw MacRaw, latencyMS float64, permissionStatus string) *Metadata {
	name := raw.AXTitle
	if name == "" {
		name = raw.AXDescription
	}
	return &Metadata{
		ElementID:        NewElementID(PlatformMacOS, raw.AXIdentifier),
		Name:             name,
		Role:             NormalizeMacRole(raw.AXRole),
		Bounds:           raw.Bounds,
		Confidence:       ConfidenceScore(latencyMS, false, permissionStatus),
		Platform:         PlatformMacOS,
		MacAXIdentifier:  raw.AXIdentifier,
		MacAXRole:        raw.AXRole,
		Properties:       raw.Properties,
		QueryLatencyMS:   latencyMS,
		PermissionStatus: permissionStatus,
		Source:           SourceAccessibility,
	}
}

// ConfidenceScore derives a confidence estimate from query quality signals.
// Baseline 1.0, penalized for slow queries (-0.1 above 1s), fallback use
// (-0.2), and denied permissions (-0.3), clamped to [0,1].
func ConfidenceScore(latencyMS float64, fallbackUsed bool, permissionStatus string) float64 {
	score := 1.0
	if latencyMS > 1000 {
		score -= 0.1
	}
	if fallbackUsed {
		score -= 0.2
	}
	if permissionStatus == PermissionDenied {
		score -= 0.3
	}
	if score < 0 {
		return 0
	}
	return score
}

// ClampConfidence forces a confidence value into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
