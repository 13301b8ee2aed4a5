package element

// windowsControlTypes maps Windows UI Automation control types onto the
// normalized role vocabulary used across the pipeline.
var windowsControlTypes = map[string]string{
	"Button":      "button",
	"Edit":        "text_field",
	"Text":        "static_text",
	"Window":      "window",
	"Image":       "image",
	"CheckBox":    "checkbox",
	"RadioButton": "radio_button",
	"ComboBox":    "combo_box",
	"List":        "list",
	"ListItem":    "list_item",
	"MenuItem":    "menu_item",
	"TabItem":     "tab",
	"Hyperlink":   "link",
	"Pane":        "pane",
	"Document":    "document",
	"ProgressBar": "progress_bar",
	"Slider":      "slider",
	"ScrollBar":   "scrollbar",
	"ToolBar":     "toolbar",
	"StatusBar":   "status_bar",
	"Tree":        "tree",
	"TreeItem":    "tree_item",
	"Table":       "table",
	"Header":      "header",
	"DataItem":    "data_item",
	"MenuBar":     "menu_bar",
	"Menu":        "menu",
	"SplitButton": "split_button",
	"Spinner":     "spinner",
	"Group":       "group",
}

// macAXRoles maps macOS Accessibility API AX roles onto the normalized
// role vocabulary. AXRow/AXCell both collapse to list_item; AXTabGroup
// and AXRadioGroup both present as tab strips.
var macAXRoles = map[string]string{
	"AXButton":            "button",
	"AXTextField":         "text_field",
	"AXTextArea":          "text_field",
	"AXStaticText":        "static_text",
	"AXWindow":            "window",
	"AXImage":             "image",
	"AXCheckBox":          "checkbox",
	"AXRadioButton":       "radio_button",
	"AXPopUpButton":       "combo_box",
	"AXComboBox":          "combo_box",
	"AXRow":               "list_item",
	"AXCell":              "list_item",
	"AXMenuItem":          "menu_item",
	"AXTabGroup":          "tab",
	"AXRadioGroup":        "tab",
	"AXLink":              "link",
	"AXGroup":             "pane",
	"AXSplitGroup":        "pane",
	"AXScrollArea":        "scrollbar",
	"AXProgressIndicator": "progress_bar",
	"AXSlider":            "slider",
	"AXToolbar":           "toolbar",
	"AXTable":             "table",
	"AXOutline":           "tree",
	"AXList":              "list",
	"AXMenuBar":           "menu_bar",
	"AXMenu":              "menu",
}

// NormalizeWindowsRole maps a UI Automation control type to the normalized
// taxonomy, "unknown" when unmapped.
func NormalizeWindowsRole(controlType string) string {
	if role, ok := windowsControlTypes[controlType]; ok {
		return role
	}
	return "unknown"
}

// NormalizeMacRole maps an AX role to the normalized taxonomy, "unknown"
// when unmapped.
func NormalizeMacRole(axRole string) string {
	if role, ok := macAXRoles[axRole]; ok {
		return role
	}
	return "unknown"
}
