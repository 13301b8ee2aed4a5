package vision

// elementAnalysisPrompt asks for every visible interactive element.
const elementAnalysisPrompt = `Analyze this desktop application screenshot. Identify all clearly visible interactive UI elements (buttons, text inputs, links, menus, checkboxes, dropdowns). For each element, provide a JSON array of objects with:
  "name": visible text or descriptive label,
  "type": element type (button, input, link, menu, checkbox, dropdown, tab, icon),
  "bounds": {"x": left, "y": top, "width": w, "height": h} in pixels,
  "confidence": 0.0-1.0 how certain you are of the bounds
Return ONLY the JSON array, no other text.`

// focusedElementPrompt targets the element nearest an interaction
// point; formatted with the x and y coordinates.
const focusedElementPrompt = `Analyze this desktop application screenshot. There was a user interaction near coordinates (%d, %d). Identify the specific UI element at or closest to that point. Return a single JSON object with:
  "name": visible text or descriptive label,
  "type": element type (button, input, link, menu, checkbox, dropdown, tab, icon),
  "bounds": {"x": left, "y": top, "width": w, "height": h} in pixels,
  "confidence": 0.0-1.0 how certain you are of the bounds
Return ONLY the JSON object, no other text.`
