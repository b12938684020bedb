package browser

import "fmt"

// initScript runs in every document of the context before page scripts.
// It forwards the Escape gesture to the engine.
var initScript = fmt.Sprintf(`
window.addEventListener("keydown", event => {
  if (event.key === "Escape" && typeof window.%[1]s === "function") {
    window.%[1]s(JSON.stringify({ type: "escapeStop" }));
  }
}, true);
`, notifyBinding)

var placeCursorScript = fmt.Sprintf(`([x, y]) => {
  let cursor = document.getElementById(%[1]q);
  if (!cursor) {
    cursor = document.createElement("div");
    cursor.id = %[1]q;
    Object.assign(cursor.style, {
      position: "fixed",
      width: "18px",
      height: "18px",
      borderRadius: "50%%",
      background: "rgba(255, 140, 0, 0.9)",
      boxShadow: "0 0 0 4px rgba(255, 140, 0, 0.3)",
      zIndex: "2147483647",
      pointerEvents: "none",
    });
    document.documentElement.appendChild(cursor);
  }
  cursor.style.left = x + "px";
  cursor.style.top = y + "px";
  cursor.style.right = "auto";
}`, CursorID)

var removeCursorScript = fmt.Sprintf(`() => {
  const cursor = document.getElementById(%q);
  if (cursor) {
    cursor.remove();
  }
}`, CursorID)

const (
	elementFromPointScript = `([x, y]) => document.elementFromPoint(x, y)`
	activeElementScript    = `() => document.activeElement || document.body`
	scrollScript           = `([dx, dy]) => window.scrollBy({ left: dx, top: dy, behavior: "smooth" })`
	innerTextScript        = `() => (document.body && document.body.innerText) || ""`
	selectionScript        = `() => { const s = window.getSelection(); return s ? s.toString() : ""; }`

	linksScript = `() => JSON.stringify(
  Array.from(document.querySelectorAll("a[href]")).map(a => ({
    text: a.textContent || "",
    href: a.href,
  }))
)`

	inputsScript = `() => JSON.stringify(
  Array.from(document.querySelectorAll("input, textarea, select")).map(el => ({
    type: el.getAttribute("type") || el.tagName.toLowerCase(),
    name: el.getAttribute("name") || "",
    id: el.id || "",
    placeholder: el.getAttribute("placeholder") || "",
  }))
)`

	tagNameScript         = `el => el.tagName`
	contentEditableScript = `el => !!el.isContentEditable`
	clickScript           = `el => el.click()`

	setValueScript = `(el, value) => {
  el.value = value;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
}`

	dispatchKeyScript = `(el, key) => {
  const opts = { key, bubbles: true, cancelable: true };
  el.dispatchEvent(new KeyboardEvent("keydown", opts));
  el.dispatchEvent(new KeyboardEvent("keyup", opts));
}`
)
