package browser

import (
	"encoding/json"
	"fmt"
)

const refAttribute = "data-portalpilot-ref"

// visibleScript mirrors what a user can see: a rendered box and a visibility
// other than hidden.
const visibleScript = `function visible(el) {
    var style = window.getComputedStyle(el);
    if (!style || style.visibility === "hidden" || style.display === "none") { return false; }
    var rect = el.getBoundingClientRect();
    return !!(rect.top || rect.bottom || rect.width || rect.height) && el.getClientRects().length > 0;
  }`

func jsString(value string) string {
	encoded, _ := json.Marshal(value)
	return string(encoded)
}

// findScript tags the first match with ref and returns true, or returns false.
// It runs inside the target frame's own execution context.
func findScript(q Query, ref string) string {
	var match string
	v := jsString(q.Value)
	switch q.Kind {
	case ByID:
		match = fmt.Sprintf(`(function(){
      var nodes = d.querySelectorAll('[id="' + CSS.escape(%s) + '"]');
      for (var i = 0; i < nodes.length; i++) {
        if (visible(nodes[i])) { return nodes[i]; }
      }
      return null;
    })()`, v)
	case ByText:
		match = fmt.Sprintf(`(function(){
      var needle = %s.toLocaleLowerCase("tr-TR");
      var nodes = d.querySelectorAll("a, button");
      for (var i = 0; i < nodes.length; i++) {
        var text = (nodes[i].innerText || nodes[i].textContent || "").toLocaleLowerCase("tr-TR");
        if (text.indexOf(needle) >= 0) { return nodes[i]; }
      }
      return null;
    })()`, v)
	case ByHref:
		match = fmt.Sprintf(`(function(){
      var nodes = d.querySelectorAll("a[href]");
      for (var i = 0; i < nodes.length; i++) {
        if ((nodes[i].getAttribute("href") || "").indexOf(%s) >= 0) { return nodes[i]; }
      }
      return null;
    })()`, v)
	case ByXPath:
		match = fmt.Sprintf("d.evaluate(%s, d, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", v)
	default:
		match = fmt.Sprintf("d.querySelector(%s)", v)
	}
	return fmt.Sprintf(`(function(){
  var d = document;
  %s
  try {
    var el = %s;
    if (!el) { return false; }
    el.setAttribute(%q, %s);
    return true;
  } catch (e) { return false; }
})()`, visibleScript, match, refAttribute, jsString(ref))
}

// elementScript runs body against the element tagged with ref. body sees the
// element as el and the value argument as v; it may return a string.
func elementScript(ref, value, body string) string {
	return fmt.Sprintf(`(function(){
  var d = document;
  var el = d.querySelector('[%s="' + %s + '"]');
  if (!el) { return "stale"; }
  var v = %s;
  try {
    %s
  } catch (e) { return "error: " + e.message; }
  return "ok";
})()`, refAttribute, jsString(ref), jsString(value), body)
}

const (
	clickBody = `el.scrollIntoView({block: "center"}); el.click();`
	valueBody = `el.focus(); el.value = v;
    el.dispatchEvent(new Event("input", {bubbles: true}));
    el.dispatchEvent(new Event("change", {bubbles: true}));`
	selectBody = `var found = false;
    for (var i = 0; i < el.options.length; i++) { if (el.options[i].value === v) { found = true; } }
    if (!found) { return "error: option " + v + " not present"; }
    el.value = v;
    el.dispatchEvent(new Event("change", {bubbles: true}));`
	innerHTMLBody = `el.innerHTML = v;
    el.dispatchEvent(new Event("input", {bubbles: true}));`
	textBody = `return "text:" + (el.innerText || el.textContent || el.value || "");`
)
