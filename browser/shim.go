package browser

import (
	"encoding/json"
	"fmt"
	"strings"

	"movekey/dispatch"
)

// bindingName is the runtime binding the shim reports keydowns through.
const bindingName = "__movekeyKey"

// shimScript is installed in every new top-level document. It keeps a
// capturing keydown listener that is off until enable() is called. Keys in
// the command set that would not be ignored are consumed on the spot and
// forwarded to the binding; the dispatcher decides what they do.
const shimScript = `(() => {
  if (window.top !== window || window.__movekey) return;

  const nonText = new Set(['button', 'checkbox', 'file', 'hidden', 'image', 'radio', 'reset', 'submit']);
  const state = { keys: new Set(), editors: '', inputs: [], on: false };

  const isEditable = (el) => !!el && !el.disabled && (
    el.localName === 'textarea' || el.localName === 'select' || el.isContentEditable ||
    (el.localName === 'input' && !nonText.has(String(el.type).toLowerCase())) ||
    (state.editors !== '' && typeof el.matches === 'function' && el.matches(state.editors)));

  const describe = (el) => el ? {
    tag: el.localName || '',
    type: el.getAttribute ? (el.getAttribute('type') || '') : '',
    id: el.id || '',
    classes: el.classList ? Array.from(el.classList) : [],
    disabled: !!el.disabled,
    contentEditable: !!el.isContentEditable,
  } : null;

  const keydown = (e) => {
    const el = e.target instanceof Element ? e.target : document.activeElement;
    if (e.altKey || e.ctrlKey || e.metaKey || e.isComposing || isEditable(el)) return;
    if (!state.keys.has(e.key)) return;
    e.stopPropagation();
    e.preventDefault();
    window.` + bindingName + `(JSON.stringify({
      key: e.key, alt: e.altKey, ctrl: e.ctrlKey, meta: e.metaKey,
      composing: e.isComposing, target: describe(el),
    }));
  };

  const textInput = (el) => {
    if (el.localName === 'input') {
      return !el.disabled && !el.readOnly && !nonText.has(String(el.getAttribute('type') || '').toLowerCase());
    }
    if (el.localName === 'textarea') return true;
    const v = (el.getAttribute('contenteditable') || '').trim().toLowerCase();
    return v === '' || v === 'true';
  };

  window.__movekey = {
    enable(keys, editors) {
      state.keys = new Set(keys);
      state.editors = editors;
      if (!state.on) {
        document.addEventListener('keydown', keydown, true);
        state.on = true;
      }
      return true;
    },
    disable() {
      if (state.on) {
        document.removeEventListener('keydown', keydown, true);
        state.on = false;
      }
      return true;
    },
    inputs() {
      state.inputs = Array.from(document.querySelectorAll('input, textarea, [contenteditable]')).filter(textInput);
      return state.inputs.map((el, index) => ({
        index,
        tabIndex: el.tabIndex,
        visibility: getComputedStyle(el).visibility,
        rects: Array.from(el.getClientRects(), (r) => ({ left: r.left, top: r.top, right: r.right, bottom: r.bottom })),
      }));
    },
    focus(index) {
      const el = state.inputs[index];
      if (!el || !el.isConnected) return false;
      el.focus();
      if (typeof el.select === 'function') el.select();
      return true;
    },
  };
})();`

// keyPayload is the JSON the shim sends through the binding.
type keyPayload struct {
	Key       string           `json:"key"`
	Alt       bool             `json:"alt"`
	Ctrl      bool             `json:"ctrl"`
	Meta      bool             `json:"meta"`
	Composing bool             `json:"composing"`
	Target    *dispatch.Target `json:"target"`
}

func decodeKey(payload string) (dispatch.KeyEvent, error) {
	var p keyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return dispatch.KeyEvent{}, fmt.Errorf("decoding key payload: %w", err)
	}
	return dispatch.KeyEvent{
		Key:       p.Key,
		Alt:       p.Alt,
		Ctrl:      p.Ctrl,
		Meta:      p.Meta,
		Composing: p.Composing,
		Target:    p.Target,
	}, nil
}

// enableScript switches the shim's listener on for keys, treating elements
// matching editors as editable.
func enableScript(keys []string, editors []string) string {
	k, _ := json.Marshal(keys)
	e, _ := json.Marshal(strings.Join(editors, ","))
	return fmt.Sprintf("window.__movekey && window.__movekey.enable(%s, %s)", k, e)
}

const disableScript = "window.__movekey && window.__movekey.disable()"
