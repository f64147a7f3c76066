// internal/browser/scripts.go
package browser

// Functions below are called with runtime.callFunctionOn; "this" is the
// object the call targets (a document or an element).

// jsListFrames is an expression, evaluated in the root document.
const jsListFrames = `Array.from(document.querySelectorAll('iframe, frame')).map(f => ({
	name: f.getAttribute('name') || '',
	id: f.id || ''
}))`

// jsFrameDocument returns the document of the i-th first-level frame, or null
// when it is missing or cross-origin.
const jsFrameDocument = `function(i) {
	const f = this.querySelectorAll('iframe, frame')[i];
	if (!f) return null;
	try { return f.contentDocument; } catch (e) { return null; }
}`

// jsQuery runs a CSS or XPath query relative to "this" and returns an array
// of element nodes.
const jsQuery = `function(by, value) {
	const root = this;
	if (by === 'xpath') {
		const doc = root.nodeType === 9 ? root : root.ownerDocument;
		const snap = doc.evaluate(value, root, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < snap.snapshotLength; i++) {
			const n = snap.snapshotItem(i);
			if (n && n.nodeType === 1) out.push(n);
		}
		return out;
	}
	return Array.from(root.querySelectorAll(value));
}`

const jsVisible = `function() {
	if (!this.isConnected) return false;
	const style = this.ownerDocument.defaultView.getComputedStyle(this);
	if (style.visibility === 'hidden' || style.display === 'none' || Number(style.opacity) === 0) return false;
	const r = this.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`

const jsEnabled = `function() {
	if (this.disabled) return false;
	if (this.getAttribute('aria-disabled') === 'true') return false;
	return !this.closest('fieldset[disabled]');
}`

const jsConnected = `function() { return this.isConnected; }`

const jsMatches = `function(sel) { return this.matches(sel); }`

const jsText = `function() { return (this.innerText !== undefined ? this.innerText : this.textContent) || ''; }`

const jsAttribute = `function(name) {
	return this.hasAttribute(name) ? { ok: true, value: this.getAttribute(name) } : { ok: false, value: '' };
}`

// jsCentre returns the viewport centre of the element in top-level page
// coordinates, adding frame offsets for elements inside frames.
const jsCentre = `function() {
	const r = this.getBoundingClientRect();
	let x = r.left + r.width / 2, y = r.top + r.height / 2;
	let win = this.ownerDocument.defaultView;
	while (win && win.frameElement) {
		const fr = win.frameElement.getBoundingClientRect();
		x += fr.left; y += fr.top;
		win = win.parent;
	}
	return { x: x, y: y, w: r.width, h: r.height };
}`

const jsScrollIntoView = `function() { this.scrollIntoView({ block: 'center', inline: 'center' }); }`

const jsScriptClick = `function() { this.click(); }`

const jsDispatchClick = `function() {
	const view = this.ownerDocument.defaultView;
	for (const type of ['mousedown', 'mouseup', 'click']) {
		this.dispatchEvent(new MouseEvent(type, { bubbles: true, cancelable: true, view: view, button: 0 }));
	}
}`

const jsFocusClear = `function() {
	this.focus();
	if ('value' in this) this.value = '';
}`

const jsSetValue = `function(v) {
	this.focus();
	const proto = Object.getPrototypeOf(this);
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) { desc.set.call(this, v); } else { this.value = v; }
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`
