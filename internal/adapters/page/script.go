package page

// bootstrapScript runs once per document. It installs the style sheet for
// the markers and forwards scroll, focus, hashchange and visibility
// activity to the binding. Guarded so re-evaluation is a no-op.
const bootstrapScript = `(function() {
  if (window.__mailsentryHooked) { return; }
  window.__mailsentryHooked = true;

  var emit = function(kind) {
    try { window.` + eventBinding + `(kind); } catch (e) {}
  };

  window.addEventListener('scroll', function() { emit('scroll'); }, { passive: true, capture: true });
  window.addEventListener('focus', function() { emit('focus'); });
  window.addEventListener('hashchange', function() { emit('hashchange'); });
  document.addEventListener('visibilitychange', function() {
    emit('visibility:' + document.visibilityState);
  });

  var style = document.createElement('style');
  style.textContent = [
    '.mailsentry-badge { display: inline-block; margin-left: 6px; padding: 1px 7px;',
    '  border-radius: 10px; font-size: 11px; font-weight: 700; color: #fff;',
    '  cursor: pointer; vertical-align: middle; user-select: none; }',
    '.mailsentry-badge.safe { background: #10b981; }',
    '.mailsentry-badge.suspicious { background: #fbbf24; color: #78350f; }',
    '.mailsentry-badge.malicious { background: #ef4444; }',
    '.mailsentry-badge.scanning { background: #9ca3af; }',
    '.mailsentry-badge.inline { margin-left: 3px; padding: 0 5px; font-size: 10px; }'
  ].join('\n');
  (document.head || document.documentElement).appendChild(style);
})();`

// listBadgesScript runs against a row and returns its markers.
const listBadgesScript = `function() {
  return Array.prototype.map.call(this.querySelectorAll('.mailsentry-badge'), function(b) {
    return {
      key: b.getAttribute('data-mailsentry-id') || '',
      level: b.getAttribute('data-ms-level') || '',
      score: parseInt(b.getAttribute('data-ms-score') || '0', 10) || 0,
      scanning: b.getAttribute('data-ms-state') === 'scanning'
    };
  });
}`

const removeBadgesScript = `function() {
  Array.prototype.forEach.call(this.querySelectorAll('.mailsentry-badge'), function(b) {
    b.remove();
  });
}`

// insertBadgeScript runs against the anchor element and places the marker
// immediately after it.
const insertBadgeScript = `function(spec) {
  var el = document.createElement('span');
  el.className = 'mailsentry-badge ' +
    (spec.scanning ? 'scanning' : spec.level) +
    (spec.inline ? ' inline' : '');
  el.setAttribute('data-mailsentry-id', spec.key);
  el.setAttribute('data-ms-level', spec.level || '');
  el.setAttribute('data-ms-score', String(spec.score || 0));
  el.setAttribute('data-ms-state', spec.scanning ? 'scanning' : 'done');
  el.title = spec.tooltip || '';
  el.textContent = spec.scanning ? '…'
    : spec.level === 'malicious' ? '✕'
    : spec.level === 'suspicious' ? '!'
    : '✓';
  if (spec.deepLink) {
    el.addEventListener('click', function(ev) {
      ev.stopPropagation();
      ev.preventDefault();
      try { window.open(spec.deepLink, '_blank'); } catch (e) {}
    });
  }
  this.after(el);
}`

// repaintBadgeScript runs against the row, rewrites the marker matching
// spec.key in place and reports whether it found one.
const repaintBadgeScript = `function(spec) {
  var sel = '.mailsentry-badge[data-mailsentry-id="' +
    String(spec.key).replace(/\\/g, '\\\\').replace(/"/g, '\\"') + '"]';
  var b = this.querySelector(sel);
  if (!b) { return false; }
  b.className = 'mailsentry-badge ' + spec.level + (spec.inline ? ' inline' : '');
  b.setAttribute('data-ms-level', spec.level || '');
  b.setAttribute('data-ms-score', String(spec.score || 0));
  b.setAttribute('data-ms-state', 'done');
  b.title = spec.tooltip || '';
  b.textContent = spec.level === 'malicious' ? '✕'
    : spec.level === 'suspicious' ? '!'
    : '✓';
  return true;
}`
