package browser

// captureJS walks the visible document in tree order and reports one node per
// element that carries an ARIA role or is interactive. Elements without a role
// are flattened into their parent. The visited elements are kept on window so
// stampJS can tag them once refs are minted.
const captureJS = `(maxNodes, attr) => {
	const interactiveRoles = new Set([
		'button', 'link', 'checkbox', 'radio', 'textbox', 'searchbox', 'combobox',
		'listbox', 'option', 'menuitem', 'menuitemcheckbox', 'menuitemradio', 'tab',
		'switch', 'slider', 'spinbutton', 'treeitem',
	]);
	const textRoles = new Set([
		'button', 'link', 'heading', 'option', 'tab', 'menuitem', 'checkbox', 'radio',
		'switch', 'treeitem', 'columnheader',
	]);
	const clean = (s) => (s || '').replace(/\s+/g, ' ').trim();
	const directText = (el) => clean(Array.from(el.childNodes)
		.filter((n) => n.nodeType === Node.TEXT_NODE)
		.map((n) => n.textContent)
		.join(' '));

	const implicitRole = (el) => {
		const tag = el.tagName.toLowerCase();
		switch (tag) {
		case 'a': return el.hasAttribute('href') ? 'link' : '';
		case 'button': return 'button';
		case 'select': return (el.multiple || el.size > 1) ? 'listbox' : 'combobox';
		case 'option': return 'option';
		case 'textarea': return 'textbox';
		case 'input': {
			const type = (el.getAttribute('type') || 'text').toLowerCase();
			if (type === 'hidden') return '';
			if (type === 'checkbox') return 'checkbox';
			if (type === 'radio') return 'radio';
			if (type === 'range') return 'slider';
			if (type === 'number') return 'spinbutton';
			if (type === 'search') return 'searchbox';
			if (['button', 'submit', 'reset', 'image'].includes(type)) return 'button';
			return 'textbox';
		}
		case 'h1': case 'h2': case 'h3': case 'h4': case 'h5': case 'h6': return 'heading';
		case 'img': return el.getAttribute('alt') === '' ? '' : 'img';
		case 'nav': return 'navigation';
		case 'main': return 'main';
		case 'header': return 'banner';
		case 'footer': return 'contentinfo';
		case 'aside': return 'complementary';
		case 'form': return 'form';
		case 'dialog': return 'dialog';
		case 'ul': case 'ol': return 'list';
		case 'li': return 'listitem';
		case 'table': return 'table';
		case 'tr': return 'row';
		case 'td': return 'cell';
		case 'th': return 'columnheader';
		case 'p': return 'paragraph';
		}
		return el.isContentEditable ? 'textbox' : '';
	};

	const hidden = (el) => {
		if (el.getAttribute('aria-hidden') === 'true') return true;
		const style = window.getComputedStyle(el);
		return style.display === 'none' || style.visibility === 'hidden';
	};

	const labelOf = (el) => {
		const by = el.getAttribute('aria-labelledby');
		if (by) {
			const text = clean(by.split(/\s+/).map((id) => {
				const n = document.getElementById(id);
				return n ? n.textContent : '';
			}).join(' '));
			if (text) return text;
		}
		const aria = clean(el.getAttribute('aria-label'));
		if (aria) return aria;
		if (el.id) {
			const label = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (label && clean(label.textContent)) return clean(label.textContent);
		}
		const wrap = el.closest('label');
		if (wrap && wrap !== el && clean(wrap.textContent)) return clean(wrap.textContent);
		return '';
	};

	const nameOf = (el, role) => {
		const label = labelOf(el);
		if (label) return label;
		const tag = el.tagName.toLowerCase();
		if (tag === 'img') return clean(el.getAttribute('alt'));
		if (tag === 'input') {
			const type = (el.getAttribute('type') || '').toLowerCase();
			if (['button', 'submit', 'reset'].includes(type)) return clean(el.value);
			return clean(el.getAttribute('placeholder') || el.getAttribute('title'));
		}
		if (tag === 'textarea' || tag === 'select') {
			return clean(el.getAttribute('placeholder') || el.getAttribute('title'));
		}
		if (textRoles.has(role)) return clean(el.textContent);
		const own = directText(el);
		return own || clean(el.getAttribute('title'));
	};

	const valueOf = (el) => {
		const tag = el.tagName.toLowerCase();
		if (tag === 'select') {
			return Array.from(el.selectedOptions || []).map((o) => clean(o.textContent)).join(', ');
		}
		if (tag === 'textarea') return el.value || '';
		if (tag === 'input') {
			const type = (el.getAttribute('type') || 'text').toLowerCase();
			if (['checkbox', 'radio', 'button', 'submit', 'reset', 'image', 'password', 'file'].includes(type)) return '';
			return el.value || '';
		}
		return '';
	};

	const checkedOf = (el, role) => {
		const aria = el.getAttribute('aria-checked');
		if (aria) return aria;
		if (role !== 'checkbox' && role !== 'radio' && role !== 'switch') return '';
		if (el.indeterminate) return 'mixed';
		return el.checked ? 'true' : 'false';
	};

	const levelOf = (el, role) => {
		if (role !== 'heading') return 0;
		const aria = parseInt(el.getAttribute('aria-level') || '', 10);
		if (aria > 0) return aria;
		const m = /^h([1-6])$/i.exec(el.tagName);
		return m ? Number(m[1]) : 0;
	};

	const isInteractive = (el, role) => {
		if (interactiveRoles.has(role)) return true;
		if (el.hasAttribute('onclick')) return true;
		const tabindex = el.getAttribute('tabindex');
		return tabindex !== null && Number(tabindex) >= 0;
	};

	const nodes = [];
	const captured = [];
	const walk = (el, depth) => {
		if (nodes.length >= maxNodes || hidden(el)) return;
		let role = clean(el.getAttribute('role')).split(' ')[0] || implicitRole(el);
		const interactive = isInteractive(el, role);
		if (!role && interactive) role = 'generic';

		let childDepth = depth;
		if (role) {
			nodes.push({
				role,
				name: nameOf(el, role),
				depth,
				value: valueOf(el),
				level: levelOf(el, role),
				checked: checkedOf(el, role),
				disabled: el.disabled === true || el.getAttribute('aria-disabled') === 'true',
				interactive,
				prevRef: el.getAttribute(attr) || '',
			});
			captured.push(el);
			childDepth = depth + 1;
		}
		for (const child of Array.from(el.children)) walk(child, childDepth);
	};

	const root = document.body || document.documentElement;
	if (root) {
		for (const child of Array.from(root.children)) walk(child, 0);
	}
	window.__tabpilotCaptured = captured;
	return nodes;
}`

// stampJS replaces every ref marker on the page with the refs minted for the
// elements of the last capture.
const stampJS = `(markers, attr) => {
	document.querySelectorAll('[' + attr + ']').forEach((el) => el.removeAttribute(attr));
	const captured = window.__tabpilotCaptured || [];
	markers.forEach((ref, i) => {
		if (ref && captured[i]) captured[i].setAttribute(attr, ref);
	});
	return captured.length;
}`
