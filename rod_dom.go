package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

// rodDocument is a live browser tab.
type rodDocument struct {
	page   *rod.Page
	logger *zap.Logger
}

func newRodDocument(page *rod.Page, logger *zap.Logger) *rodDocument {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &rodDocument{page: page, logger: logger.Named("rod")}
}

func (d *rodDocument) URL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (d *rodDocument) Find(ctx context.Context, selector string) (Element, error) {
	ok, el, err := d.page.Context(ctx).Has(selector)
	if err != nil || !ok {
		return nil, err
	}
	return &rodElement{el: el}, nil
}

func (d *rodDocument) FindAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapRodElements(els), nil
}

// ObserveMutations installs a MutationObserver on the body that calls back
// into Go through an exposed binding.
func (d *rodDocument) ObserveMutations(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	var (
		mu     sync.Mutex
		closed bool
	)

	name := "railfillMutations_" + uuid.NewString()[:8]
	stop, err := d.page.Expose(name, func(gson.JSON) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil, nil
		}
		select {
		case ch <- struct{}{}:
		default:
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expose mutation binding: %w", err)
	}

	_, err = d.page.Eval(`(name) => {
		const target = document.body || document.documentElement;
		const observer = new MutationObserver(() => window[name]({}));
		observer.observe(target, { childList: true, subtree: true });
		window[name + '_observer'] = observer;
	}`, name)
	if err != nil {
		_ = stop()
		return nil, fmt.Errorf("failed to install mutation observer: %w", err)
	}
	d.logger.Debug("mutation observer installed", zap.String("binding", name))

	go func() {
		<-ctx.Done()
		_, _ = d.page.Eval(`(name) => {
			const observer = window[name + '_observer'];
			if (observer) observer.disconnect();
		}`, name)
		_ = stop()

		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
		d.logger.Debug("mutation observer disconnected", zap.String("binding", name))
	}()
	return ch, nil
}

type rodElement struct {
	el *rod.Element
}

func wrapRodElements(els rod.Elements) []Element {
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el}
	}
	return out
}

func (e *rodElement) Find(ctx context.Context, selector string) (Element, error) {
	ok, el, err := e.el.Context(ctx).Has(selector)
	if err != nil || !ok {
		return nil, err
	}
	return &rodElement{el: el}, nil
}

func (e *rodElement) FindAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapRodElements(els), nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.textContent || ''`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Value(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.value == null ? '' : String(this.value)`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// SetValue goes through the prototype setter so framework value trackers
// notice the change.
func (e *rodElement) SetValue(ctx context.Context, value string) error {
	_, err := e.el.Context(ctx).Eval(`(v) => {
		const desc = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(this), 'value');
		if (desc && desc.set) desc.set.call(this, v); else this.value = v;
	}`, value)
	return err
}

func (e *rodElement) Attr(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Opacity(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => getComputedStyle(this).opacity`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Dispatch(ctx context.Context, evs ...Event) error {
	el := e.el.Context(ctx)
	for _, ev := range evs {
		_, err := el.Eval(`(type, key) => {
			const init = { bubbles: true, cancelable: true };
			let ev;
			if (type.startsWith('key')) {
				ev = new KeyboardEvent(type, Object.assign({ key }, init));
			} else if (type.startsWith('pointer')) {
				ev = new PointerEvent(type, init);
			} else if (type.startsWith('mouse') || type === 'click') {
				ev = new MouseEvent(type, Object.assign({ view: window }, init));
			} else if (type === 'focus' || type === 'blur') {
				ev = new FocusEvent(type);
			} else {
				ev = new Event(type, init);
			}
			this.dispatchEvent(ev);
		}`, ev.Type, ev.Key)
		if err != nil {
			return fmt.Errorf("failed to dispatch %s: %w", ev.Type, err)
		}
	}
	return nil
}

func (e *rodElement) Click(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)
	return err
}

func (e *rodElement) Focus(ctx context.Context) error {
	return e.el.Context(ctx).Focus()
}

func (e *rodElement) Blur(ctx context.Context) error {
	return e.el.Context(ctx).Blur()
}

func (e *rodElement) SetSelected(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => { this.selected = true; }`)
	return err
}

func (e *rodElement) ScrollIntoView(ctx context.Context) error {
	return e.el.Context(ctx).ScrollIntoView()
}
