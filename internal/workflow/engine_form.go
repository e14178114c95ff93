package workflow

import (
	"context"
	"strings"
	"time"

	"portalpilot/internal/browser"
	"portalpilot/internal/locator"
	"portalpilot/internal/logging"
	"portalpilot/internal/queue"
)

type fieldKind int

const (
	fieldInput fieldKind = iota
	fieldSelect
	fieldEditor
)

// formField is one fill step. Optional fields log and continue when their
// element is missing; required ones fail the item.
type formField struct {
	step     int
	name     string
	kind     fieldKind
	spec     locator.Spec
	frame    string
	value    string
	optional bool
}

func (e *Engine) formFields(payload queue.Payload) []formField {
	p := e.cfg.Portal
	return []formField{
		{step: StepTitle, name: "title", kind: fieldInput, spec: locator.Spec{Name: "title input", ID: p.TitleInputID}, value: payload.Title},
		{step: StepEndDate, name: "end date", kind: fieldInput, spec: locator.Spec{Name: "end date input", Path: p.EndDateXPath}, value: p.EndDateValue, optional: true},
		{step: StepContentSource, name: "content source", kind: fieldSelect, spec: locator.Spec{Name: "content source select", ID: p.ContentSourceID}, value: p.ContentSourceValue, optional: true},
		{step: StepDescription, name: "description", kind: fieldInput, spec: locator.Spec{Name: "description input", ID: p.DescriptionID}, value: payload.Description},
		{step: StepTags, name: "tags", kind: fieldInput, spec: locator.Spec{Name: "tags input", ID: p.TagsID}, value: strings.Join(payload.Tags, ", ")},
		{step: StepShortContent, name: "short content", kind: fieldEditor, frame: p.ShortContentFrameID, value: payload.ShortContent},
		{step: StepDetailContent, name: "detailed content", kind: fieldEditor, frame: p.DetailContentFrame, value: payload.DetailedContent},
	}
}

// fillForm runs steps 8 through 14. Fields with no value are skipped.
func (e *Engine) fillForm(ctx context.Context, payload queue.Payload) error {
	for _, field := range e.formFields(payload) {
		if err := e.fillField(ctx, field); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fillField(ctx context.Context, field formField) error {
	stepCtx, cancel, err := e.enterStep(ctx, field.step)
	defer cancel()
	if err != nil {
		return err
	}
	logger := logging.WithContext(stepCtx, e.logger)
	if strings.TrimSpace(field.value) == "" {
		logger.Debug("field empty; nothing to fill", logging.String("field", field.name))
		return nil
	}
	if field.kind != fieldEditor && len(field.spec.Attempts()) == 0 {
		logger.Debug("field has no locator configured", logging.String("field", field.name))
		return nil
	}

	page := e.activePage()
	if page == nil {
		return e.notFoundError(field.step, "active page")
	}

	var el browser.Element
	if field.kind == fieldEditor {
		el, err = e.editorBody(stepCtx, page, field.frame)
	} else {
		var match *locator.Match
		match, err = e.locator.Find(stepCtx, page, field.spec)
		if match != nil {
			el = match.Element
		}
	}
	if err == nil && el != nil {
		switch field.kind {
		case fieldSelect:
			err = el.SelectValue(stepCtx, field.value)
		case fieldEditor:
			err = el.SetInnerHTML(stepCtx, field.value)
		default:
			err = el.SetValue(stepCtx, field.value)
		}
	}

	switch {
	case err == nil && el != nil:
		logger.Debug("field filled", logging.String("field", field.name))
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case field.optional:
		logging.WarnWithContext(logger, "optional field not filled", "field_skipped",
			logging.String("field", field.name),
			logging.String("reason", describeMiss(err)),
			logging.String(logging.FieldImpact, "portal default is kept for this field"),
		)
		return nil
	case err != nil:
		return e.stepError(field.step, "fill "+field.name, err)
	default:
		return e.notFoundError(field.step, field.name+" field")
	}
}

// editorBody finds the rich-text editor frame by name or id and returns its
// editable body, polling until ctx ends since editors initialise late.
func (e *Engine) editorBody(ctx context.Context, page browser.Page, frameName string) (browser.Element, error) {
	frameName = strings.TrimSpace(frameName)
	if frameName == "" {
		return nil, nil
	}
	selector := e.cfg.Portal.EditorBodySelector
	if strings.TrimSpace(selector) == "" {
		selector = "body"
	}
	for {
		frames, err := page.Frames(ctx)
		if err != nil {
			return nil, err
		}
		for _, frame := range frames {
			if frame.IsMain() || frame.Name() != frameName {
				continue
			}
			queryCtx, cancel := context.WithTimeout(ctx, e.strategyTimeout())
			el, qerr := frame.Query(queryCtx, browser.Query{Kind: browser.ByCSS, Value: selector})
			cancel()
			if qerr == nil && el != nil {
				return el, nil
			}
		}
		if err := e.sleep(ctx, 250*time.Millisecond); err != nil {
			return nil, err
		}
	}
}

func describeMiss(err error) string {
	if err == nil {
		return "element not found"
	}
	return err.Error()
}
