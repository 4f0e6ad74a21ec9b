package wizard

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/jacobsvennevik/marepo/internal/extract"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	// custom validation tags
	notBlankTag     = "notblank"
	datedItemTag    = "dated_item"
	datedItemFields = []string{"title", "date"}
)

func init() {
	validate = validator.New()

	// English error messages for validation errors.
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	validate.RegisterStructValidation(datedItemValidation, extract.DatedItem{})

	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range []string{notBlankTag, datedItemTag} {
		_ = validate.RegisterTranslation(tag, translator, registerFn, translateCustom)
	}
}

func translateCustom(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return fe.Field() + " cannot be blank"
	case datedItemTag:
		return fe.Field() + " is required on every timeline entry"
	default:
		return ""
	}
}

func notBlankValidation(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// datedItemValidation requires a title and a date on every timeline entry.
func datedItemValidation(sl validator.StructLevel) {
	item, ok := sl.Current().Interface().(extract.DatedItem)
	if !ok {
		return
	}
	if strings.TrimSpace(item.Title) == "" {
		sl.ReportError(item.Title, "title", "Title", datedItemTag, "")
	}
	if strings.TrimSpace(item.Date) == "" {
		sl.ReportError(item.Date, "date", "Date", datedItemTag, "")
	}
}

// FieldErrors maps a field's JSON name to its translated message.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = e[k]
	}
	return "invalid wizard data: " + strings.Join(parts, "; ")
}

// Validate checks all of d.
func (d Data) Validate() error {
	return toFieldErrors(validate.Struct(d))
}

// ValidateFields checks only the named struct fields, e.g. "ProjectName".
func (d Data) ValidateFields(fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return toFieldErrors(validate.StructPartial(d, fields...))
}

func toFieldErrors(err error) error {
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validate: %w", err)
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		key := strings.TrimPrefix(fe.Namespace(), "Data.")
		out[key] = fe.Translate(translator)
	}
	return out
}
