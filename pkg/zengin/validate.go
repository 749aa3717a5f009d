package zengin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/agentstation/zenginsync/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator with the domain rules registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterStructValidation(diffEntryRules, DiffEntry{})
	})
	return validate
}

// diffEntryRules enforces the per-action shape of a DiffEntry.
func diffEntryRules(sl validator.StructLevel) {
	e := sl.Current().Interface().(DiffEntry)
	switch e.Action {
	case ActionCreate:
		if e.NewData == nil {
			sl.ReportError(e.NewData, "NewData", "new_data", "required_for_create", "")
		}
		if e.OldData != nil {
			sl.ReportError(e.OldData, "OldData", "old_data", "excluded_for_create", "")
		}
	case ActionUpdate:
		if e.OldData == nil {
			sl.ReportError(e.OldData, "OldData", "old_data", "required_for_update", "")
		}
		if e.NewData == nil {
			sl.ReportError(e.NewData, "NewData", "new_data", "required_for_update", "")
		}
	case ActionDelete:
		if e.OldData == nil {
			sl.ReportError(e.OldData, "OldData", "old_data", "required_for_delete", "")
		}
		if e.NewData != nil {
			sl.ReportError(e.NewData, "NewData", "new_data", "excluded_for_delete", "")
		}
	}
	if s := e.Snapshot(); s.SwiftCode != "" && e.Key != s.Key().String() {
		sl.ReportError(e.Key, "Key", "key", "key_mismatch", s.Key().String())
	}
}

// ValidateEntry checks a single DiffEntry.
func ValidateEntry(e DiffEntry) error {
	return ValidateStruct(e)
}

// ValidateStruct validates any tagged struct and converts the failure into a
// ValidationError naming the offending fields.
func ValidateStruct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.WrapValidation("", err)
	}
	fields := make([]string, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return errors.NewValidationError(strings.Join(fields, ","), v, strings.Join(msgs, "; "))
}
